package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"edgecam/internal/effect"
	"edgecam/internal/export"
	"edgecam/internal/pipeline"
	"edgecam/internal/slot"
)

const (
	serverName    = "edgecam"
	serverVersion = "1.0.0"
)

// StatsSource reports pipeline counters.
type StatsSource interface {
	Stats() pipeline.Stats
}

// Saver writes the latest frame to disk on demand.
type Saver interface {
	SaveNow() (export.Snapshot, error)
	Path() string
}

// Deps are the components the HTTP API reads from. Pipeline, Slot and Saver
// may be nil.
type Deps struct {
	Store    *export.Store
	Effects  *effect.Selector
	Pipeline StatsSource
	Slot     *slot.Slot
	Saver    Saver
	Encode   export.EncodeConfig
	Logger   *zap.Logger
}

type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *zap.Logger
	instance   string
	started    time.Time

	// done is closed by Shutdown so long-running streams end.
	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	jpegSeq uint64
	jpeg    []byte
}

func New(bind string, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Effects == nil {
		d.Effects = effect.NewSelector(effect.Normal)
	}
	r := mux.NewRouter()
	s := &Server{
		httpServer: &http.Server{
			Addr:              bind,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		deps:     d,
		logger:   d.Logger,
		instance: uuid.NewString(),
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	s.httpServer.RegisterOnShutdown(func() {
		s.doneOnce.Do(func() { close(s.done) })
	})
	// every route also answers OPTIONS so browsers can preflight PUT and POST
	r.Use(mux.CORSMethodMiddleware(r), corsMiddleware)
	r.HandleFunc("/api/frame", s.handleFrame).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/stats", s.handleStats).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/effect", s.handleGetEffect).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/effect/{id}", s.handleSetEffect).Methods("PUT", "OPTIONS")
	r.HandleFunc("/api/save", s.handleSave).Methods("POST", "OPTIONS")
	r.HandleFunc("/snapshot.jpg", s.handleSnapshot).Methods("GET", "OPTIONS")
	r.HandleFunc("/stream.mjpg", s.handleMJPEG).Methods("GET", "OPTIONS")
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Instance is the random id reported by /api/health.
func (s *Server) Instance() string { return s.instance }

func (s *Server) ListenAndServe() error              { return s.httpServer.ListenAndServe() }
func (s *Server) Serve(l net.Listener) error         { return s.httpServer.Serve(l) }
func (s *Server) Shutdown(ctx context.Context) error { return s.httpServer.Shutdown(ctx) }

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// latestJPEG encodes the newest snapshot once per sequence number; every
// viewer of the same frame shares the bytes.
func (s *Server) latestJPEG() ([]byte, export.Snapshot, error) {
	snap, ok := s.deps.Store.Latest()
	if !ok {
		return nil, snap, export.ErrNoFrame
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jpeg != nil && s.jpegSeq == snap.Seq {
		return s.jpeg, snap, nil
	}
	b, err := export.EncodeJPEG(snap.Frame, s.deps.Encode)
	if err != nil {
		return nil, snap, err
	}
	s.jpeg, s.jpegSeq = b, snap.Seq
	return b, snap, nil
}

type frameResponse struct {
	Frame      *string  `json:"frame"`
	FPS        float64  `json:"fps"`
	Resolution string   `json:"resolution"`
	Timestamp  string   `json:"timestamp"`
	Effect     string   `json:"effect"`
	Effects    []string `json:"effects"`
	Seq        uint64   `json:"seq"`
	Status     string   `json:"status"`
	Message    string   `json:"message,omitempty"`
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	resp := frameResponse{
		Resolution: "0x0",
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Effect:     s.deps.Effects.Get().String(),
		Effects:    effect.Names(),
	}
	jpg, snap, err := s.latestJPEG()
	switch {
	case errors.Is(err, export.ErrNoFrame):
		resp.Status = "no_frame"
		resp.Message = "No processed frame available yet."
		writeJSON(w, http.StatusOK, resp)
		return
	case err != nil:
		resp.Status = "error"
		resp.Message = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	data := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpg)
	resp.Frame = &data
	resp.FPS = s.deps.Store.FPS()
	resp.Resolution = fmt.Sprintf("%dx%d", snap.Frame.Width, snap.Frame.Height)
	resp.Effect = snap.Effect.String()
	resp.Seq = snap.Seq
	resp.Status = "success"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"server":    serverName,
		"version":   serverVersion,
		"instance":  s.instance,
	})
}

type statsResponse struct {
	FrameAvailable bool            `json:"frameAvailable"`
	ServerUptime   float64         `json:"serverUptime"`
	Timestamp      string          `json:"timestamp"`
	FPS            float64         `json:"fps"`
	ExportSeq      uint64          `json:"exportSeq"`
	SlotVersion    uint64          `json:"slotVersion"`
	SlotOverwrites uint64          `json:"slotOverwrites"`
	Pipeline       *pipeline.Stats `json:"pipeline,omitempty"`
	Endpoints      []string        `json:"endpoints"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	_, ok := s.deps.Store.Latest()
	resp := statsResponse{
		FrameAvailable: ok,
		ServerUptime:   time.Since(s.started).Seconds(),
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		FPS:            s.deps.Store.FPS(),
		ExportSeq:      s.deps.Store.Seq(),
		Endpoints: []string{
			"/api/frame", "/api/health", "/api/stats", "/api/effect",
			"/api/save", "/snapshot.jpg", "/stream.mjpg",
		},
	}
	if s.deps.Slot != nil {
		resp.SlotVersion = s.deps.Slot.Version()
		resp.SlotOverwrites = s.deps.Slot.Overwritten()
	}
	if s.deps.Pipeline != nil {
		st := s.deps.Pipeline.Stats()
		resp.Pipeline = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

type effectResponse struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Effects []string `json:"effects"`
}

func (s *Server) effectResponse() effectResponse {
	e := s.deps.Effects.Get()
	return effectResponse{ID: int(e), Name: e.String(), Effects: effect.Names()}
}

func (s *Server) handleGetEffect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.effectResponse())
}

func (s *Server) handleSetEffect(w http.ResponseWriter, r *http.Request) {
	e, err := effect.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.deps.Effects.Set(e)
	s.logger.Info("effect selected", zap.Stringer("effect", e))
	writeJSON(w, http.StatusOK, s.effectResponse())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.deps.Saver == nil {
		writeError(w, http.StatusNotFound, errors.New("export is disabled"))
		return
	}
	snap, err := s.deps.Saver.SaveNow()
	if errors.Is(err, export.ErrNoFrame) {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		s.logger.Error("save failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":   s.deps.Saver.Path(),
		"seq":    snap.Seq,
		"effect": snap.Effect.String(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	jpg, _, err := s.latestJPEG()
	if errors.Is(err, export.ErrNoFrame) {
		http.Error(w, "no frame", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(jpg)
}

func (s *Server) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	mw := NewMJPEGWriter(w)
	notify := r.Context().Done()
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		// headers go out before the first frame so clients see the stream open
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
	}

	// a frame that already exists is sent right away
	var seq uint64
	for {
		select {
		case <-notify:
			return
		case <-s.done:
			return
		case <-s.deps.Store.WaitNext(seq):
			seq = s.deps.Store.Seq()
			jpg, _, err := s.latestJPEG()
			if err != nil {
				continue
			}
			if err := mw.WriteFrame(jpg); err != nil {
				s.logger.Debug("mjpeg client gone", zap.Error(err))
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"status": "error", "message": err.Error()})
}

// MJPEGWriter writes a multipart/x-mixed-replace stream of JPEG parts.
type MJPEGWriter struct {
	w        http.ResponseWriter
	boundary string
	started  bool
}

func NewMJPEGWriter(w http.ResponseWriter) *MJPEGWriter {
	b := "frame"
	w.Header().Set("Connection", "close")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", b))
	return &MJPEGWriter{w: w, boundary: b}
}

func (m *MJPEGWriter) WriteFrame(jpeg []byte) error {
	// no CRLF before the first boundary; some clients reject it
	lead := "\r\n"
	if !m.started {
		lead = ""
	}
	if _, err := fmt.Fprintf(m.w, "%s--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", lead, m.boundary, len(jpeg)); err != nil {
		return errors.Wrap(err, "mjpeg: part header")
	}
	m.started = true
	_, err := m.w.Write(jpeg)
	return errors.Wrap(err, "mjpeg: part body")
}
