package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"edgecam/internal/effect"
	"edgecam/internal/export"
	"edgecam/internal/frame"
	"edgecam/internal/pipeline"
	"edgecam/internal/slot"
)

type fakeStats struct{ st pipeline.Stats }

func (f fakeStats) Stats() pipeline.Stats { return f.st }

type fakeSaver struct {
	snap  export.Snapshot
	err   error
	calls int
}

func (f *fakeSaver) SaveNow() (export.Snapshot, error) {
	f.calls++
	return f.snap, f.err
}

func (f *fakeSaver) Path() string { return "/tmp/out.jpg" }

func solid(t *testing.T, w, h int, p uint32) *frame.Buffer {
	t.Helper()
	px := make([]uint32, w*h)
	for i := range px {
		px[i] = p
	}
	f, err := frame.New(w, h, px)
	require.NoError(t, err)
	return f
}

func newTestServer(t *testing.T) (*Server, Deps) {
	t.Helper()
	d := Deps{
		Store:    export.NewStore(nil),
		Effects:  effect.NewSelector(effect.Normal),
		Pipeline: fakeStats{st: pipeline.Stats{Submitted: 5, Accepted: 3, Dropped: 2, Processed: 3}},
		Slot:     slot.New(),
		Logger:   zaptest.NewLogger(t),
	}
	return New(":0", d), d
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestFrameWithoutPublish(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/api/frame")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp frameResponse
	decode(t, rec, &resp)
	assert.Equal(t, "no_frame", resp.Status)
	assert.Nil(t, resp.Frame)
	assert.Equal(t, "0x0", resp.Resolution)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestFrameReturnsDataURL(t *testing.T) {
	s, d := newTestServer(t)
	d.Store.Publish(solid(t, 8, 6, 0xFFFFFFFF), effect.Sepia)

	rec := do(t, s.Handler(), http.MethodGet, "/api/frame")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp frameResponse
	decode(t, rec, &resp)

	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "8x6", resp.Resolution)
	assert.Equal(t, "Sepia", resp.Effect)
	assert.Equal(t, effect.Names(), resp.Effects)
	assert.Equal(t, uint64(1), resp.Seq)

	require.NotNil(t, resp.Frame)
	const prefix = "data:image/jpeg;base64,"
	require.True(t, strings.HasPrefix(*resp.Frame, prefix))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(*resp.Frame, prefix))
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decode(t, rec, &resp)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, s.Instance(), resp["instance"])
	assert.Equal(t, serverVersion, resp["version"])
}

func TestStats(t *testing.T) {
	s, d := newTestServer(t)
	d.Slot.Write(solid(t, 2, 2, 0))
	d.Slot.Write(solid(t, 2, 2, 0))

	rec := do(t, s.Handler(), http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp statsResponse
	decode(t, rec, &resp)
	assert.False(t, resp.FrameAvailable)
	assert.Equal(t, uint64(2), resp.SlotVersion)
	assert.Equal(t, uint64(1), resp.SlotOverwrites)
	require.NotNil(t, resp.Pipeline)
	assert.Equal(t, uint64(2), resp.Pipeline.Dropped)
	assert.Contains(t, resp.Endpoints, "/stream.mjpg")
}

func TestEffectSelection(t *testing.T) {
	s, d := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodPut, "/api/effect/grayscale")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, effect.Grayscale, d.Effects.Get())

	rec = do(t, s.Handler(), http.MethodPut, "/api/effect/1")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp effectResponse
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.ID)
	assert.Equal(t, "Invert", resp.Name)

	// out-of-range ids fall back to Normal
	rec = do(t, s.Handler(), http.MethodPut, "/api/effect/42")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, effect.Normal, d.Effects.Get())

	rec = do(t, s.Handler(), http.MethodPut, "/api/effect/blur")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, effect.Normal, d.Effects.Get())

	rec = do(t, s.Handler(), http.MethodGet, "/api/effect")
	decode(t, rec, &resp)
	assert.Equal(t, "Normal", resp.Name)
}

func TestSave(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodPost, "/api/save")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	saver := &fakeSaver{err: export.ErrNoFrame}
	s.deps.Saver = saver
	rec = do(t, s.Handler(), http.MethodPost, "/api/save")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	saver.err = nil
	saver.snap = export.Snapshot{Seq: 7, Effect: effect.Invert}
	rec = do(t, s.Handler(), http.MethodPost, "/api/save")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	decode(t, rec, &resp)
	assert.Equal(t, "/tmp/out.jpg", resp["path"])
	assert.Equal(t, float64(7), resp["seq"])
	assert.Equal(t, 2, saver.calls)

	rec = do(t, s.Handler(), http.MethodGet, "/api/save")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSnapshot(t *testing.T) {
	s, d := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/snapshot.jpg")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	d.Store.Publish(solid(t, 4, 4, 0xFF000000), effect.Normal)
	rec = do(t, s.Handler(), http.MethodGet, "/snapshot.jpg")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	_, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
}

func TestSnapshotEncodesOncePerFrame(t *testing.T) {
	s, d := newTestServer(t)
	d.Store.Publish(solid(t, 4, 4, 0xFF000000), effect.Normal)

	a, _, err := s.latestJPEG()
	require.NoError(t, err)
	b, _, err := s.latestJPEG()
	require.NoError(t, err)
	assert.Same(t, &a[0], &b[0])

	d.Store.Publish(solid(t, 4, 4, 0xFFFFFFFF), effect.Normal)
	c, snap, err := s.latestJPEG()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Seq)
	assert.NotEqual(t, a, c)
}

func TestMJPEGStream(t *testing.T) {
	s, d := newTestServer(t)
	d.Store.Publish(solid(t, 4, 4, 0xFF000000), effect.Normal)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream.mjpg", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	mr := multipart.NewReader(resp.Body, params["boundary"])

	readPart := func() []byte {
		part, err := mr.NextPart()
		require.NoError(t, err)
		// a part only ends at the next boundary, so read by length
		n, err := strconv.Atoi(part.Header.Get("Content-Length"))
		require.NoError(t, err)
		b := make([]byte, n)
		_, err = io.ReadFull(part, b)
		require.NoError(t, err)
		return b
	}

	first := readPart()
	_, err = jpeg.Decode(bytes.NewReader(first))
	require.NoError(t, err)

	d.Store.Publish(solid(t, 4, 4, 0xFFFFFFFF), effect.Normal)
	second := readPart()
	_, err = jpeg.Decode(bytes.NewReader(second))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestPreflight(t *testing.T) {
	s, d := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodOptions, "/api/effect/1")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)
	assert.Equal(t, effect.Normal, d.Effects.Get(), "preflight must not run the handler")

	rec = do(t, s.Handler(), http.MethodOptions, "/api/save")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestShutdownEndsOpenStreams(t *testing.T) {
	s, d := newTestServer(t)
	d.Store.Publish(solid(t, 4, 4, 0xFF000000), effect.Normal)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/stream.mjpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := make([]byte, 16)
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, s.Shutdown(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, <-served, http.ErrServerClosed)

	// the stream ends instead of hanging
	_, err = io.Copy(io.Discard, resp.Body)
	assert.NoError(t, err)
}
