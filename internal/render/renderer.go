package render

import (
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"edgecam/internal/effect"
	"edgecam/internal/frame"
	"edgecam/internal/slot"
)

// Sink receives a copy of every rendered frame that came from a fresh
// upload. The export side-channel implements it.
type Sink interface {
	Publish(f *frame.Buffer, e effect.Effect)
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option { return func(r *Renderer) { r.logger = l } }

// WithSink publishes rendered frames to s.
func WithSink(s Sink) Option { return func(r *Renderer) { r.sink = s } }

// Renderer consumes processed frames from the slot and draws them. Every
// method except SetEffect, EffectName and Stats must be called from the
// goroutine that owns the backend.
type Renderer struct {
	backend Backend
	slot    *slot.Slot
	effects *effect.Selector
	sink    Sink
	logger  *zap.Logger

	hasTexture bool

	draws   atomic.Uint64
	uploads atomic.Uint64
}

// New returns a renderer reading from s. effects is normally the selector
// shared with the pipeline; nil gets a private one.
func New(b Backend, s *slot.Slot, effects *effect.Selector, opts ...Option) *Renderer {
	if effects == nil {
		effects = effect.NewSelector(effect.Normal)
	}
	r := &Renderer{
		backend: b,
		slot:    s,
		effects: effects,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SurfaceCreated initializes the backend.
func (r *Renderer) SurfaceCreated() error {
	if err := r.backend.Setup(); err != nil {
		return errors.Wrap(err, "render: backend setup")
	}
	r.logger.Debug("surface created")
	return nil
}

// SurfaceChanged resizes the viewport.
func (r *Renderer) SurfaceChanged(width, height int) {
	r.backend.Viewport(width, height)
	r.logger.Debug("surface changed", zap.Int("width", width), zap.Int("height", height))
}

// DrawFrame runs one redraw tick. A pending frame is uploaded and dropped;
// with nothing pending the previous texture is drawn again.
func (r *Renderer) DrawFrame() error {
	fresh := false
	if f, ok := r.slot.TakeLatest(); ok {
		if err := r.backend.Upload(f); err != nil {
			return errors.Wrap(err, "render: upload")
		}
		r.hasTexture = true
		fresh = true
		r.uploads.Inc()
	}

	e := r.effects.Get()
	if err := r.backend.Draw(e); err != nil {
		return errors.Wrap(err, "render: draw")
	}
	r.draws.Inc()

	if fresh && r.sink != nil {
		out, err := r.backend.ReadPixels()
		if err != nil {
			r.logger.Warn("read back failed", zap.Error(err))
			return nil
		}
		r.sink.Publish(out, e)
	}
	return nil
}

// SetEffect selects an effect by id. Ids outside [0,3] select Normal.
func (r *Renderer) SetEffect(id int) {
	r.effects.Set(effect.FromID(id))
	r.logger.Debug("effect changed", zap.Int("id", id), zap.Stringer("effect", r.effects.Get()))
}

// EffectName names the active effect.
func (r *Renderer) EffectName() string { return r.effects.Get().String() }

// HasTexture reports whether any frame has been uploaded.
func (r *Renderer) HasTexture() bool { return r.hasTexture }

// Stats returns the number of draws and uploads so far.
func (r *Renderer) Stats() (draws, uploads uint64) {
	return r.draws.Load(), r.uploads.Load()
}

// Close releases the backend. Any frame still in the slot is discarded.
func (r *Renderer) Close() error {
	if _, ok := r.slot.TakeLatest(); ok {
		r.logger.Debug("discarded pending frame on close")
	}
	r.hasTexture = false
	return errors.Wrap(r.backend.Release(), "render: release")
}
