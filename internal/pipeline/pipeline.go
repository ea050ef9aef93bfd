// Package pipeline admits camera frames into a single background worker,
// dropping frames that arrive while the worker is busy, and delivers the
// transformed result to the frame slot and the renderer.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"edgecam/internal/edge"
	"edgecam/internal/effect"
	"edgecam/internal/frame"
	"edgecam/internal/slot"
)

// ErrNilResult is logged when a transform returns no frame.
var ErrNilResult = errors.New("pipeline: transform returned nil frame")

// Transform turns an admitted frame into the frame to render.
type Transform func(*frame.Buffer) *frame.Buffer

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithTransform replaces edge.Detect.
func WithTransform(t Transform) Option { return func(p *Pipeline) { p.transform = t } }

// WithRenderNotify sets the callback invoked after each delivered frame,
// typically a redraw request.
func WithRenderNotify(fn func()) Option { return func(p *Pipeline) { p.notify = fn } }

// WithEffects shares an effect selector with the renderer.
func WithEffects(s *effect.Selector) Option { return func(p *Pipeline) { p.effects = s } }

// WithClock sets the clock used for processing-time measurement.
func WithClock(c clock.Clock) Option { return func(p *Pipeline) { p.clock = c } }

// Pipeline is the processing stage between the frame source and the
// renderer. At most one frame is in flight at any time.
type Pipeline struct {
	logger    *zap.Logger
	transform Transform
	notify    func()
	effects   *effect.Selector
	clock     clock.Clock
	slot      *slot.Slot

	busy    atomic.Bool
	running atomic.Bool
	closed  atomic.Bool
	jobs    chan *frame.Buffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats counters
}

// New builds a pipeline that writes into s. Call Start before submitting.
func New(s *slot.Slot, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		logger:    zap.NewNop(),
		transform: edge.Detect,
		effects:   effect.NewSelector(effect.Normal),
		clock:     clock.New(),
		slot:      s,
		jobs:      make(chan *frame.Buffer, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the worker. Calling it again is a no-op.
func (p *Pipeline) Start() {
	if p.closed.Load() || !p.running.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(1)
	go p.run()
}

// Submit offers a frame to the worker and never blocks. It reports whether
// the frame was admitted; a frame that arrives while another one is in
// flight is dropped, not queued. Frames submitted before Start or after
// Close are dropped as well.
func (p *Pipeline) Submit(f *frame.Buffer) bool {
	p.stats.submitted.Inc()
	if f == nil || !p.running.Load() || p.closed.Load() || !p.busy.CompareAndSwap(false, true) {
		p.stats.dropped.Inc()
		return false
	}
	p.stats.accepted.Inc()
	// busy guarantees the channel is empty, so this send cannot block.
	p.jobs <- f
	return true
}

// Busy reports whether a frame is currently in flight.
func (p *Pipeline) Busy() bool { return p.busy.Load() }

// SetEffect selects the effect the renderer applies on its next draw.
func (p *Pipeline) SetEffect(e effect.Effect) {
	p.effects.Set(e)
	p.logger.Debug("effect changed", zap.Stringer("effect", p.effects.Get()))
}

// Effect returns the selected effect.
func (p *Pipeline) Effect() effect.Effect { return p.effects.Get() }

// Effects returns the selector shared with the renderer.
func (p *Pipeline) Effects() *effect.Selector { return p.effects }

// Close stops the worker and waits for any in-flight frame to finish.
// Frames submitted afterwards are dropped.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Debug("pipeline closed", p.Stats().fields()...)
	return nil
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case f := <-p.jobs:
			p.process(f)
		}
	}
}

func (p *Pipeline) process(f *frame.Buffer) {
	defer p.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			p.stats.failed.Inc()
			p.logger.Warn("frame transform failed",
				zap.Any("panic", r), zap.Int("width", f.Width), zap.Int("height", f.Height))
		}
	}()

	start := p.clock.Now()
	out := p.transform(f)
	if out == nil {
		p.stats.failed.Inc()
		p.logger.Warn("frame transform failed", zap.Error(ErrNilResult))
		return
	}
	p.slot.Write(out)
	p.stats.processed.Inc()
	p.stats.lastNanos.Store(int64(p.clock.Since(start) / time.Nanosecond))

	if p.notify != nil {
		p.notify()
	}
}
