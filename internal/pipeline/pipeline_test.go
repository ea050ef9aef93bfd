package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"

	"edgecam/internal/edge"
	"edgecam/internal/effect"
	"edgecam/internal/frame"
	"edgecam/internal/slot"
)

const waitFor = 2 * time.Second

func whiteFrame(w, h int) *frame.Buffer {
	px := make([]uint32, w*h)
	for i := range px {
		px[i] = 0xFFFFFFFF
	}
	return &frame.Buffer{Width: w, Height: h, Pixels: px}
}

func notifier() (func(), chan struct{}) {
	ch := make(chan struct{}, 16)
	return func() { ch <- struct{}{} }, ch
}

func waitNotify(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSubmitDeliversDetectedFrame(t *testing.T) {
	s := slot.New()
	notify, delivered := notifier()
	p := New(s, WithLogger(zaptest.NewLogger(t)), WithRenderNotify(notify))
	p.Start()
	defer p.Close()

	in := whiteFrame(3, 3)
	require.True(t, p.Submit(in))
	waitNotify(t, delivered)

	out, ok := s.TakeLatest()
	require.True(t, ok)
	assert.Equal(t, edge.Detect(whiteFrame(3, 3)).Pixels, out.Pixels)
	assert.Equal(t, uint32(0xFF000000), out.At(1, 1))

	assert.Eventually(t, func() bool { return !p.Busy() }, waitFor, time.Millisecond)
	st := p.Stats()
	assert.Equal(t, uint64(1), st.Accepted)
	assert.Equal(t, uint64(1), st.Processed)
	assert.Zero(t, st.Dropped)
}

func TestSubmitDropsWhileBusy(t *testing.T) {
	s := slot.New()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	calls := atomic.NewInt32(0)
	notify, delivered := notifier()

	p := New(s, WithRenderNotify(notify), WithTransform(func(f *frame.Buffer) *frame.Buffer {
		calls.Inc()
		entered <- struct{}{}
		<-release
		return f
	}))
	p.Start()
	defer p.Close()

	require.True(t, p.Submit(whiteFrame(3, 3)))
	<-entered
	require.True(t, p.Busy())

	for i := 0; i < 5; i++ {
		assert.False(t, p.Submit(whiteFrame(3, 3)))
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, s.Version(), "dropped frames never reach the slot")

	close(release)
	waitNotify(t, delivered)
	assert.Eventually(t, func() bool { return !p.Busy() }, waitFor, time.Millisecond)

	assert.Equal(t, uint64(1), s.Version())
	st := p.Stats()
	assert.Equal(t, uint64(6), st.Submitted)
	assert.Equal(t, uint64(5), st.Dropped)
	assert.Equal(t, int32(1), calls.Load())

	require.True(t, p.Submit(whiteFrame(3, 3)), "pipeline admits again once idle")
	waitNotify(t, delivered)
}

func TestTransformPanicIsContained(t *testing.T) {
	s := slot.New()
	notify, delivered := notifier()
	fail := atomic.NewBool(true)

	p := New(s, WithLogger(zaptest.NewLogger(t)), WithRenderNotify(notify),
		WithTransform(func(f *frame.Buffer) *frame.Buffer {
			if fail.Load() {
				panic("corrupt frame")
			}
			return edge.Detect(f)
		}))
	p.Start()
	defer p.Close()

	require.True(t, p.Submit(whiteFrame(4, 4)))
	assert.Eventually(t, func() bool { return p.Stats().Failed == 1 && !p.Busy() }, waitFor, time.Millisecond)
	assert.Zero(t, s.Version())

	fail.Store(false)
	require.True(t, p.Submit(whiteFrame(4, 4)))
	waitNotify(t, delivered)
	assert.Equal(t, uint64(1), s.Version())
	assert.Equal(t, uint64(1), p.Stats().Processed)
}

func TestNilTransformResultIsAFailure(t *testing.T) {
	s := slot.New()
	p := New(s, WithTransform(func(*frame.Buffer) *frame.Buffer { return nil }))
	p.Start()
	defer p.Close()

	require.True(t, p.Submit(whiteFrame(3, 3)))
	assert.Eventually(t, func() bool { return p.Stats().Failed == 1 && !p.Busy() }, waitFor, time.Millisecond)
	assert.False(t, s.Pending())
}

func TestSubmitNilFrameIsDropped(t *testing.T) {
	p := New(slot.New())
	p.Start()
	defer p.Close()

	assert.False(t, p.Submit(nil))
	assert.False(t, p.Busy())
	assert.Equal(t, uint64(1), p.Stats().Dropped)
}

func TestSubmitBeforeStartIsDropped(t *testing.T) {
	s := slot.New()
	notify, delivered := notifier()
	p := New(s, WithRenderNotify(notify))
	defer p.Close()

	assert.False(t, p.Submit(whiteFrame(3, 3)))
	assert.False(t, p.Busy(), "a dropped frame must not hold the busy flag")

	p.Start()
	require.True(t, p.Submit(whiteFrame(3, 3)))
	waitNotify(t, delivered)
	assert.Equal(t, uint64(1), s.Version())

	st := p.Stats()
	assert.Equal(t, uint64(2), st.Submitted)
	assert.Equal(t, uint64(1), st.Dropped)
}

func TestCloseWaitsForInFlightFrame(t *testing.T) {
	s := slot.New()
	entered := make(chan struct{})
	release := make(chan struct{})
	finished := atomic.NewBool(false)

	p := New(s, WithTransform(func(f *frame.Buffer) *frame.Buffer {
		close(entered)
		<-release
		finished.Store(true)
		return f
	}))
	p.Start()
	require.True(t, p.Submit(whiteFrame(3, 3)))
	<-entered

	closed := make(chan struct{})
	go func() {
		_ = p.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a frame was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("Close did not return")
	}
	assert.True(t, finished.Load())
	assert.True(t, s.Pending())

	assert.False(t, p.Submit(whiteFrame(3, 3)), "closed pipeline drops")
	assert.NoError(t, p.Close(), "second close is a no-op")
}

func TestWorkerNeverRunsConcurrently(t *testing.T) {
	s := slot.New()
	inFlight := atomic.NewInt32(0)
	maxSeen := atomic.NewInt32(0)

	p := New(s, WithTransform(func(f *frame.Buffer) *frame.Buffer {
		n := inFlight.Inc()
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		time.Sleep(200 * time.Microsecond)
		inFlight.Dec()
		return f
	}))
	p.Start()

	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func() {
			for i := 0; i < 500; i++ {
				p.Submit(whiteFrame(2, 2))
			}
			done <- struct{}{}
		}()
	}
	for g := 0; g < 4; g++ {
		<-done
	}
	assert.Eventually(t, func() bool { return !p.Busy() }, waitFor, time.Millisecond)
	require.NoError(t, p.Close())

	st := p.Stats()
	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, uint64(2000), st.Submitted)
	assert.Equal(t, st.Submitted, st.Accepted+st.Dropped)
	assert.Equal(t, st.Accepted, st.Processed)
	assert.Equal(t, st.Processed, s.Version())
}

func TestSetEffectIsSharedWithSelector(t *testing.T) {
	sel := effect.NewSelector(effect.Normal)
	p := New(slot.New(), WithEffects(sel))

	p.SetEffect(effect.Sepia)
	assert.Equal(t, effect.Sepia, sel.Get())
	assert.Equal(t, effect.Sepia, p.Effect())

	p.SetEffect(effect.Effect(42))
	assert.Equal(t, effect.Normal, p.Effect())
	assert.Same(t, sel, p.Effects())
}
