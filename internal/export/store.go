// Package export keeps the latest rendered frame for the viewer and writes
// it to disk on a schedule.
package export

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"edgecam/internal/effect"
	"edgecam/internal/frame"
)

// fpsSmoothing is the weight of the newest interval in the publish-rate
// moving average.
const fpsSmoothing = 0.2

// Snapshot is one rendered frame as published by the renderer.
type Snapshot struct {
	Frame   *frame.Buffer
	Effect  effect.Effect
	Seq     uint64
	Updated time.Time
}

// Store is the export side-channel. The renderer publishes into it; HTTP
// handlers and the persister read from it without touching the frame slot.
// Published frames are never mutated, so readers may share them.
type Store struct {
	clock clock.Clock

	mu     sync.Mutex
	latest Snapshot
	ch     chan struct{}
	fps    float64
}

// NewStore returns an empty store. A nil clock uses the wall clock.
func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{clock: clk, ch: make(chan struct{})}
}

// Publish replaces the latest snapshot and wakes every waiter.
func (s *Store) Publish(f *frame.Buffer, e effect.Effect) {
	now := s.clock.Now()
	s.mu.Lock()
	if !s.latest.Updated.IsZero() {
		if dt := now.Sub(s.latest.Updated).Seconds(); dt > 0 {
			inst := 1 / dt
			if s.fps == 0 {
				s.fps = inst
			} else {
				s.fps = fpsSmoothing*inst + (1-fpsSmoothing)*s.fps
			}
		}
	}
	s.latest = Snapshot{Frame: f, Effect: e, Seq: s.latest.Seq + 1, Updated: now}
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

// Latest returns the newest snapshot; ok is false before the first publish.
func (s *Store) Latest() (snap Snapshot, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latest.Frame != nil
}

// Seq returns the sequence number of the newest snapshot.
func (s *Store) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest.Seq
}

// FPS returns the smoothed publish rate.
func (s *Store) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

// WaitNext returns a channel that is closed once a snapshot newer than
// since has been published.
func (s *Store) WaitNext(since uint64) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if since != s.latest.Seq {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.ch
}
