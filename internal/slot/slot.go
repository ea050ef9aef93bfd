// Package slot provides a single-slot mailbox for handing the most recent
// processed frame from the pipeline worker to the render thread.
package slot

import (
	"sync"

	"edgecam/internal/frame"
)

// Slot holds at most one pending frame. A write replaces whatever is
// pending; a take removes it, so a frame is handed out at most once.
type Slot struct {
	mu          sync.Mutex
	current     *frame.Buffer
	version     uint64
	overwritten uint64
}

func New() *Slot { return &Slot{} }

// Write stores f as the pending frame and bumps the version. A frame that
// was still pending is released.
func (s *Slot) Write(f *frame.Buffer) {
	s.mu.Lock()
	if s.current != nil {
		s.overwritten++
	}
	s.current = f
	s.version++
	s.mu.Unlock()
}

// TakeLatest removes and returns the pending frame. The second result is
// false when nothing is pending, which is the normal idle state.
func (s *Slot) TakeLatest() (*frame.Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.current
	s.current = nil
	return f, f != nil
}

// Pending reports whether a frame is waiting to be taken.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Version counts writes since creation.
func (s *Slot) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Overwritten counts frames replaced before anyone took them.
func (s *Slot) Overwritten() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overwritten
}
