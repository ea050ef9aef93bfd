// Package camera produces frames for the processing pipeline.
package camera

import (
	"context"

	"go.uber.org/zap"

	"edgecam/internal/frame"
)

// Submitter accepts frames without blocking. The pipeline implements it.
type Submitter interface {
	Submit(f *frame.Buffer) bool
}

// Source pushes frames into a Submitter at its own cadence until ctx is
// done.
type Source interface {
	Run(ctx context.Context, sink Submitter) error
}

// Session receives device state changes. Sources call it from their own
// goroutine.
type Session interface {
	OnOpened()
	OnError(err error)
	OnDisconnected()
}

// NopSession ignores every event.
type NopSession struct{}

func (NopSession) OnOpened()       {}
func (NopSession) OnError(error)   {}
func (NopSession) OnDisconnected() {}

// LogSession logs every event.
type LogSession struct {
	Logger *zap.Logger
}

func (s LogSession) OnOpened()         { s.Logger.Info("camera opened") }
func (s LogSession) OnError(err error) { s.Logger.Warn("camera error", zap.Error(err)) }
func (s LogSession) OnDisconnected()   { s.Logger.Info("camera disconnected") }
