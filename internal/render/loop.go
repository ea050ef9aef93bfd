package render

import (
	"context"
	"runtime"

	"go.uber.org/zap"
)

// Loop owns the render thread. It draws once per redraw request; requests
// that arrive while a draw is pending collapse into one.
type Loop struct {
	r        *Renderer
	logger   *zap.Logger
	requests chan struct{}
	width    int
	height   int
}

// NewLoop returns a loop for r. A zero width or height leaves the viewport
// following the frame size.
func NewLoop(r *Renderer, width, height int, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		r:        r,
		logger:   logger,
		requests: make(chan struct{}, 1),
		width:    width,
		height:   height,
	}
}

// RequestRender asks for a redraw and returns immediately.
func (l *Loop) RequestRender() {
	select {
	case l.requests <- struct{}{}:
	default:
	}
}

// Run pins the calling goroutine to its OS thread, sets up the renderer and
// serves redraw requests until ctx is done. The backend is released on the
// same thread before Run returns.
func (l *Loop) Run(ctx context.Context) (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := l.r.SurfaceCreated(); err != nil {
		return err
	}
	defer func() {
		if cerr := l.r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if l.width > 0 && l.height > 0 {
		l.r.SurfaceChanged(l.width, l.height)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.requests:
			if err := l.r.DrawFrame(); err != nil {
				// a bad frame only costs this tick
				l.logger.Warn("draw failed", zap.Error(err))
			}
		}
	}
}
