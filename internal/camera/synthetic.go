package camera

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"edgecam/internal/frame"
)

// SyntheticSource renders a test pattern: a vertical gray ramp with a white
// square sliding left to right. It stands in for a camera in demos and
// tests.
type SyntheticSource struct {
	width  int
	height int
	fps    int
	clock  clock.Clock
	logger *zap.Logger
}

// NewSyntheticSource returns a pattern generator. Sizes below 1 are raised to
// 1 and fps <= 0 becomes 30. A nil clock uses the wall clock.
func NewSyntheticSource(width, height, fps int, clk clock.Clock, logger *zap.Logger) *SyntheticSource {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if fps <= 0 {
		fps = 30
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyntheticSource{width: width, height: height, fps: fps, clock: clk, logger: logger}
}

// Frame renders pattern frame n.
func (s *SyntheticSource) Frame(n int) *frame.Buffer {
	w, h := s.width, s.height
	out := &frame.Buffer{Width: w, Height: h, Pixels: make([]uint32, w*h)}
	for y := 0; y < h; y++ {
		v := uint8(0)
		if h > 1 {
			v = uint8(y * 160 / (h - 1))
		}
		p := frame.Pack(0xFF, v, v, v)
		row := out.Pixels[y*w : (y+1)*w]
		for x := range row {
			row[x] = p
		}
	}

	side := h / 4
	if side < 1 {
		side = 1
	}
	if side > w {
		side = w
	}
	span := w - side + 1
	x0 := (n * 4) % span
	if x0 < 0 {
		x0 += span
	}
	y0 := (h - side) / 2
	for y := y0; y < y0+side; y++ {
		for x := x0; x < x0+side; x++ {
			out.Set(x, y, 0xFFFFFFFF)
		}
	}
	return out
}

// Run submits one frame per tick until ctx is done.
func (s *SyntheticSource) Run(ctx context.Context, sink Submitter) error {
	tk := newTicker(s.clock, s.fps)
	s.logger.Info("synthetic source started",
		zap.Int("width", s.width), zap.Int("height", s.height), zap.Int("fps", s.fps))
	for n := 0; ; n++ {
		tk.Wait()
		if ctx.Err() != nil {
			return nil
		}
		sink.Submit(s.Frame(n))
	}
}
