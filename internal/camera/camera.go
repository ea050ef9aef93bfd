package camera

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"edgecam/internal/frame"
)

// MJPEGSource captures from an HTTP MJPEG camera. Frames are decoded,
// resampled to the processing size and offered to the pipeline at no more
// than MaxFPS; parts that arrive faster are skipped in favor of the newest.
type MJPEGSource struct {
	url     string
	width   int
	height  int
	maxFPS  int
	session Session
	logger  *zap.Logger
	clock   clock.Clock
}

// NewMJPEGSource returns a source for url. A zero width or height keeps the
// camera's native size; maxFPS <= 0 disables pacing.
func NewMJPEGSource(url string, width, height, maxFPS int, logger *zap.Logger) *MJPEGSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MJPEGSource{
		url:     url,
		width:   width,
		height:  height,
		maxFPS:  maxFPS,
		session: LogSession{Logger: logger},
		logger:  logger,
		clock:   clock.New(),
	}
}

// WithSession replaces the default logging session.
func (c *MJPEGSource) WithSession(s Session) *MJPEGSource {
	c.session = s
	return c
}

// Run captures until ctx is done. It returns an error only when the stream
// cannot be used at all.
func (c *MJPEGSource) Run(ctx context.Context, sink Submitter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := newMJPEGClient(c.url, c.session)
	parts := make(chan []byte, 1)
	errc := make(chan error, 1)
	go func() { errc <- client.stream(ctx, parts) }()

	tk := newTicker(c.clock, c.maxFPS)
	for {
		tk.Wait()

		var data []byte
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-parts:
			if !ok {
				err := <-errc
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			data = b
		}
		for more := true; more; {
			select {
			case b, ok := <-parts:
				if !ok {
					more = false
					continue
				}
				data = b
			default:
				more = false
			}
		}

		f, err := c.decode(data)
		if err != nil {
			c.session.OnError(err)
			continue
		}
		if !sink.Submit(f) {
			c.logger.Debug("frame dropped", zap.Int("width", f.Width), zap.Int("height", f.Height))
		}
	}
}

func (c *MJPEGSource) decode(data []byte) (*frame.Buffer, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "camera: jpeg decode")
	}
	return normalize(img, c.width, c.height)
}

func normalize(img image.Image, width, height int) (*frame.Buffer, error) {
	if width > 0 && height > 0 {
		return frame.FromImageScaled(img, width, height)
	}
	return frame.FromImage(img)
}
