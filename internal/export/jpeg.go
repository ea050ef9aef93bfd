package export

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"edgecam/internal/frame"
)

// EncodeConfig controls JPEG export.
type EncodeConfig struct {
	// Quality is clamped to [1,100]; zero means 85.
	Quality int `json:"quality"`
	// MaxWidth and MaxHeight bound the exported size, keeping aspect ratio.
	// Zero leaves that dimension unbounded.
	MaxWidth  int `json:"max_width"`
	MaxHeight int `json:"max_height"`
}

var ErrInvalidInput = errors.New("export: invalid dimensions or buffer length")

// EncodeJPEG encodes f, down-scaling first when it exceeds the configured
// bounds.
func EncodeJPEG(f *frame.Buffer, cfg EncodeConfig) ([]byte, error) {
	if f == nil || f.Width <= 0 || f.Height <= 0 || len(f.Pixels) != f.Width*f.Height {
		return nil, ErrInvalidInput
	}
	switch {
	case cfg.Quality == 0:
		cfg.Quality = 85
	case cfg.Quality < 1:
		cfg.Quality = 1
	case cfg.Quality > 100:
		cfg.Quality = 100
	}
	var img image.Image = f.NRGBA()
	if needsScale(f.Width, f.Height, cfg) {
		maxW, maxH := cfg.MaxWidth, cfg.MaxHeight
		if maxW <= 0 {
			maxW = f.Width
		}
		if maxH <= 0 {
			maxH = f.Height
		}
		img = resize.Thumbnail(uint(maxW), uint(maxH), img, resize.Bilinear)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: cfg.Quality}); err != nil {
		return nil, errors.Wrap(err, "export: jpeg encode")
	}
	return buf.Bytes(), nil
}

func needsScale(w, h int, cfg EncodeConfig) bool {
	return (cfg.MaxWidth > 0 && w > cfg.MaxWidth) || (cfg.MaxHeight > 0 && h > cfg.MaxHeight)
}
