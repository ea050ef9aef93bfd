// Package frame holds the owned pixel snapshot that moves through the
// processing pipeline.
package frame

import (
	"image"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

var (
	// ErrInvalidDimensions is returned when a width or height is below one.
	ErrInvalidDimensions = errors.New("frame: width and height must be at least 1")
	// ErrPixelCountMismatch is returned when len(pixels) != width*height.
	ErrPixelCountMismatch = errors.New("frame: pixel count does not match dimensions")
)

// Buffer is one frame of packed 0xAARRGGBB pixels in row-major order.
//
// A Buffer is owned by exactly one stage at a time; stages hand it on
// rather than share it.
type Buffer struct {
	Width  int
	Height int
	Pixels []uint32
}

// New validates the dimensions against the pixel slice and wraps it without
// copying.
func New(width, height int, pixels []uint32) (*Buffer, error) {
	if width < 1 || height < 1 {
		return nil, errors.Wrapf(ErrInvalidDimensions, "got %dx%d", width, height)
	}
	if len(pixels) != width*height {
		return nil, errors.Wrapf(ErrPixelCountMismatch, "%dx%d needs %d pixels, got %d",
			width, height, width*height, len(pixels))
	}
	return &Buffer{Width: width, Height: height, Pixels: pixels}, nil
}

// NewBlank returns a transparent black buffer.
func NewBlank(width, height int) (*Buffer, error) {
	if width < 1 || height < 1 {
		return nil, errors.Wrapf(ErrInvalidDimensions, "got %dx%d", width, height)
	}
	return &Buffer{Width: width, Height: height, Pixels: make([]uint32, width*height)}, nil
}

// Pack builds a packed ARGB pixel.
func Pack(a, r, g, b uint8) uint32 {
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// Unpack splits a packed ARGB pixel into its channels.
func Unpack(p uint32) (a, r, g, b uint8) {
	return uint8(p >> 24), uint8(p >> 16), uint8(p >> 8), uint8(p)
}

// At returns the pixel at (x, y). Coordinates are not bounds checked beyond
// the slice access itself.
func (b *Buffer) At(x, y int) uint32 { return b.Pixels[y*b.Width+x] }

// Set stores p at (x, y).
func (b *Buffer) Set(x, y int, p uint32) { b.Pixels[y*b.Width+x] = p }

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	px := make([]uint32, len(b.Pixels))
	copy(px, b.Pixels)
	return &Buffer{Width: b.Width, Height: b.Height, Pixels: px}
}

// NRGBA converts the buffer to a non-premultiplied image for encoding.
func (b *Buffer) NRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Width*4]
		src := b.Pixels[y*b.Width : (y+1)*b.Width]
		for x, p := range src {
			a, r, g, bl := Unpack(p)
			row[x*4+0] = r
			row[x*4+1] = g
			row[x*4+2] = bl
			row[x*4+3] = a
		}
	}
	return img
}

// FromImage normalizes any image to packed ARGB at its native size.
func FromImage(src image.Image) (*Buffer, error) {
	bounds := src.Bounds()
	if bounds.Dx() < 1 || bounds.Dy() < 1 {
		return nil, errors.Wrapf(ErrInvalidDimensions, "got %dx%d", bounds.Dx(), bounds.Dy())
	}
	nrgba, ok := src.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), src, bounds.Min, draw.Src)
	}
	return fromNRGBA(nrgba), nil
}

// FromImageScaled normalizes src and resamples it to width x height.
// Camera frames are scaled here so the detector always sees the configured
// processing size.
func FromImageScaled(src image.Image, width, height int) (*Buffer, error) {
	if width < 1 || height < 1 {
		return nil, errors.Wrapf(ErrInvalidDimensions, "got %dx%d", width, height)
	}
	if src.Bounds().Dx() == width && src.Bounds().Dy() == height {
		return FromImage(src)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return fromNRGBA(dst), nil
}

func fromNRGBA(img *image.NRGBA) *Buffer {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := &Buffer{Width: w, Height: h, Pixels: make([]uint32, w*h)}
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		dst := out.Pixels[y*w : (y+1)*w]
		for x := range dst {
			dst[x] = Pack(row[x*4+3], row[x*4+0], row[x*4+1], row[x*4+2])
		}
	}
	return out
}
