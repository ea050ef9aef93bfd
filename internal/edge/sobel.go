// Package edge implements the per-frame edge transform: Rec.601 grayscale
// followed by Sobel gradient magnitude.
package edge

import (
	"math"

	"edgecam/internal/frame"
)

// Luma returns round(0.299*R + 0.587*G + 0.114*B) for a packed ARGB pixel.
func Luma(p uint32) int {
	_, r, g, b := frame.Unpack(p)
	return int(math.Round(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)))
}

// Detect returns a new buffer of the same size holding the gradient
// magnitude of src as opaque gray pixels.
//
// The 3x3 operator has no value on the outermost rows and columns, so those
// stay transparent black. Buffers narrower or shorter than 3 pixels come back
// entirely transparent black.
func Detect(src *frame.Buffer) *frame.Buffer {
	w, h := src.Width, src.Height
	out := &frame.Buffer{Width: w, Height: h, Pixels: make([]uint32, w*h)}
	if w < 3 || h < 3 {
		return out
	}

	// Luma of each row is needed three times; keep a rolling window of rows.
	prev, cur, next := make([]int, w), make([]int, w), make([]int, w)
	lumaRow(src, 0, prev)
	lumaRow(src, 1, cur)

	for y := 1; y < h-1; y++ {
		lumaRow(src, y+1, next)
		dst := out.Pixels[y*w : (y+1)*w]
		for x := 1; x < w-1; x++ {
			gx := (prev[x+1] + 2*cur[x+1] + next[x+1]) - (prev[x-1] + 2*cur[x-1] + next[x-1])
			gy := (next[x-1] + 2*next[x] + next[x+1]) - (prev[x-1] + 2*prev[x] + prev[x+1])
			m := math.Round(math.Sqrt(float64(gx*gx + gy*gy)))
			if m > 255 {
				m = 255
			}
			v := uint8(m)
			dst[x] = frame.Pack(0xFF, v, v, v)
		}
		prev, cur, next = cur, next, prev
	}
	return out
}

func lumaRow(src *frame.Buffer, y int, dst []int) {
	row := src.Pixels[y*src.Width : (y+1)*src.Width]
	for x, p := range row {
		dst[x] = Luma(p)
	}
}
