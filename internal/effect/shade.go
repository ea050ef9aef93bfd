package effect

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"edgecam/internal/frame"
)

var (
	lumaWeights = mgl32.Vec3{0.299, 0.587, 0.114}

	sepiaMatrix = mgl32.Mat3FromRows(
		mgl32.Vec3{0.393, 0.769, 0.189},
		mgl32.Vec3{0.349, 0.686, 0.168},
		mgl32.Vec3{0.272, 0.534, 0.131},
	)
)

// Shade evaluates the fragment shader for one normalized RGBA color. It is
// the CPU twin of the GLSL program the GLES backend compiles, evaluated in
// float32. Alpha passes through untouched.
func Shade(e Effect, c mgl32.Vec4) mgl32.Vec4 {
	rgb := c.Vec3()
	switch e {
	case Invert:
		rgb = mgl32.Vec3{1, 1, 1}.Sub(rgb)
	case Grayscale:
		g := rgb.Dot(lumaWeights)
		rgb = mgl32.Vec3{g, g, g}
	case Sepia:
		rgb = sepiaMatrix.Mul3x1(rgb)
	}
	return rgb.Vec4(c.W())
}

// ShadePixel applies e to a packed ARGB pixel, clamping and quantizing the
// result the way a UNORM8 framebuffer would.
func ShadePixel(e Effect, p uint32) uint32 {
	if e == Normal {
		return p
	}
	a, r, g, b := frame.Unpack(p)
	out := Shade(e, mgl32.Vec4{unorm(r), unorm(g), unorm(b), unorm(a)})
	return frame.Pack(quantize(out.W()), quantize(out.X()), quantize(out.Y()), quantize(out.Z()))
}

// Apply returns a shaded copy of src.
func Apply(e Effect, src *frame.Buffer) *frame.Buffer {
	out := src.Clone()
	if e == Normal {
		return out
	}
	for i, p := range out.Pixels {
		out.Pixels[i] = ShadePixel(e, p)
	}
	return out
}

func unorm(v uint8) float32 { return float32(v) / 255 }

func quantize(v float32) uint8 {
	v = math32.Max(0, math32.Min(1, v))
	return uint8(math32.Floor(v*255 + 0.5))
}
