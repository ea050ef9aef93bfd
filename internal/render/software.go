package render

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"edgecam/internal/effect"
	"edgecam/internal/frame"
)

// ErrNothingDrawn is returned by ReadPixels before the first draw.
var ErrNothingDrawn = errors.New("render: nothing drawn yet")

// Software is a CPU backend. It rasterizes the quad's two triangles with
// barycentric interpolation, samples the texture nearest-texel with
// clamp-to-edge, and shades each fragment with effect.ShadePixel.
//
// With the viewport left at zero the target follows the texture size.
type Software struct {
	tex    *frame.Buffer
	width  int
	height int
	fb     *frame.Buffer
}

// NewSoftware returns an uninitialized software backend.
func NewSoftware() *Software { return &Software{} }

func (s *Software) Setup() error { return nil }

func (s *Software) Viewport(width, height int) {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	s.width, s.height = width, height
}

func (s *Software) Upload(f *frame.Buffer) error {
	if f == nil {
		return errors.New("render: upload of nil frame")
	}
	if _, err := frame.New(f.Width, f.Height, f.Pixels); err != nil {
		return errors.Wrap(err, "render: upload")
	}
	s.tex = f
	return nil
}

func (s *Software) Draw(e effect.Effect) error {
	w, h := s.width, s.height
	if w == 0 || h == 0 {
		if s.tex == nil {
			return nil
		}
		w, h = s.tex.Width, s.tex.Height
	}
	if s.fb == nil || s.fb.Width != w || s.fb.Height != h {
		s.fb = &frame.Buffer{Width: w, Height: h, Pixels: make([]uint32, w*h)}
	}
	for i := range s.fb.Pixels {
		s.fb.Pixels[i] = clearColor
	}
	if s.tex == nil {
		return nil
	}
	for i := 0; i < len(quadIndices); i += 3 {
		s.rasterize(quadVertices[quadIndices[i]], quadVertices[quadIndices[i+1]], quadVertices[quadIndices[i+2]], e)
	}
	return nil
}

func (s *Software) ReadPixels() (*frame.Buffer, error) {
	if s.fb == nil {
		return nil, ErrNothingDrawn
	}
	return s.fb.Clone(), nil
}

func (s *Software) Release() error {
	s.tex, s.fb = nil, nil
	return nil
}

// toWindow maps clip space to pixel coordinates with y pointing down.
func (s *Software) toWindow(p mgl32.Vec2) mgl32.Vec2 {
	return mgl32.Vec2{
		(p.X() + 1) / 2 * float32(s.fb.Width),
		(1 - p.Y()) / 2 * float32(s.fb.Height),
	}
}

func (s *Software) rasterize(a, b, c quadVertex, e effect.Effect) {
	p0, p1, p2 := s.toWindow(a.Pos), s.toWindow(b.Pos), s.toWindow(c.Pos)
	area := edgeFn(p0, p1, p2)
	if area == 0 {
		return
	}

	minX := clampInt(int(math32.Floor(math32.Min(p0.X(), math32.Min(p1.X(), p2.X())))), 0, s.fb.Width)
	maxX := clampInt(int(math32.Ceil(math32.Max(p0.X(), math32.Max(p1.X(), p2.X())))), 0, s.fb.Width)
	minY := clampInt(int(math32.Floor(math32.Min(p0.Y(), math32.Min(p1.Y(), p2.Y())))), 0, s.fb.Height)
	maxY := clampInt(int(math32.Ceil(math32.Max(p0.Y(), math32.Max(p1.Y(), p2.Y())))), 0, s.fb.Height)

	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			p := mgl32.Vec2{float32(x) + 0.5, float32(y) + 0.5}
			w0 := edgeFn(p1, p2, p) / area
			w1 := edgeFn(p2, p0, p) / area
			w2 := edgeFn(p0, p1, p) / area
			if w0 < -coverageEps || w1 < -coverageEps || w2 < -coverageEps {
				continue
			}
			uv := a.UV.Mul(w0).Add(b.UV.Mul(w1)).Add(c.UV.Mul(w2))
			s.fb.Pixels[y*s.fb.Width+x] = effect.ShadePixel(e, s.sample(uv))
		}
	}
}

func (s *Software) sample(uv mgl32.Vec2) uint32 {
	tx := clampInt(int(math32.Floor(uv.X()*float32(s.tex.Width))), 0, s.tex.Width-1)
	ty := clampInt(int(math32.Floor(uv.Y()*float32(s.tex.Height))), 0, s.tex.Height-1)
	return s.tex.At(tx, ty)
}

// coverageEps keeps pixel centers that sit on the shared diagonal covered
// by at least one triangle despite float32 rounding.
const coverageEps = 1e-5

func edgeFn(a, b, p mgl32.Vec2) float32 {
	return (b.X()-a.X())*(p.Y()-a.Y()) - (b.Y()-a.Y())*(p.X()-a.X())
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
