//go:build gles

package render

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/mobile/exp/f32"
	"golang.org/x/mobile/gl"

	"edgecam/internal/effect"
	"edgecam/internal/frame"
)

const vertexShaderSrc = `
attribute vec4 vPosition;
attribute vec2 vTexCoord;
varying vec2 texCoord;
void main() {
	gl_Position = vPosition;
	texCoord = vTexCoord;
}`

// The fragment shader matches effect.Shade branch for branch.
const fragmentShaderSrc = `
precision mediump float;
uniform sampler2D uTexture;
uniform int uEffect;
varying vec2 texCoord;
void main() {
	vec4 color = texture2D(uTexture, texCoord);
	if (uEffect == 1) {
		gl_FragColor = vec4(1.0 - color.rgb, color.a);
	} else if (uEffect == 2) {
		float gray = dot(color.rgb, vec3(0.299, 0.587, 0.114));
		gl_FragColor = vec4(gray, gray, gray, color.a);
	} else if (uEffect == 3) {
		float r = dot(color.rgb, vec3(0.393, 0.769, 0.189));
		float g = dot(color.rgb, vec3(0.349, 0.686, 0.168));
		float b = dot(color.rgb, vec3(0.272, 0.534, 0.131));
		gl_FragColor = vec4(r, g, b, color.a);
	} else {
		gl_FragColor = color;
	}
}`

// GLES drives an OpenGL ES 2 context through golang.org/x/mobile/gl. The
// context must be current on the goroutine that calls its methods.
type GLES struct {
	glctx gl.Context

	program  gl.Program
	texture  gl.Texture
	vbo      gl.Buffer
	ibo      gl.Buffer
	position gl.Attrib
	texCoord gl.Attrib
	sampler  gl.Uniform
	effectU  gl.Uniform

	width, height int
	texW, texH    int
	upload        []byte
}

// NewGLES wraps an existing context.
func NewGLES(glctx gl.Context) *GLES { return &GLES{glctx: glctx} }

func (g *GLES) Setup() error {
	ctx := g.glctx
	ctx.ClearColor(0, 0, 0, 1)

	vs, err := g.compile(gl.VERTEX_SHADER, vertexShaderSrc)
	if err != nil {
		return err
	}
	defer ctx.DeleteShader(vs)
	fs, err := g.compile(gl.FRAGMENT_SHADER, fragmentShaderSrc)
	if err != nil {
		return err
	}
	defer ctx.DeleteShader(fs)

	g.program = ctx.CreateProgram()
	ctx.AttachShader(g.program, vs)
	ctx.AttachShader(g.program, fs)
	ctx.LinkProgram(g.program)
	if ctx.GetProgrami(g.program, gl.LINK_STATUS) == 0 {
		log := ctx.GetProgramInfoLog(g.program)
		ctx.DeleteProgram(g.program)
		return errors.Errorf("render: link program: %s", log)
	}

	g.position = ctx.GetAttribLocation(g.program, "vPosition")
	g.texCoord = ctx.GetAttribLocation(g.program, "vTexCoord")
	g.sampler = ctx.GetUniformLocation(g.program, "uTexture")
	g.effectU = ctx.GetUniformLocation(g.program, "uEffect")

	verts := make([]float32, 0, len(quadVertices)*4)
	for _, v := range quadVertices {
		verts = append(verts, v.Pos.X(), v.Pos.Y(), v.UV.X(), v.UV.Y())
	}
	g.vbo = ctx.CreateBuffer()
	ctx.BindBuffer(gl.ARRAY_BUFFER, g.vbo)
	ctx.BufferData(gl.ARRAY_BUFFER, f32.Bytes(binary.LittleEndian, verts...), gl.STATIC_DRAW)

	idx := make([]byte, len(quadIndices)*2)
	for i, v := range quadIndices {
		binary.LittleEndian.PutUint16(idx[i*2:], v)
	}
	g.ibo = ctx.CreateBuffer()
	ctx.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, g.ibo)
	ctx.BufferData(gl.ELEMENT_ARRAY_BUFFER, idx, gl.STATIC_DRAW)

	g.texture = ctx.CreateTexture()
	ctx.BindTexture(gl.TEXTURE_2D, g.texture)
	ctx.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	ctx.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	ctx.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	ctx.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	return nil
}

func (g *GLES) compile(ty gl.Enum, src string) (gl.Shader, error) {
	ctx := g.glctx
	s := ctx.CreateShader(ty)
	ctx.ShaderSource(s, src)
	ctx.CompileShader(s)
	if ctx.GetShaderi(s, gl.COMPILE_STATUS) == 0 {
		log := ctx.GetShaderInfoLog(s)
		ctx.DeleteShader(s)
		return gl.Shader{}, errors.Errorf("render: compile shader: %s", log)
	}
	return s, nil
}

func (g *GLES) Viewport(width, height int) {
	g.width, g.height = width, height
	g.glctx.Viewport(0, 0, width, height)
}

func (g *GLES) Upload(f *frame.Buffer) error {
	if f == nil {
		return errors.New("render: upload of nil frame")
	}
	if _, err := frame.New(f.Width, f.Height, f.Pixels); err != nil {
		return errors.Wrap(err, "render: upload")
	}
	if cap(g.upload) < len(f.Pixels)*4 {
		g.upload = make([]byte, len(f.Pixels)*4)
	}
	buf := g.upload[:len(f.Pixels)*4]
	for i, p := range f.Pixels {
		a, r, gr, b := frame.Unpack(p)
		buf[i*4+0], buf[i*4+1], buf[i*4+2], buf[i*4+3] = r, gr, b, a
	}
	g.glctx.BindTexture(gl.TEXTURE_2D, g.texture)
	g.glctx.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA, f.Width, f.Height, gl.RGBA, gl.UNSIGNED_BYTE, buf)
	g.texW, g.texH = f.Width, f.Height
	if g.width == 0 || g.height == 0 {
		g.glctx.Viewport(0, 0, f.Width, f.Height)
	}
	return nil
}

func (g *GLES) Draw(e effect.Effect) error {
	ctx := g.glctx
	ctx.Clear(gl.COLOR_BUFFER_BIT)
	if g.texW == 0 {
		return nil
	}
	ctx.UseProgram(g.program)

	ctx.BindBuffer(gl.ARRAY_BUFFER, g.vbo)
	ctx.EnableVertexAttribArray(g.position)
	ctx.EnableVertexAttribArray(g.texCoord)
	ctx.VertexAttribPointer(g.position, 2, gl.FLOAT, false, 16, 0)
	ctx.VertexAttribPointer(g.texCoord, 2, gl.FLOAT, false, 16, 8)

	ctx.ActiveTexture(gl.TEXTURE0)
	ctx.BindTexture(gl.TEXTURE_2D, g.texture)
	ctx.Uniform1i(g.sampler, 0)
	ctx.Uniform1i(g.effectU, int(effect.FromID(int(e))))

	ctx.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, g.ibo)
	ctx.DrawElements(gl.TRIANGLES, len(quadIndices), gl.UNSIGNED_SHORT, 0)

	ctx.DisableVertexAttribArray(g.position)
	ctx.DisableVertexAttribArray(g.texCoord)
	return nil
}

// ReadPixels reads the framebuffer back and flips it so row 0 is the top.
func (g *GLES) ReadPixels() (*frame.Buffer, error) {
	w, h := g.width, g.height
	if w == 0 || h == 0 {
		w, h = g.texW, g.texH
	}
	if w == 0 || h == 0 {
		return nil, errors.New("render: nothing drawn yet")
	}
	raw := make([]byte, w*h*4)
	g.glctx.ReadPixels(raw, 0, 0, w, h, gl.RGBA, gl.UNSIGNED_BYTE)

	out := &frame.Buffer{Width: w, Height: h, Pixels: make([]uint32, w*h)}
	for y := 0; y < h; y++ {
		src := raw[(h-1-y)*w*4 : (h-y)*w*4]
		dst := out.Pixels[y*w : (y+1)*w]
		for x := range dst {
			dst[x] = frame.Pack(src[x*4+3], src[x*4+0], src[x*4+1], src[x*4+2])
		}
	}
	return out, nil
}

func (g *GLES) Release() error {
	ctx := g.glctx
	ctx.DeleteTexture(g.texture)
	ctx.DeleteBuffer(g.vbo)
	ctx.DeleteBuffer(g.ibo)
	ctx.DeleteProgram(g.program)
	g.texW, g.texH = 0, 0
	return nil
}
