// Package render draws processed frames as a textured full-screen quad
// through a selectable color effect.
package render

import (
	"github.com/go-gl/mathgl/mgl32"

	"edgecam/internal/effect"
	"edgecam/internal/frame"
)

// Backend is the graphics device the renderer drives. All methods are
// called from the single goroutine that owns the device context.
type Backend interface {
	// Setup creates the program, texture and vertex buffers.
	Setup() error
	// Viewport sets the output size in pixels.
	Viewport(width, height int)
	// Upload replaces the texture contents with f.
	Upload(f *frame.Buffer) error
	// Draw clears the target and draws the quad with the given effect. With
	// no texture uploaded yet it only clears.
	Draw(e effect.Effect) error
	// ReadPixels returns the last drawn image.
	ReadPixels() (*frame.Buffer, error)
	// Release frees device resources.
	Release() error
}

// quadVertex is one corner of the full-screen quad: clip-space position and
// texture coordinate. Texture row 0 is the top of the frame.
type quadVertex struct {
	Pos mgl32.Vec2
	UV  mgl32.Vec2
}

var quadVertices = [4]quadVertex{
	{Pos: mgl32.Vec2{-1, 1}, UV: mgl32.Vec2{0, 0}},  // top left
	{Pos: mgl32.Vec2{-1, -1}, UV: mgl32.Vec2{0, 1}}, // bottom left
	{Pos: mgl32.Vec2{1, -1}, UV: mgl32.Vec2{1, 1}},  // bottom right
	{Pos: mgl32.Vec2{1, 1}, UV: mgl32.Vec2{1, 0}},   // top right
}

// quadIndices splits the quad into two triangles.
var quadIndices = [6]uint16{0, 1, 2, 0, 2, 3}

// clearColor is opaque black.
var clearColor = frame.Pack(0xFF, 0, 0, 0)
