package frame

import (
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsMalformedBuffers(t *testing.T) {
	_, err := New(0, 3, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDimensions))

	_, err = New(3, 3, make([]uint32, 8))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPixelCountMismatch))

	b, err := New(1, 1, []uint32{0xFF000000})
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFF000000), b.At(0, 0))
}

func TestPackUnpack(t *testing.T) {
	p := Pack(0x12, 0x34, 0x56, 0x78)
	assert.Equal(t, uint32(0x12345678), p)

	a, r, g, b := Unpack(p)
	assert.Equal(t, []uint8{0x12, 0x34, 0x56, 0x78}, []uint8{a, r, g, b})
}

func TestNewBlankIsTransparentBlack(t *testing.T) {
	b, err := NewBlank(4, 2)
	require.NoError(t, err)
	require.Len(t, b.Pixels, 8)
	for _, p := range b.Pixels {
		assert.Zero(t, p)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	b, err := New(2, 1, []uint32{1, 2})
	require.NoError(t, err)
	c := b.Clone()
	c.Set(0, 0, 9)
	assert.Equal(t, uint32(1), b.At(0, 0))
	assert.Equal(t, uint32(9), c.At(0, 0))
}

func TestImageRoundTripKeepsChannels(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(0, 0, color.NRGBA{R: 100, G: 150, B: 200, A: 255})
	src.SetNRGBA(1, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 128})

	b, err := FromImage(src)
	require.NoError(t, err)
	assert.Equal(t, Pack(255, 100, 150, 200), b.At(0, 0))
	assert.Equal(t, Pack(128, 10, 20, 30), b.At(1, 1))
	assert.Equal(t, src.Pix, b.NRGBA().Pix)
}

func TestFromImageConvertsOtherModels(t *testing.T) {
	src := image.NewGray(image.Rect(5, 5, 8, 7))
	for i := range src.Pix {
		src.Pix[i] = 77
	}
	b, err := FromImage(src)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Width)
	assert.Equal(t, 2, b.Height)
	for _, p := range b.Pixels {
		assert.Equal(t, Pack(255, 77, 77, 77), p)
	}
}

func TestFromImageScaled(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 255, 255, 255, 255
	}
	b, err := FromImageScaled(src, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, b.Width)
	assert.Equal(t, 2, b.Height)
	for _, p := range b.Pixels {
		assert.Equal(t, uint32(0xFFFFFFFF), p)
	}

	_, err = FromImageScaled(src, 0, 2)
	assert.True(t, errors.Is(err, ErrInvalidDimensions))
}
