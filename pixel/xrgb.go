package pixel

import (
	"encoding/binary"
	"image"
	"image/color"
)

// XRGB8888Model is the color model of 24-bit color stored in 32-bit words.
var XRGB8888Model color.Model = color.ModelFunc(xrgb8888Model)

// XRGB8888 is a 24-bit RGB color, stored with an unused padding byte.
type XRGB8888 struct {
	R, G, B uint8
}

func (c XRGB8888) RGBA() (r, g, b, a uint32) {
	r = uint32(c.R)
	r |= r << 8
	g = uint32(c.G)
	g |= g << 8
	b = uint32(c.B)
	b |= b << 8
	return r, g, b, 0xffff
}

func xrgb8888Model(c color.Color) color.Color {
	if _, ok := c.(XRGB8888); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return XRGB8888{
		R: uint8(r >> 8),
		G: uint8(g >> 8),
		B: uint8(b >> 8),
	}
}

// XRGB8888Image is a 32-bits per pixel image in DRM_FORMAT_XRGB8888 layout, that is
// a little-endian 32-bit word per pixel with blue in the lowest byte.
type XRGB8888Image struct {
	Buffer
}

// NewXRGB8888Image allocates an image with a tightly packed stride.
func NewXRGB8888Image(w, h int) *XRGB8888Image {
	return &XRGB8888Image{
		Buffer: makeBuffer(w, h, w*4, w*h*4),
	}
}

// WrapXRGB8888Image uses pix as pixel memory, for example a mapped framebuffer. The stride
// may be larger than w*4 if the owner of the memory pads rows.
func WrapXRGB8888Image(pix []byte, w, h, stride int) *XRGB8888Image {
	return &XRGB8888Image{
		Buffer: Buffer{
			Rect:   image.Rect(0, 0, w, h),
			Pix:    pix,
			Stride: stride,
		},
	}
}

func (p *XRGB8888Image) ColorModel() color.Model {
	return XRGB8888Model
}

func (p *XRGB8888Image) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*4
}

func (p *XRGB8888Image) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(p.Rect) {
		return color.Transparent
	}

	v := binary.LittleEndian.Uint32(p.Pix[p.PixOffset(x, y):])
	return XRGB8888{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
	}
}

func (p *XRGB8888Image) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}).In(p.Rect) {
		return
	}

	binary.LittleEndian.PutUint32(p.Pix[p.PixOffset(x, y):], packXRGB8888(c))
}

func (p *XRGB8888Image) Fill(c color.Color) {
	p.FillRect(p.Rect, c)
}

// FillRect sets all pixels in r to c.
func (p *XRGB8888Image) FillRect(r image.Rectangle, c color.Color) {
	r = r.Intersect(p.Rect)
	if r.Empty() {
		return
	}

	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], packXRGB8888(c))

	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := p.Pix[p.PixOffset(r.Min.X, y):p.PixOffset(r.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			copy(row[i:], word[:])
		}
	}
}

func packXRGB8888(c color.Color) uint32 {
	v := xrgb8888Model(c).(XRGB8888)
	return uint32(v.R)<<16 | uint32(v.G)<<8 | uint32(v.B)
}
