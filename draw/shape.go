package draw

import (
	"image"
	"image/color"
)

// RectFiller is implemented by images that can fill a rectangle faster than pixel by pixel.
type RectFiller interface {
	FillRect(image.Rectangle, color.Color)
}

// Line draws a line between two points.
func Line(dst Image, a, b image.Point, c color.Color) {
	dx, sx := abs(b.X-a.X), sign(b.X-a.X)
	dy, sy := -abs(b.Y-a.Y), sign(b.Y-a.Y)
	e := dx + dy
	for {
		dst.Set(a.X, a.Y, c)
		if a == b {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			a.X += sx
		}
		if e2 <= dx {
			e += dx
			a.Y += sy
		}
	}
}

// HorizontalLine draws a line between (x,y) and (x+w-1,y).
func HorizontalLine(dst Image, x, y, w int, c color.Color) {
	Box(dst, image.Rect(x, y, x+w, y+1), c)
}

// VerticalLine draws a line between (x,y) and (x,y+h-1).
func VerticalLine(dst Image, x, y, h int, c color.Color) {
	Box(dst, image.Rect(x, y, x+1, y+h), c)
}

// Rectangle draws the outline of rect, inside its bounds.
func Rectangle(dst Image, rect image.Rectangle, c color.Color) {
	if rect.Empty() {
		return
	}
	w, h := rect.Dx(), rect.Dy()
	HorizontalLine(dst, rect.Min.X, rect.Min.Y, w, c)
	HorizontalLine(dst, rect.Min.X, rect.Max.Y-1, w, c)
	VerticalLine(dst, rect.Min.X, rect.Min.Y, h, c)
	VerticalLine(dst, rect.Max.X-1, rect.Min.Y, h, c)
}

// Box draws a filled rectangle.
func Box(dst Image, rect image.Rectangle, c color.Color) {
	rect = rect.Intersect(dst.Bounds())
	if f, ok := dst.(RectFiller); ok {
		f.FillRect(rect, c)
		return
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x, y, c)
		}
	}
}

// Gradient fills rect with a horizontal gradient from a to b.
func Gradient(dst Image, rect image.Rectangle, a, b color.Color) {
	rect = rect.Intersect(dst.Bounds())
	w := rect.Dx()
	if w == 0 {
		return
	}
	ar, ag, ab, _ := a.RGBA()
	br, bg, bb, _ := b.RGBA()
	for x := rect.Min.X; x < rect.Max.X; x++ {
		t := uint32(x - rect.Min.X)
		n := uint32(w - 1)
		if n == 0 {
			n = 1
		}
		c := color.RGBA64{
			R: lerp(ar, br, t, n),
			G: lerp(ag, bg, t, n),
			B: lerp(ab, bb, t, n),
			A: 0xffff,
		}
		VerticalLine(dst, x, rect.Min.Y, rect.Dy(), c)
	}
}

func lerp(a, b, t, n uint32) uint16 {
	return uint16((uint64(a)*uint64(n-t) + uint64(b)*uint64(t)) / uint64(n))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}
