package draw

import (
	"image"
	"image/color"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	regularOnce sync.Once
	regular     *truetype.Font
	regularErr  error
)

func regularFont() (*truetype.Font, error) {
	regularOnce.Do(func() {
		regular, regularErr = truetype.Parse(goregular.TTF)
	})
	return regular, regularErr
}

// Text draws s in the Go regular font, size points high, with the top left corner of the
// first line at pt. It returns the pen position after the last glyph.
func Text(dst Image, pt image.Point, size float64, c color.Color, s string) (image.Point, error) {
	f, err := regularFont()
	if err != nil {
		return pt, err
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(f)
	ctx.SetFontSize(size)
	ctx.SetClip(dst.Bounds())
	ctx.SetDst(dst)
	ctx.SetSrc(image.NewUniform(c))
	ctx.SetHinting(font.HintingFull)

	origin := freetype.Pt(pt.X, pt.Y+ctx.PointToFixed(size).Ceil())
	end, err := ctx.DrawString(s, origin)
	if err != nil {
		return pt, err
	}
	return image.Pt(end.X.Round(), end.Y.Round()), nil
}

// MeasureText returns the size of the box Text fills when drawing s.
func MeasureText(size float64, s string) (image.Point, error) {
	f, err := regularFont()
	if err != nil {
		return image.Point{}, err
	}

	face := truetype.NewFace(f, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	defer face.Close()

	metrics := face.Metrics()
	return image.Pt(
		font.MeasureString(face, s).Ceil(),
		(metrics.Ascent + metrics.Descent).Ceil(),
	), nil
}
