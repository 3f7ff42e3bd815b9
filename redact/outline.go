package redact

import (
	"context"
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

// DefaultOutlineWidth is the stroke width of outlines, in pixels.
const DefaultOutlineWidth = 2.0

// DefaultOutlineColor is blue.
var DefaultOutlineColor = color.RGBA{0, 0, 255, 255}

// Outliner draws the border of each rectangle, so annotations can be checked by eye.
type Outliner struct {
	Color color.Color
	Width float64
}

// Outline returns a copy of img with every rectangle stroked. The stroke is
// centered on the rectangle's edges.
func (o Outliner) Outline(img image.Image, rects []image.Rectangle) image.Image {
	c := o.Color
	if c == nil {
		c = DefaultOutlineColor
	}
	width := o.Width
	if width <= 0 {
		width = DefaultOutlineWidth
	}
	dc := gg.NewContextForImage(img)
	origin := img.Bounds().Min
	for _, r := range rects {
		if r.Empty() {
			continue
		}
		r = r.Sub(origin)
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	}
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.Stroke()
	return dc.Image()
}

// File reads src, outlines the rectangles and writes the result to dst.
func (o Outliner) File(ctx context.Context, src, dst string, rects []image.Rectangle) error {
	return rewrite(ctx, src, dst, func(img image.Image) image.Image {
		return o.Outline(img, rects)
	})
}
