package bbox

import (
	"image"

	"github.com/pkg/errors"
)

// ScaleBox rescales a box from one resolution to another. The width ratio applies to
// left and right, the height ratio to top and bottom. The space is kept as is; callers
// relabel with In once they know which image the result belongs to.
func ScaleBox(b Box, from, to Shape) (Box, error) {
	if err := b.Validate(); err != nil {
		return Box{}, err
	}
	if !from.valid() || !to.valid() {
		return Box{}, errors.Wrapf(ErrInvalidBox, "cannot scale %v from %v to %v", b, from, to)
	}
	sx := float64(to.Width) / float64(from.Width)
	sy := float64(to.Height) / float64(from.Height)
	return Box{
		Left:   b.Left * sx,
		Top:    b.Top * sy,
		Right:  b.Right * sx,
		Bottom: b.Bottom * sy,
		Space:  b.Space,
	}, nil
}

// TranslateBox moves a crop-local box into original-frame coordinates by adding the
// crop's top-left corner. Only CropLocal boxes are accepted, so a box can never be
// translated twice.
func TranslateBox(b Box, origin image.Point) (Box, error) {
	if err := b.Validate(); err != nil {
		return Box{}, err
	}
	if b.Space != CropLocal {
		return Box{}, errors.Wrapf(ErrSpaceMismatch, "translate needs a %v box, got %v", CropLocal, b)
	}
	if origin.X < 0 || origin.Y < 0 {
		return Box{}, errors.Wrapf(ErrInvalidBox, "negative crop origin %v", origin)
	}
	ox, oy := float64(origin.X), float64(origin.Y)
	return Box{
		Left:   b.Left + ox,
		Top:    b.Top + oy,
		Right:  b.Right + ox,
		Bottom: b.Bottom + oy,
		Space:  Original,
	}, nil
}

// ToPixelRect truncates a box to integer pixel bounds and clamps it to bounds.
// A rectangle left with no area is rejected with ErrEmptyRect.
func ToPixelRect(b Box, bounds image.Rectangle) (image.Rectangle, error) {
	if err := b.Validate(); err != nil {
		return image.Rectangle{}, err
	}
	r := b.Rect().Intersect(bounds)
	if r.Empty() {
		return image.Rectangle{}, errors.Wrapf(ErrEmptyRect, "%v within %v", b, bounds)
	}
	return r, nil
}
