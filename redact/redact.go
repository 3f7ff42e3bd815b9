// Package redact blurs annotated regions of frames, or outlines them for review.
package redact

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/viam-modules/plate-redaction/annotation"
)

// DefaultSigma is the gaussian blur strength applied to every region.
const DefaultSigma = 20.0

// Blurrer blurs rectangles of an image.
type Blurrer struct {
	Sigma float64
}

// Blur returns a copy of img with every rectangle blurred. Rectangles are clipped
// to the image; empty ones are ignored.
func (b Blurrer) Blur(img image.Image, rects []image.Rectangle) *image.NRGBA {
	sigma := b.Sigma
	if sigma <= 0 {
		sigma = DefaultSigma
	}
	dst := imaging.Clone(img)
	bounds := dst.Bounds()
	for _, r := range rects {
		r = r.Intersect(bounds)
		if r.Empty() {
			continue
		}
		region := imaging.Blur(imaging.Crop(dst, r), sigma)
		dst = imaging.Paste(dst, region, r.Min)
	}
	return dst
}

// Rects converts the records of a frame into pixel rectangles in id order.
func Rects(frames ...annotation.Frame) []image.Rectangle {
	var rects []image.Rectangle
	for _, f := range frames {
		ids := make([]int, 0, len(f.Objects))
		for id := range f.Objects {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			o := f.Objects[id]
			rects = append(rects, image.Rect(o.Box.X1, o.Box.Y1, o.Box.X2, o.Box.Y2))
		}
	}
	return rects
}

// File reads src, blurs the rectangles and writes the result to dst, creating its
// directory. The output format follows dst's extension.
func (b Blurrer) File(ctx context.Context, src, dst string, rects []image.Rectangle) error {
	return rewrite(ctx, src, dst, func(img image.Image) image.Image {
		return b.Blur(img, rects)
	})
}

func rewrite(ctx context.Context, src, dst string, edit func(image.Image) image.Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	img, err := imaging.Open(src)
	if err != nil {
		return errors.Wrapf(err, "unable to open frame %q", src)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return errors.Wrapf(err, "unable to create %q", filepath.Dir(dst))
	}
	if err := imaging.Save(edit(img), dst); err != nil {
		return errors.Wrapf(err, "unable to write frame %q", dst)
	}
	return nil
}
