package pipeline

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// scratch is a per-frame directory of vehicle crops. A nil scratch stores nothing.
type scratch struct {
	dir string
}

func newScratch(root string, frame Frame) (*scratch, error) {
	if root == "" {
		return nil, nil
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrapf(err, "unable to create scratch root %q", root)
	}
	pattern := strings.ReplaceAll(frame.Camera+"-"+frame.Key, string(os.PathSeparator), "_") + "-*"
	dir, err := os.MkdirTemp(root, pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create scratch dir for frame %q", frame.Key)
	}
	return &scratch{dir: dir}, nil
}

func (s *scratch) put(key string, img image.Image) (string, error) {
	if s == nil {
		return "", nil
	}
	path := filepath.Join(s.dir, key+".png")
	if err := imaging.Save(img, path); err != nil {
		return "", errors.Wrapf(err, "unable to write crop %q", key)
	}
	return path, nil
}

func (s *scratch) release() error {
	if s == nil {
		return nil
	}
	return os.RemoveAll(s.dir)
}
