package sequence

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/viam-modules/plate-redaction/annotation"
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
}

// FrameRef points at one frame image on disk. Key is the file name without its
// extension and Index its position in frame order.
type FrameRef struct {
	Index int
	Key   string
	Path  string
}

// ListFrames returns the images of a camera directory in frame order.
func ListFrames(dir string) ([]FrameRef, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list frames in %q", dir)
	}
	byKey := map[string]string{}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || !imageExts[ext] {
			continue
		}
		key := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if prev, ok := byKey[key]; ok {
			return nil, errors.Errorf("frames %q and %q share the key %q", prev, e.Name(), key)
		}
		byKey[key] = e.Name()
		keys = append(keys, key)
	}
	annotation.SortKeys(keys)

	frames := make([]FrameRef, len(keys))
	for i, key := range keys {
		frames[i] = FrameRef{Index: i, Key: key, Path: filepath.Join(dir, byKey[key])}
	}
	return frames, nil
}

// Every keeps one frame in stride, starting with the first, and renumbers the kept
// frames so they stay consecutive. A stride of 1 or less keeps every frame.
func Every(frames []FrameRef, stride int) []FrameRef {
	if stride <= 1 {
		return frames
	}
	out := make([]FrameRef, 0, (len(frames)+stride-1)/stride)
	for i := 0; i < len(frames); i += stride {
		f := frames[i]
		f.Index = len(out)
		out = append(out, f)
	}
	return out
}

// Camera is one camera directory of a sequence.
type Camera struct {
	Sequence string
	Name     string
	Dir      string
}

// ID names the camera within its dataset as <sequence>/<camera>.
func (c Camera) ID() string {
	return path.Join(filepath.Base(c.Sequence), c.Name)
}

// Discover finds every <root>/<sequence>/camera/<camera> directory. A root that is
// itself a sequence (it holds a camera directory) yields only its own cameras.
func Discover(root string) ([]Camera, error) {
	if cams, err := cameras(root); err == nil {
		return cams, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list dataset %q", root)
	}
	var out []Camera
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cams, err := cameras(filepath.Join(root, e.Name()))
		if os.IsNotExist(errors.Cause(err)) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cams...)
	}
	return out, nil
}

func cameras(seqDir string) ([]Camera, error) {
	camRoot := filepath.Join(seqDir, "camera")
	entries, err := os.ReadDir(camRoot)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	out := []Camera{}
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, Camera{Sequence: seqDir, Name: e.Name(), Dir: filepath.Join(camRoot, e.Name())})
		}
	}
	return out, nil
}
