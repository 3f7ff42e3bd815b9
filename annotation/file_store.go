package annotation

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const fileExt = ".json"

// FileStore lays annotations out under a sequence directory as
// annotations/<kind>/<camera>/<frame>.json, one JSON object per frame mapping object
// id to its record. Frame indexes are the position of the key in frame order.
type FileStore struct {
	root string
}

// NewFileStore stores under the given sequence directory.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Dir is the directory holding one camera's frames of a kind.
func (fs *FileStore) Dir(kind Kind, camera string) string {
	return filepath.Join(fs.root, "annotations", string(kind), camera)
}

// Put writes the frame, replacing any earlier version.
func (fs *FileStore) Put(ctx context.Context, kind Kind, camera string, frame Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if frame.Key == "" {
		return errors.Errorf("frame %d has no key", frame.Index)
	}
	dir := fs.Dir(kind, camera)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "unable to create annotation dir %q", dir)
	}
	objects := frame.Objects
	if objects == nil {
		objects = map[int]Object{}
	}
	data, err := json.Marshal(objects)
	if err != nil {
		return errors.Wrapf(err, "unable to encode frame %q", frame.Key)
	}

	// write then rename so a reader never sees half a record
	tmp, err := os.CreateTemp(dir, "."+frame.Key+"-*")
	if err != nil {
		return errors.Wrapf(err, "unable to write frame %q", frame.Key)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "unable to write frame %q", frame.Key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "unable to write frame %q", frame.Key)
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, frame.Key+fileExt))
}

// Frames reads every frame of a camera. A camera without annotations has none.
func (fs *FileStore) Frames(ctx context.Context, kind Kind, camera string) ([]Frame, error) {
	dir := fs.Dir(kind, camera)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []Frame{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list %q", dir)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != fileExt {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	SortKeys(keys)

	frames := make([]Frame, 0, len(keys))
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(dir, key+fileExt))
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read frame %q", key)
		}
		frame := NewFrame(i, key)
		if len(strings.TrimSpace(string(data))) > 0 {
			if err := json.Unmarshal(data, &frame.Objects); err != nil {
				return nil, errors.Wrapf(err, "unable to parse frame %q", key)
			}
		}
		if frame.Objects == nil {
			frame.Objects = map[int]Object{}
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// Cameras lists the cameras that have annotations of a kind.
func (fs *FileStore) Cameras(ctx context.Context, kind Kind) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(fs.root, "annotations", string(kind)))
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	cams := []string{}
	for _, e := range entries {
		if e.IsDir() {
			cams = append(cams, e.Name())
		}
	}
	return cams, nil
}

// Close is a no-op.
func (fs *FileStore) Close() error {
	return nil
}
