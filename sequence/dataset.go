package sequence

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/viam-modules/plate-redaction/annotation"
)

// StoreOpener opens the annotation store of a sequence directory.
type StoreOpener func(sequenceDir string) (annotation.Store, error)

// FileStores keeps annotations as JSON files inside each sequence.
func FileStores(sequenceDir string) (annotation.Store, error) {
	return annotation.NewFileStore(sequenceDir), nil
}

// SQLiteStores keeps each sequence's annotations in <sequence>/annotations/<name>.
func SQLiteStores(name string) StoreOpener {
	return func(sequenceDir string) (annotation.Store, error) {
		dir := filepath.Join(sequenceDir, "annotations")
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.Wrapf(err, "unable to create %q", dir)
		}
		return annotation.OpenSQLite(filepath.Join(dir, name))
	}
}

// Dataset describes a batch run over a root of sequence directories.
type Dataset struct {
	Root string
	// Workers bounds how many cameras run at once; 0 means one.
	Workers int
	// FrameStride keeps every n-th frame of each camera; 0 or 1 keeps all of them.
	FrameStride int
	Open        StoreOpener
	// Started is called with each opened store before any camera runs.
	Started func(ctx context.Context, sequenceDir string, store annotation.Store) error
}

// RunDataset processes every camera found under the dataset root. A failing camera
// does not stop the others: all failures are returned combined once every camera
// has finished.
func (r *Runner) RunDataset(ctx context.Context, ds Dataset) (Stats, error) {
	cams, err := Discover(ds.Root)
	if err != nil {
		return Stats{}, err
	}
	if len(cams) == 0 {
		return Stats{}, errors.Errorf("no camera directories under %q", ds.Root)
	}
	open := ds.Open
	if open == nil {
		open = FileStores
	}

	stores := map[string]annotation.Store{}
	closeAll := func() error {
		var errs error
		for _, s := range stores {
			errs = multierr.Append(errs, s.Close())
		}
		return errs
	}
	for _, c := range cams {
		if _, ok := stores[c.Sequence]; ok {
			continue
		}
		s, err := open(c.Sequence)
		if err != nil {
			return Stats{}, multierr.Combine(err, closeAll())
		}
		stores[c.Sequence] = s
		if ds.Started != nil {
			if err := ds.Started(ctx, c.Sequence, s); err != nil {
				return Stats{}, multierr.Combine(err, closeAll())
			}
		}
	}

	var (
		mu    sync.Mutex
		total Stats
		errs  error
	)
	g := new(errgroup.Group)
	workers := ds.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for _, c := range cams {
		c := c
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats, err := r.runCamera(ctx, c, ds.FrameStride, stores[c.Sequence])
			mu.Lock()
			defer mu.Unlock()
			total.add(stats)
			if err != nil {
				r.logger.Errorf("camera %q of %q failed: %v", c.Name, c.Sequence, err)
				errs = multierr.Append(errs, err)
			}
			return nil
		})
	}
	waitErr := g.Wait()
	return total, multierr.Combine(waitErr, errs, closeAll())
}

func (r *Runner) runCamera(ctx context.Context, c Camera, stride int, store annotation.Store) (Stats, error) {
	frames, err := ListFrames(c.Dir)
	if err != nil {
		return Stats{}, err
	}
	return r.Run(ctx, Job{Camera: c, Frames: Every(frames, stride), Store: store})
}
