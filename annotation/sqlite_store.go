package annotation

import (
	"context"
	"database/sql"
	"sync"
	"time"

	// registers the sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// SQLiteStore keeps annotations in a single SQLite database. Unlike FileStore it
// stores the frame index explicitly, so frames keep the index the writer gave them.
type SQLiteStore struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open annotation database %q", path)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &SQLiteStore{conn: conn}
	if err := s.migrate(); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "unable to migrate annotation database"), conn.Close())
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		sequence TEXT NOT NULL,
		started_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS frames (
		kind TEXT NOT NULL,
		camera TEXT NOT NULL,
		frame_index INTEGER NOT NULL,
		frame_key TEXT NOT NULL,
		PRIMARY KEY (kind, camera, frame_index)
	);

	CREATE TABLE IF NOT EXISTS objects (
		kind TEXT NOT NULL,
		camera TEXT NOT NULL,
		frame_index INTEGER NOT NULL,
		object_id INTEGER NOT NULL,
		confidence REAL NOT NULL,
		x1 INTEGER NOT NULL,
		y1 INTEGER NOT NULL,
		x2 INTEGER NOT NULL,
		y2 INTEGER NOT NULL,
		PRIMARY KEY (kind, camera, frame_index, object_id)
	);

	CREATE INDEX IF NOT EXISTS idx_objects_frame ON objects(kind, camera, frame_index);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// RecordRun notes that a processing run started on a sequence.
func (s *SQLiteStore) RecordRun(ctx context.Context, id, sequence string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, sequence, started_at) VALUES (?, ?, ?)`,
		id, sequence, time.Now().UTC())
	return errors.Wrapf(err, "unable to record run %s", id)
}

// Put replaces the frame and all of its objects in one transaction.
func (s *SQLiteStore) Put(ctx context.Context, kind Kind, camera string, frame Frame) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "unable to begin transaction")
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, tx.Rollback())
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM objects WHERE kind = ? AND camera = ? AND frame_index = ?`,
		string(kind), camera, frame.Index); err != nil {
		return errors.Wrapf(err, "unable to clear frame %q", frame.Key)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO frames (kind, camera, frame_index, frame_key) VALUES (?, ?, ?, ?)`,
		string(kind), camera, frame.Index, frame.Key); err != nil {
		return errors.Wrapf(err, "unable to write frame %q", frame.Key)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO objects (kind, camera, frame_index, object_id, confidence, x1, y1, x2, y2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "unable to prepare object insert")
	}
	defer stmt.Close()
	for id, o := range frame.Objects {
		if _, err = stmt.ExecContext(ctx, string(kind), camera, frame.Index, id, o.Confidence,
			o.Box.X1, o.Box.Y1, o.Box.X2, o.Box.Y2); err != nil {
			return errors.Wrapf(err, "unable to write object %d of frame %q", id, frame.Key)
		}
	}
	return tx.Commit()
}

// Frames returns the camera's frames ordered by index.
func (s *SQLiteStore) Frames(ctx context.Context, kind Kind, camera string) ([]Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT frame_index, frame_key FROM frames WHERE kind = ? AND camera = ? ORDER BY frame_index`,
		string(kind), camera)
	if err != nil {
		return nil, errors.Wrap(err, "unable to query frames")
	}
	frames := []Frame{}
	byIndex := map[int]int{}
	for rows.Next() {
		var f Frame
		if err := rows.Scan(&f.Index, &f.Key); err != nil {
			return nil, multierr.Combine(err, rows.Close())
		}
		f.Objects = map[int]Object{}
		byIndex[f.Index] = len(frames)
		frames = append(frames, f)
	}
	if err := multierr.Combine(rows.Err(), rows.Close()); err != nil {
		return nil, err
	}

	rows, err = s.conn.QueryContext(ctx, `
		SELECT frame_index, object_id, confidence, x1, y1, x2, y2 FROM objects
		WHERE kind = ? AND camera = ?`, string(kind), camera)
	if err != nil {
		return nil, errors.Wrap(err, "unable to query objects")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			index, id int
			o         Object
		)
		if err := rows.Scan(&index, &id, &o.Confidence, &o.Box.X1, &o.Box.Y1, &o.Box.X2, &o.Box.Y2); err != nil {
			return nil, err
		}
		if i, ok := byIndex[index]; ok {
			frames[i].Objects[id] = o
		}
	}
	return frames, rows.Err()
}

// Cameras lists the cameras that have frames of a kind.
func (s *SQLiteStore) Cameras(ctx context.Context, kind Kind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT DISTINCT camera FROM frames WHERE kind = ? ORDER BY camera`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cams := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cams = append(cams, c)
	}
	return cams, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
