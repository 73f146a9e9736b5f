package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/naka-gawa/github-weekly/internal/calendar"
	"github.com/naka-gawa/github-weekly/internal/domain"
)

const (
	backupDir    = "backups"
	backupLayout = "20060102T150405.000000000"
	lockRetry    = 100 * time.Millisecond
)

// FileStore keeps each week as a JSON document named "YYYY-WW.json".
type FileStore struct {
	dir string
	now func() time.Time
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir and its backup folder if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("data directory is required for the file backend")
	}
	if err := os.MkdirAll(filepath.Join(dir, backupDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %q: %w", dir, err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (f *FileStore) path(week calendar.Week) string {
	return filepath.Join(f.dir, week.String()+".json")
}

// Exists reports whether a snapshot file exists for week.
func (f *FileStore) Exists(_ context.Context, week calendar.Week) (bool, error) {
	_, err := os.Stat(f.path(week))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Load reads and validates the snapshot of week.
func (f *FileStore) Load(_ context.Context, week calendar.Week) (*domain.WeekSnapshot, error) {
	data, err := os.ReadFile(f.path(week))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, week)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", week, err)
	}
	return decode(data, week)
}

// Save copies the current file to the backup folder, then replaces it
// atomically with s.
func (f *FileStore) Save(_ context.Context, s *domain.WeekSnapshot) error {
	data, week, err := encode(s)
	if err != nil {
		return err
	}
	target := f.path(week)

	previous, err := os.ReadFile(target)
	switch {
	case err == nil:
		name := fmt.Sprintf("%s.%s.json", week, f.now().UTC().Format(backupLayout))
		if err := writeAtomic(filepath.Join(f.dir, backupDir), name, previous); err != nil {
			return fmt.Errorf("failed to back up snapshot %s: %w", week, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("failed to read snapshot %s: %w", week, err)
	}

	if err := writeAtomic(f.dir, filepath.Base(target), data); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", week, err)
	}
	return nil
}

// List returns the stored weeks in chronological order. Unrelated files are ignored.
func (f *FileStore) List(_ context.Context) ([]calendar.Week, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", f.dir, err)
	}
	var weeks []calendar.Week
	for _, e := range entries {
		key, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok {
			continue
		}
		w, err := calendar.ParseWeek(key)
		if err != nil {
			continue
		}
		weeks = append(weeks, w)
	}
	slices.SortFunc(weeks, func(a, b calendar.Week) int {
		return strings.Compare(a.String(), b.String())
	})
	return weeks, nil
}

// History lists the backup times of week, oldest first.
func (f *FileStore) History(_ context.Context, week calendar.Week) ([]time.Time, error) {
	entries, err := os.ReadDir(filepath.Join(f.dir, backupDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	var times []time.Time
	prefix := week.String() + "."
	for _, e := range entries {
		stamp, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok {
			continue
		}
		stamp, ok = strings.CutSuffix(stamp, ".json")
		if !ok {
			continue
		}
		t, err := time.Parse(backupLayout, stamp)
		if err != nil {
			continue
		}
		times = append(times, t)
	}
	slices.SortFunc(times, func(a, b time.Time) int { return a.Compare(b) })
	return times, nil
}

// Lock takes an exclusive file lock on the week, shared with other processes.
func (f *FileStore) Lock(ctx context.Context, week calendar.Week) (func() error, error) {
	fl := flock.New(filepath.Join(f.dir, week.String()+".lock"))
	locked, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("failed to lock week %s: %w", week, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock week %s: lock is held elsewhere", week)
	}
	return fl.Unlock, nil
}

// Close is a no-op for the file backend.
func (f *FileStore) Close() error {
	return nil
}

// writeAtomic writes data to a temporary file in dir and renames it into place.
func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}
