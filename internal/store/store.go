// Package store persists week snapshots, one document per ISO week.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/naka-gawa/github-weekly/internal/calendar"
	"github.com/naka-gawa/github-weekly/internal/domain"
)

// ErrSnapshotNotFound is returned by Load when no snapshot exists for the week.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Backend selects a Store implementation.
type Backend string

const (
	FileBackend     Backend = "file"
	SQLiteBackend   Backend = "sqlite"
	PostgresBackend Backend = "postgres"
)

// Store loads and saves week snapshots.
// Save validates the snapshot and keeps a backup of the version it replaces.
// Lock serialises writers of the same week; callers release it with the
// returned function.
type Store interface {
	Exists(ctx context.Context, week calendar.Week) (bool, error)
	Load(ctx context.Context, week calendar.Week) (*domain.WeekSnapshot, error)
	Save(ctx context.Context, s *domain.WeekSnapshot) error
	List(ctx context.Context) ([]calendar.Week, error)
	// History returns when each backup of the week was taken, oldest first.
	History(ctx context.Context, week calendar.Week) ([]time.Time, error)
	Lock(ctx context.Context, week calendar.Week) (func() error, error)
	Close() error
}

// Open creates the Store for backend. The SQLite database defaults to a file
// inside dataDir when dsn is empty.
func Open(backend Backend, dataDir, dsn string) (Store, error) {
	switch backend {
	case FileBackend, "":
		return NewFileStore(dataDir)
	case SQLiteBackend:
		if dsn == "" {
			dsn = filepath.Join(dataDir, "github-weekly.db")
		}
		return NewSQLStore(backend, dsn)
	case PostgresBackend:
		if dsn == "" {
			return nil, fmt.Errorf("store-dsn is required for the %s backend", backend)
		}
		return NewSQLStore(backend, dsn)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s. Must be file, sqlite or postgres", backend)
	}
}

func encode(s *domain.WeekSnapshot) ([]byte, calendar.Week, error) {
	if s == nil {
		return nil, calendar.Week{}, errors.New("cannot save a nil snapshot")
	}
	if err := s.Validate(); err != nil {
		return nil, calendar.Week{}, fmt.Errorf("refusing to save week %s: %w", s.Week, err)
	}
	w, err := s.Coordinate()
	if err != nil {
		return nil, calendar.Week{}, err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, calendar.Week{}, fmt.Errorf("failed to marshal week %s: %w", s.Week, err)
	}
	return data, w, nil
}

func decode(data []byte, week calendar.Week) (*domain.WeekSnapshot, error) {
	var s domain.WeekSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("corrupt snapshot %s: %w", week, err)
	}
	if s.Week != week.String() {
		return nil, fmt.Errorf("corrupt snapshot %s: %w: stored week is %q", week, domain.ErrInvariant, s.Week)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("corrupt snapshot %s: %w", week, err)
	}
	if s.Users == nil {
		s.Users = map[string]*domain.UserWeekRecord{}
	}
	if s.RepositoryMetrics == nil {
		s.RepositoryMetrics = map[string]domain.RepositoryMetrics{}
	}
	if s.Repositories == nil {
		s.Repositories = []string{}
	}
	return &s, nil
}
