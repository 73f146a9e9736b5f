package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/naka-gawa/github-weekly/internal/calendar"
	"github.com/naka-gawa/github-weekly/internal/domain"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLStore keeps snapshots as JSON documents in a SQL table. Replaced
// versions are copied to a history table.
//
// Week locks hold across processes: Postgres uses session advisory locks,
// SQLite a lock file next to the database. In-memory SQLite databases only
// lock within the process.
type SQLStore struct {
	db      *sql.DB
	backend Backend
	now     func() time.Time
	// lockBase prefixes the SQLite lock files; empty for in-memory databases.
	lockBase string

	mu    sync.Mutex
	locks map[string]chan struct{}
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore connects to the database and creates the tables if needed.
func NewSQLStore(backend Backend, dsn string) (*SQLStore, error) {
	var driverName string
	switch backend {
	case SQLiteBackend:
		driverName = "sqlite"
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory for %q: %w", dsn, err)
			}
		}
	case PostgresBackend:
		driverName = "pgx"
	default:
		return nil, fmt.Errorf("unsupported SQL backend: %s", backend)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", backend, err)
	}
	if backend == SQLiteBackend {
		// A single connection avoids "database is locked" errors.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s store: %w", backend, err)
	}

	s := &SQLStore{db: db, backend: backend, now: time.Now, locks: map[string]chan struct{}{}}
	if backend == SQLiteBackend {
		s.lockBase = sqliteFile(dsn)
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	historyID := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.backend == PostgresBackend {
		historyID = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS week_snapshots (
			week TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			generated_at TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS week_snapshot_history (
			id %s,
			week TEXT NOT NULL,
			body TEXT NOT NULL,
			saved_at TEXT NOT NULL
		)`, historyID),
		`CREATE INDEX IF NOT EXISTS idx_week_snapshot_history_week ON week_snapshot_history(week)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate %s store: %w", s.backend, err)
		}
	}
	return nil
}

// rebind rewrites '?' placeholders for backends that number them.
func (s *SQLStore) rebind(query string) string {
	if s.backend != PostgresBackend {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Exists reports whether a snapshot row exists for week.
func (s *SQLStore) Exists(ctx context.Context, week calendar.Week) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM week_snapshots WHERE week = ?`), week.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up snapshot %s: %w", week, err)
	}
	return n > 0, nil
}

// Load reads and validates the snapshot of week.
func (s *SQLStore) Load(ctx context.Context, week calendar.Week) (*domain.WeekSnapshot, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT body FROM week_snapshots WHERE week = ?`), week.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, week)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", week, err)
	}
	return decode([]byte(body), week)
}

// Save moves the current row to the history table and upserts snapshot in one transaction.
func (s *SQLStore) Save(ctx context.Context, snapshot *domain.WeekSnapshot) error {
	data, week, err := encode(snapshot)
	if err != nil {
		return err
	}
	key := week.String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin saving snapshot %s: %w", week, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var previous string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT body FROM week_snapshots WHERE week = ?`), key).Scan(&previous)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO week_snapshot_history (week, body, saved_at) VALUES (?, ?, ?)`),
			key, previous, s.now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to back up snapshot %s: %w", week, err)
		}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to read snapshot %s: %w", week, err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO week_snapshots (week, body, generated_at) VALUES (?, ?, ?)
		ON CONFLICT (week) DO UPDATE SET body = excluded.body, generated_at = excluded.generated_at`),
		key, string(data), snapshot.GeneratedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", week, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot %s: %w", week, err)
	}
	return nil
}

// List returns the stored weeks in chronological order.
func (s *SQLStore) List(ctx context.Context) ([]calendar.Week, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT week FROM week_snapshots ORDER BY week`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var weeks []calendar.Week
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		w, err := calendar.ParseWeek(key)
		if err != nil {
			return nil, fmt.Errorf("corrupt snapshot key: %w", err)
		}
		weeks = append(weeks, w)
	}
	return weeks, rows.Err()
}

// History lists the backup times of week, oldest first.
func (s *SQLStore) History(ctx context.Context, week calendar.Week) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT saved_at FROM week_snapshot_history WHERE week = ? ORDER BY id`), week.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list backups of %s: %w", week, err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var stamp string
		if err := rows.Scan(&stamp); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			return nil, fmt.Errorf("corrupt backup time %q: %w", stamp, err)
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// Lock serialises writers of the same week, across processes sharing the database.
func (s *SQLStore) Lock(ctx context.Context, week calendar.Week) (func() error, error) {
	switch {
	case s.backend == PostgresBackend:
		return s.advisoryLock(ctx, week)
	case s.lockBase != "":
		fl := flock.New(s.lockBase + "." + week.String() + ".lock")
		locked, err := fl.TryLockContext(ctx, lockRetry)
		if err != nil {
			return nil, fmt.Errorf("failed to lock week %s: %w", week, err)
		}
		if !locked {
			return nil, fmt.Errorf("failed to lock week %s: lock is held elsewhere", week)
		}
		return fl.Unlock, nil
	default:
		return s.localLock(ctx, week)
	}
}

// advisoryLock takes a session-level advisory lock on a connection reserved
// until the lock is released.
func (s *SQLStore) advisoryLock(ctx context.Context, week calendar.Week) (func() error, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to lock week %s: %w", week, err)
	}
	for {
		var locked bool
		err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext('github-weekly'), hashtext($1))`, week.String()).Scan(&locked)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to lock week %s: %w", week, err)
		}
		if locked {
			break
		}
		if err := sleepContext(ctx, lockRetry); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to lock week %s: %w", week, err)
		}
	}
	return func() error {
		_, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext('github-weekly'), hashtext($1))`, week.String())
		if closeErr := conn.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("failed to unlock week %s: %w", week, err)
		}
		return nil
	}, nil
}

func (s *SQLStore) localLock(ctx context.Context, week calendar.Week) (func() error, error) {
	s.mu.Lock()
	ch, ok := s.locks[week.String()]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[week.String()] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() error {
			<-ch
			return nil
		}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to lock week %s: %w", week, ctx.Err())
	}
}

// sqliteFile returns the database file named by a SQLite DSN, or "" for
// in-memory databases.
func sqliteFile(dsn string) string {
	path, query, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if path == "" || path == ":memory:" || strings.Contains(query, "mode=memory") {
		return ""
	}
	return path
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
