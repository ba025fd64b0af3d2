package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"webproxy/internal/model"
)

// SQLite persists counters and cached responses in one database file.
// Several proxy processes may share the file: every increment is a single
// atomic upsert.
type SQLite struct {
	db        *sql.DB
	now       func() time.Time
	closeOnce sync.Once

	incrStmt    *sql.Stmt
	getStmt     *sql.Stmt
	setStmt     *sql.Stmt
	deleteStmt  *sql.Stmt
	cleanCounts *sql.Stmt
	cleanCache  *sql.Stmt
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS counters (
	key        TEXT PRIMARY KEY,
	value      INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	status     INTEGER NOT NULL,
	header     TEXT NOT NULL,
	body       BLOB NOT NULL,
	stored_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_counters_expires ON counters(expires_at);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
`

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("store: sqlite path cannot be empty")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db, now: time.Now}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) prepare() error {
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.incrStmt, `
			INSERT INTO counters (key, value, expires_at) VALUES (?1, 1, ?2)
			ON CONFLICT (key) DO UPDATE SET
				value = CASE WHEN counters.expires_at <= ?3 THEN 1 ELSE counters.value + 1 END,
				expires_at = CASE WHEN counters.expires_at <= ?3 THEN excluded.expires_at ELSE counters.expires_at END
			RETURNING value`},
		{&s.getStmt, `
			SELECT status, header, body, stored_at FROM cache_entries
			WHERE key = ? AND expires_at > ?`},
		{&s.setStmt, `
			INSERT INTO cache_entries (key, status, header, body, stored_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				status = excluded.status,
				header = excluded.header,
				body = excluded.body,
				stored_at = excluded.stored_at,
				expires_at = excluded.expires_at`},
		{&s.deleteStmt, `DELETE FROM cache_entries WHERE key = ?`},
		{&s.cleanCounts, `DELETE FROM counters WHERE expires_at <= ?`},
		{&s.cleanCache, `DELETE FROM cache_entries WHERE expires_at <= ?`},
	}
	for _, st := range stmts {
		prepared, err := s.db.Prepare(st.query)
		if err != nil {
			return fmt.Errorf("store: prepare statement: %w", err)
		}
		*st.dst = prepared
	}
	return nil
}

func (s *SQLite) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now()
	var n int64
	err := s.incrStmt.QueryRowContext(ctx, key, now.Add(ttl).UnixNano(), now.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: increment %s: %w", key, err)
	}
	return n, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (*model.CacheEntry, bool, error) {
	var (
		status   int
		header   string
		body     []byte
		storedAt int64
	)
	err := s.getStmt.QueryRowContext(ctx, key, s.now().UnixNano()).Scan(&status, &header, &body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: load cache entry: %w", err)
	}

	entry := &model.CacheEntry{
		Status:   status,
		Header:   make(http.Header),
		Body:     body,
		StoredAt: time.Unix(0, storedAt),
	}
	if err := json.Unmarshal([]byte(header), &entry.Header); err != nil {
		return nil, false, fmt.Errorf("store: decode cached header: %w", err)
	}
	return entry, true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, entry *model.CacheEntry, ttl time.Duration) error {
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("store: encode cached header: %w", err)
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = s.now()
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}

	_, err = s.setStmt.ExecContext(ctx, key, entry.Status, string(header), body,
		storedAt.UnixNano(), s.now().Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("store: save cache entry: %w", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.deleteStmt.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("store: delete cache entry: %w", err)
	}
	return nil
}

func (s *SQLite) Cleanup(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for _, stmt := range []*sql.Stmt{s.cleanCounts, s.cleanCache} {
		res, err := stmt.ExecContext(ctx, now.UnixNano())
		if err != nil {
			return removed, fmt.Errorf("store: cleanup: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("store: cleanup rows affected: %w", err)
		}
		removed += int(n)
	}
	return removed, nil
}

func (s *SQLite) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.incrStmt, s.getStmt, s.setStmt, s.deleteStmt, s.cleanCounts, s.cleanCache} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}
