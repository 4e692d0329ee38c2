package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	maxSessionIDLen = 128
	maxKeyLen       = 256
	// fixed width so stored timestamps compare correctly as text
	tsLayout = "2006-01-02T15:04:05.000000000Z"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Session summarizes one session's storage.
type Session struct {
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Entries    int       `json:"entries"`
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// SetClock overrides the timestamp source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Store) Get(ctx context.Context, sessionID, key string) ([]byte, error) {
	if err := validateEntryRef(sessionID, key); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, `
SELECT value FROM session_entries WHERE session_id = ? AND entry_key = ?
`, sessionID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session entry: %w", err)
	}
	return value, nil
}

// Put writes value under key and marks the session as seen.
func (s *Store) Put(ctx context.Context, sessionID, key string, value []byte) error {
	if err := validateEntryRef(sessionID, key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	now := ts(s.now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := touchSession(ctx, tx, sessionID, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO session_entries(session_id, entry_key, value, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_id, entry_key) DO UPDATE SET
	value=excluded.value,
	updated_at=excluded.updated_at
`, sessionID, key, value, now); err != nil {
		return fmt.Errorf("put session entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, sessionID, key string) error {
	if err := validateEntryRef(sessionID, key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_entries WHERE session_id = ? AND entry_key = ?`, sessionID, key); err != nil {
		return fmt.Errorf("delete session entry: %w", err)
	}
	return nil
}

// Touch records activity for a session, creating it if needed.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin touch tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := touchSession(ctx, tx, sessionID, ts(s.now())); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearSession ends a session: the session row and all its entries go.
// It returns the number of entries removed.
func (s *Store) ClearSession(ctx context.Context, sessionID string) (int64, error) {
	if err := validateSessionID(sessionID); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin clear tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	res, err := tx.ExecContext(ctx, `DELETE FROM session_entries WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("clear session entries: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return 0, fmt.Errorf("clear session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit clear: %w", err)
	}
	return n, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.session_id, s.created_at, s.last_seen_at, COUNT(e.entry_key)
FROM sessions s
LEFT JOIN session_entries e ON e.session_id = s.session_id
GROUP BY s.session_id
ORDER BY s.last_seen_at DESC, s.session_id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		var (
			sess              Session
			created, lastSeen string
		)
		if err := rows.Scan(&sess.SessionID, &created, &lastSeen, &sess.Entries); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if sess.CreatedAt, err = parseTS(created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if sess.LastSeenAt, err = parseTS(lastSeen); err != nil {
			return nil, fmt.Errorf("parse last_seen_at: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// PurgeIdleSessions removes sessions last seen before cutoff together with
// their entries and returns how many sessions were removed.
func (s *Store) PurgeIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ?`, ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge idle sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	switch table {
	case "sessions", "session_entries":
	default:
		return 0, fmt.Errorf("%w: table %q", ErrInvalidArgument, table)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func touchSession(ctx context.Context, tx *sql.Tx, sessionID, now string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO sessions(session_id, created_at, last_seen_at)
VALUES (?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET last_seen_at=excluded.last_seen_at
`, sessionID, now, now)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func validateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" || len(sessionID) > maxSessionIDLen {
		return fmt.Errorf("%w: session id", ErrInvalidArgument)
	}
	return nil
}

func validateEntryRef(sessionID, key string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" || len(key) > maxKeyLen {
		return fmt.Errorf("%w: entry key", ErrInvalidArgument)
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}
