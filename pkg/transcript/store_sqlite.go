package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_entries (
		  seq INTEGER PRIMARY KEY AUTOINCREMENT,
		  session_id TEXT NOT NULL,
		  direction TEXT NOT NULL,
		  text TEXT NOT NULL DEFAULT '',
		  frame TEXT NOT NULL DEFAULT '',
		  turn_complete INTEGER NOT NULL DEFAULT 0,
		  interrupted INTEGER NOT NULL DEFAULT 0,
		  error TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_entries_by_session
		  ON transcript_entries(session_id, seq);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite transcript store: migrate")
		}
	}
	// databases created before the frame column existed
	if _, err := s.db.Exec(`ALTER TABLE transcript_entries ADD COLUMN frame TEXT NOT NULL DEFAULT ''`); err != nil &&
		!strings.Contains(err.Error(), "duplicate column") {
		return errors.Wrap(err, "sqlite transcript store: add frame column")
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	if err := validateEntry(e); err != nil {
		return err
	}
	if e.CreatedAtMs == 0 {
		e.CreatedAtMs = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_entries
		  (session_id, direction, text, frame, turn_complete, interrupted, error, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.SessionID, string(e.Direction), e.Text, e.Frame, boolToInt(e.TurnComplete), boolToInt(e.Interrupted), e.Error, e.CreatedAtMs)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: insert entry")
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	limit = normalizeLimit(limit)
	// newest first, then reversed into relay order
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, session_id, direction, text, frame, turn_complete, interrupted, error, created_at_ms
		FROM transcript_entries
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: list entries")
	}
	defer func() { _ = rows.Close() }()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e            Entry
			direction    string
			turnComplete int64
			interrupted  int64
		)
		if err := rows.Scan(&e.Seq, &e.SessionID, &direction, &e.Text, &e.Frame, &turnComplete, &interrupted, &e.Error, &e.CreatedAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan entry")
		}
		e.Direction = Direction(direction)
		e.TurnComplete = turnComplete == 1
		e.Interrupted = interrupted == 1
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate entries")
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite transcript store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
