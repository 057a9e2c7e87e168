package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/chronolock/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		seq               INTEGER PRIMARY KEY AUTOINCREMENT,
		id                TEXT NOT NULL UNIQUE,
		owner             TEXT NOT NULL,
		mode              TEXT NOT NULL,
		title             TEXT NOT NULL,
		note              TEXT,
		created_at        TEXT NOT NULL,
		unlock_at         TEXT NOT NULL,
		emotion_label     TEXT NOT NULL DEFAULT '',
		emotion_intensity REAL NOT NULL DEFAULT 0,
		duration_seconds  INTEGER NOT NULL DEFAULT 0,
		contract_id       INTEGER NOT NULL DEFAULT 0,
		content_id        TEXT,
		encryption_key    BLOB,
		payload           BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_memories_mode_owner ON memories(mode, owner, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

const selectColumns = `id, owner, mode, title, note, created_at, unlock_at, emotion_label,
	emotion_intensity, duration_seconds, contract_id, content_id, encryption_key, payload`

func (s *SQLiteStore) insert(ctx context.Context, tx *sql.Tx, m model.Memory) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO memories (id, owner, mode, title, note, created_at, unlock_at, emotion_label,
			emotion_intensity, duration_seconds, contract_id, content_id, encryption_key, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Owner, string(m.Mode), m.Title, nullString(m.Note),
		m.CreatedAt.UTC().Format(time.RFC3339Nano), m.UnlockAt.UTC().Format(time.RFC3339Nano),
		m.Emotion.Label, m.Emotion.Intensity, m.DurationSeconds, int64(m.ContractID),
		nullString(m.ContentID), m.EncryptionKey, m.Payload)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Records(ctx context.Context, owner string) ([]model.Memory, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM memories WHERE mode = ? AND owner = ? ORDER BY seq`,
		string(model.ModeReal), owner)
}

func (s *SQLiteStore) Append(ctx context.Context, owner string, m model.Memory) error {
	m.Owner = owner
	m.Mode = model.ModeReal

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.insert(ctx, tx, m); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM memories WHERE mode = ? AND owner = ? AND seq NOT IN (
			SELECT seq FROM memories WHERE mode = ? AND owner = ? ORDER BY seq DESC LIMIT ?
		)`, string(model.ModeReal), owner, string(model.ModeReal), owner, RingSize)
	if err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ClearOwner(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE mode = ? AND owner = ?`, string(model.ModeReal), owner)
	return err
}

func (s *SQLiteStore) Simulated(ctx context.Context) ([]model.Memory, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM memories WHERE mode = ? ORDER BY seq`, string(model.ModeSimulated))
}

func (s *SQLiteStore) AppendSimulated(ctx context.Context, m model.Memory) error {
	if m.Owner == "" {
		return fmt.Errorf("simulated record %s has no owner", m.ID)
	}
	m.Mode = model.ModeSimulated

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.insert(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ClearSimulated(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE mode = ?`, string(model.ModeSimulated))
	return err
}

func (s *SQLiteStore) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT owner FROM memories WHERE mode = ? ORDER BY owner`, string(model.ModeReal))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...interface{}) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var mode, createdAt, unlockAt string
	var note, contentID sql.NullString
	var contractID int64

	err := row.Scan(
		&m.ID, &m.Owner, &mode, &m.Title, &note, &createdAt, &unlockAt, &m.Emotion.Label,
		&m.Emotion.Intensity, &m.DurationSeconds, &contractID, &contentID, &m.EncryptionKey, &m.Payload,
	)
	if err != nil {
		return m, err
	}

	m.Mode = model.Mode(mode)
	m.ContractID = uint64(contractID)
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return m, fmt.Errorf("memory %s created_at: %w", m.ID, err)
	}
	if m.UnlockAt, err = time.Parse(time.RFC3339Nano, unlockAt); err != nil {
		return m, fmt.Errorf("memory %s unlock_at: %w", m.ID, err)
	}
	if note.Valid {
		m.Note = note.String
	}
	if contentID.Valid {
		m.ContentID = contentID.String
	}
	return m, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
