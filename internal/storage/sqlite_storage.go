package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"presence-agent/internal/core/domain"
)

// SQLiteStorage is the single-file embedded backend.
type SQLiteStorage struct {
	DB *sql.DB
}

func NewSQLiteStorage(ctx context.Context, path string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; the driver serializes on a single connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{DB: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

var _ Backend = (*SQLiteStorage)(nil)

func (s *SQLiteStorage) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rooms (id TEXT PRIMARY KEY)`,
		`CREATE TABLE IF NOT EXISTS accounts (user_id TEXT PRIMARY KEY, handle TEXT, display_name TEXT, source TEXT)`,
		`CREATE TABLE IF NOT EXISTS participants (user_id TEXT, room_id TEXT, PRIMARY KEY(user_id, room_id))`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			agent_id TEXT,
			user_id TEXT,
			room_id TEXT,
			content TEXT,
			created_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS memories_room_created ON memories (room_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT)`,
	}
	for _, q := range queries {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.DB.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner) (domain.LocalMemory, error) {
	var m domain.LocalMemory
	var content string
	var created int64
	if err := r.Scan(&m.ID, &m.AgentID, &m.UserID, &m.RoomID, &content, &created); err != nil {
		return domain.LocalMemory{}, err
	}
	if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
		return domain.LocalMemory{}, fmt.Errorf("decode memory %s: %w", m.ID, err)
	}
	m.CreatedAt = time.Unix(0, created).UTC()
	return m, nil
}

func (s *SQLiteStorage) GetMemory(ctx context.Context, id string) (domain.LocalMemory, error) {
	row := s.DB.QueryRowContext(ctx,
		"SELECT id, agent_id, user_id, room_id, content, created_at FROM memories WHERE id = ?", id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LocalMemory{}, domain.ErrNotFound
	}
	return m, err
}

func (s *SQLiteStorage) CreateMemory(ctx context.Context, m domain.LocalMemory) error {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO memories (id, agent_id, user_id, room_id, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		m.ID, m.AgentID, m.UserID, m.RoomID, string(content), m.CreatedAt.UnixNano())
	return err
}

func (s *SQLiteStorage) RecentMemories(ctx context.Context, roomID string, limit int) ([]domain.LocalMemory, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, agent_id, user_id, room_id, content, created_at FROM memories
		 WHERE room_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.LocalMemory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *SQLiteStorage) EnsureRoom(ctx context.Context, roomID string) error {
	_, err := s.DB.ExecContext(ctx, "INSERT INTO rooms (id) VALUES (?) ON CONFLICT DO NOTHING", roomID)
	return err
}

func (s *SQLiteStorage) EnsureParticipant(ctx context.Context, userID, roomID string) error {
	if err := s.EnsureRoom(ctx, roomID); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, "INSERT INTO participants (user_id, room_id) VALUES (?, ?) ON CONFLICT DO NOTHING", userID, roomID)
	return err
}

func (s *SQLiteStorage) EnsureConnection(ctx context.Context, c domain.Connection) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO accounts (user_id, handle, display_name, source) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET handle = excluded.handle, display_name = excluded.display_name`,
		c.UserID, c.Handle, c.DisplayName, c.Source)
	if err != nil {
		return err
	}
	return s.EnsureParticipant(ctx, c.UserID, c.RoomID)
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.DB.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStorage) Set(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value", key, value)
	return err
}

// count is used by tests to inspect table sizes.
func (s *SQLiteStorage) count(ctx context.Context, table string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}
