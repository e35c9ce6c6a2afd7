package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"presence-agent/internal/core/domain"
)

type PostgresStorage struct {
	Pool *pgxpool.Pool
}

func NewPostgresStorage(ctx context.Context, connStr string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	s := &PostgresStorage{Pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

var _ Backend = (*PostgresStorage)(nil)

func (s *PostgresStorage) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rooms (id TEXT PRIMARY KEY, created_at TIMESTAMPTZ DEFAULT now())`,
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			handle TEXT,
			display_name TEXT,
			source TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS participants (user_id TEXT, room_id TEXT, PRIMARY KEY(user_id, room_id))`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			agent_id TEXT,
			user_id TEXT,
			room_id TEXT,
			content JSONB,
			created_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS memories_room_created ON memories (room_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT)`,
	}

	for _, q := range queries {
		if _, err := s.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	s.Pool.Close()
	return nil
}

func (s *PostgresStorage) GetMemory(ctx context.Context, id string) (domain.LocalMemory, error) {
	var m domain.LocalMemory
	var content []byte
	err := s.Pool.QueryRow(ctx,
		"SELECT id, agent_id, user_id, room_id, content, created_at FROM memories WHERE id = $1", id).
		Scan(&m.ID, &m.AgentID, &m.UserID, &m.RoomID, &content, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LocalMemory{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LocalMemory{}, err
	}
	if err := json.Unmarshal(content, &m.Content); err != nil {
		return domain.LocalMemory{}, fmt.Errorf("decode memory %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStorage) CreateMemory(ctx context.Context, m domain.LocalMemory) error {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO memories (id, agent_id, user_id, room_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		m.ID, m.AgentID, m.UserID, m.RoomID, content, m.CreatedAt)
	return err
}

func (s *PostgresStorage) RecentMemories(ctx context.Context, roomID string, limit int) ([]domain.LocalMemory, error) {
	// LIMIT NULL is LIMIT ALL.
	var lim any = limit
	if limit <= 0 {
		lim = nil
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT id, agent_id, user_id, room_id, content, created_at FROM memories
		 WHERE room_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, roomID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.LocalMemory
	for rows.Next() {
		var m domain.LocalMemory
		var content []byte
		if err := rows.Scan(&m.ID, &m.AgentID, &m.UserID, &m.RoomID, &content, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(content, &m.Content); err != nil {
			return nil, fmt.Errorf("decode memory %s: %w", m.ID, err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *PostgresStorage) EnsureRoom(ctx context.Context, roomID string) error {
	_, err := s.Pool.Exec(ctx, "INSERT INTO rooms (id) VALUES ($1) ON CONFLICT DO NOTHING", roomID)
	return err
}

func (s *PostgresStorage) EnsureParticipant(ctx context.Context, userID, roomID string) error {
	if err := s.EnsureRoom(ctx, roomID); err != nil {
		return err
	}
	_, err := s.Pool.Exec(ctx, "INSERT INTO participants (user_id, room_id) VALUES ($1, $2) ON CONFLICT DO NOTHING", userID, roomID)
	return err
}

func (s *PostgresStorage) EnsureConnection(ctx context.Context, c domain.Connection) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO accounts (user_id, handle, display_name, source) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET handle = $2, display_name = $3`,
		c.UserID, c.Handle, c.DisplayName, c.Source)
	if err != nil {
		return err
	}
	return s.EnsureParticipant(ctx, c.UserID, c.RoomID)
}

func (s *PostgresStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.Pool.QueryRow(ctx, "SELECT value FROM kv WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *PostgresStorage) Set(ctx context.Context, key, value string) error {
	_, err := s.Pool.Exec(ctx,
		"INSERT INTO kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = $2", key, value)
	return err
}
