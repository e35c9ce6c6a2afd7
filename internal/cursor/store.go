// Package cursor keeps the watermark of the highest fully processed mention id.
package cursor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"presence-agent/internal/core/ports"
)

// DefaultKey is the cache key of the mention cursor.
const DefaultKey = "cursor/last_checked_mention"

// Store holds the cursor in memory and mirrors it to durable storage.
// The value never decreases.
type Store struct {
	cache  ports.Cache
	key    string
	logger *slog.Logger

	mu    sync.Mutex
	value uint64
	set   bool
}

func New(cache ports.Cache, key string, logger *slog.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{cache: cache, key: key, logger: logger}
}

// Load reads the durable value. A missing key leaves the cursor unset.
func (s *Store) Load(ctx context.Context) error {
	raw, ok, err := s.cache.Get(ctx, s.key)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("parse cursor %q: %w", raw, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set || v > s.value {
		s.value, s.set = v, true
	}
	return nil
}

// Current returns the cursor and whether it has ever been set.
func (s *Store) Current() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set
}

// Admits reports whether id lies above the watermark.
func (s *Store) Admits(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.set || id > s.value
}

// Advance raises the cursor to id and flushes it. Ids at or below the current
// value are ignored. When the flush fails the in-memory value stays advanced
// and the error is returned; a later Flush retries the write.
func (s *Store) Advance(ctx context.Context, id uint64) error {
	s.mu.Lock()
	if s.set && id <= s.value {
		s.mu.Unlock()
		return nil
	}
	s.value, s.set = id, true
	s.mu.Unlock()

	return s.Flush(ctx)
}

// Flush writes the in-memory value to durable storage.
func (s *Store) Flush(ctx context.Context) error {
	v, ok := s.Current()
	if !ok {
		return nil
	}
	if err := s.cache.Set(ctx, s.key, strconv.FormatUint(v, 10)); err != nil {
		s.logger.Warn("cursor_flush_failed", "cursor", v, "error", err)
		return fmt.Errorf("flush cursor: %w", err)
	}
	return nil
}
