package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"presence-agent/internal/core/domain"
	"presence-agent/internal/core/ports"
)

const (
	// TimelineKey is the cache key of the home timeline snapshot.
	TimelineKey = "timeline/home"

	defaultTimelineSize = 50
)

// Timeline serves the home timeline from the cache, fetching it from the
// platform only when no snapshot exists yet.
type Timeline struct {
	site   ports.Site
	cache  ports.Cache
	limit  int
	logger *slog.Logger
}

func NewTimeline(site ports.Site, cache ports.Cache, limit int, logger *slog.Logger) *Timeline {
	if limit <= 0 {
		limit = defaultTimelineSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Timeline{site: site, cache: cache, limit: limit, logger: logger}
}

func (t *Timeline) Snapshot(ctx context.Context) ([]domain.Post, error) {
	raw, ok, err := t.cache.Get(ctx, TimelineKey)
	if err != nil {
		return nil, fmt.Errorf("read timeline snapshot: %w", err)
	}
	if ok {
		var posts []domain.Post
		if err := json.Unmarshal([]byte(raw), &posts); err == nil {
			return posts, nil
		}
		t.logger.Warn("timeline_snapshot_corrupt")
	}

	posts, err := t.site.FetchTimeline(ctx, t.limit)
	if err != nil {
		return nil, fmt.Errorf("fetch timeline: %w", err)
	}
	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := t.cache.Set(ctx, TimelineKey, string(data)); err != nil {
		t.logger.Warn("timeline_snapshot_save_failed", "error", err)
	}
	return posts, nil
}
