// Package thread rebuilds the reply chain above a post.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"presence-agent/internal/core/domain"
	"presence-agent/internal/core/ports"
)

// DefaultMaxDepth bounds how many parents are followed above the leaf.
const DefaultMaxDepth = 10

type Reconstructor struct {
	site    ports.Site
	memory  ports.MemoryStore
	agentID string
	logger  *slog.Logger
}

func NewReconstructor(site ports.Site, memory ports.MemoryStore, agentID string, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reconstructor{site: site, memory: memory, agentID: agentID, logger: logger}
}

// walk is the state carried from one step of the ascent to the next.
type walk struct {
	thread  []domain.Post
	visited map[string]struct{}
}

// Build follows ParentID upward from leaf and returns the chain root-first.
// The node at maxDepth is kept but its parent is not fetched, so the result
// holds at most maxDepth+1 posts. A cycle, a missing parent or a failed fetch
// ends the ascent early without error. Every visited post is recorded as a
// LocalMemory unless one already exists.
func (r *Reconstructor) Build(ctx context.Context, leaf domain.Post, maxDepth int) ([]domain.Post, error) {
	thread, err := r.Walk(ctx, leaf, maxDepth)
	if err != nil {
		return nil, err
	}
	if err := r.Record(ctx, leaf); err != nil {
		return nil, err
	}
	return thread, nil
}

// Walk is Build without recording the leaf itself. Callers that treat the
// leaf's LocalMemory as proof of completed handling record it with Record once
// that handling succeeds.
func (r *Reconstructor) Walk(ctx context.Context, leaf domain.Post, maxDepth int) ([]domain.Post, error) {
	if maxDepth < 0 {
		maxDepth = 0
	}
	w := walk{visited: make(map[string]struct{})}
	cur := leaf

	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, seen := w.visited[cur.ID]; seen {
			r.logger.Debug("thread_cycle", "post_id", cur.ID, "depth", depth)
			break
		}
		w.visited[cur.ID] = struct{}{}
		w.thread = append(w.thread, cur)

		if depth > 0 {
			if err := r.Record(ctx, cur); err != nil {
				return nil, err
			}
		}

		if depth >= maxDepth {
			r.logger.Debug("thread_truncated", "post_id", cur.ID, "depth", depth)
			break
		}
		if cur.IsRoot() {
			break
		}

		parent, err := r.site.FetchPost(ctx, cur.ParentID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				r.logger.Warn("thread_parent_fetch_failed", "parent_id", cur.ParentID, "error", err)
			}
			break
		}
		cur = parent
	}

	// Collected leaf-first; reverse into root-first order.
	for i, j := 0, len(w.thread)-1; i < j; i, j = i+1, j-1 {
		w.thread[i], w.thread[j] = w.thread[j], w.thread[i]
	}
	r.logger.Debug("thread_built", "leaf_id", leaf.ID, "length", len(w.thread))
	return w.thread, nil
}

// Record ensures a LocalMemory exists for p. An existing memory is never overwritten.
func (r *Reconstructor) Record(ctx context.Context, p domain.Post) error {
	m := domain.MemoryFromPost(p, r.agentID, r.site.SelfID())
	_, err := r.memory.GetMemory(ctx, m.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("lookup memory for %s: %w", p.ID, err)
	}
	if err := r.memory.EnsureConnection(ctx, domain.ConnectionForPost(p, r.agentID)); err != nil {
		return fmt.Errorf("ensure connection for %s: %w", p.ID, err)
	}
	if err := r.memory.CreateMemory(ctx, m); err != nil {
		return fmt.Errorf("record post %s: %w", p.ID, err)
	}
	return nil
}
