// Package poller drives the mention pipeline: fetch, order, filter, reconstruct,
// decide, reply, advance the cursor.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"presence-agent/internal/core/domain"
	"presence-agent/internal/core/ports"
	"presence-agent/internal/cursor"
	"presence-agent/internal/scheduler"
)

const DefaultBatchSize = 40

// ThreadBuilder reconstructs the reply chain above a post. Walk records the
// ancestors it visits; the leaf is recorded separately with Record.
type ThreadBuilder interface {
	Walk(ctx context.Context, leaf domain.Post, maxDepth int) ([]domain.Post, error)
	Record(ctx context.Context, p domain.Post) error
}

// Decider is the response gate.
type Decider interface {
	Decide(ctx context.Context, thread []domain.Post, candidate domain.Post, recent []domain.LocalMemory) (domain.Decision, error)
}

// Replier composes and sends a reply.
type Replier interface {
	ComposeReply(ctx context.Context, thread []domain.Post, candidate domain.Post) error
}

type Config struct {
	AgentID     string
	Handle      string
	BatchSize   int
	MaxDepth    int
	RecentLimit int
}

type Poller struct {
	cfg     Config
	site    ports.Site
	memory  ports.MemoryStore
	cursor  *cursor.Store
	threads ThreadBuilder
	gate    Decider
	replier Replier
	logger  *slog.Logger
}

func New(cfg Config, site ports.Site, memory ports.MemoryStore, cur *cursor.Store, threads ThreadBuilder, gate Decider, replier Replier, logger *slog.Logger) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 10
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{cfg: cfg, site: site, memory: memory, cursor: cur, threads: threads, gate: gate, replier: replier, logger: logger}
}

// TaskName names the polling task in the scheduler.
const TaskName = "interactions"

// Start loads the cursor and registers the polling loop, which fires once
// immediately and then after each delay drawn from delay.
func (p *Poller) Start(ctx context.Context, s *scheduler.Scheduler, delay scheduler.DelayFunc) error {
	if err := p.cursor.Load(ctx); err != nil {
		return err
	}
	cur, set := p.cursor.Current()
	p.logger.Info("poller_started", "handle", p.cfg.Handle, "cursor", cur, "cursor_set", set)
	return s.Add(scheduler.Task{
		Name:      TaskName,
		Delay:     delay,
		Immediate: true,
		Run: func(ctx context.Context) error {
			_, err := p.RunOnce(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	})
}

// Outcome tallies one firing.
type Outcome struct {
	Fetched   int
	Processed int
	Skipped   int
	Failed    int
}

type candidate struct {
	post domain.Post
	id   uint64
}

// RunOnce performs one polling pass. A failure while handling one candidate is
// logged and the batch continues; from then on the cursor is held below the
// failed id for the rest of the pass. The failed candidate has no LocalMemory
// yet, so the next pass handles it again. Only a failed search aborts the pass.
func (p *Poller) RunOnce(ctx context.Context) (Outcome, error) {
	var out Outcome
	p.logger.Info("poll_start")

	found, err := p.site.SearchMentions(ctx, "@"+p.cfg.Handle, p.cfg.BatchSize, ports.SearchLatest)
	if err != nil {
		return out, fmt.Errorf("search mentions: %w", err)
	}
	out.Fetched = len(found)

	held := false
	var stopped error
	for _, c := range p.order(found) {
		if err := ctx.Err(); err != nil {
			stopped = err
			break
		}
		if !p.cursor.Admits(c.id) {
			out.Skipped++
			continue
		}

		handled, err := p.handle(ctx, c.post)
		switch {
		case err != nil:
			out.Failed++
			held = true
			p.logger.Error("mention_failed", "post_id", c.post.ID, "error", err)
			continue
		case handled:
			out.Processed++
		default:
			out.Skipped++
		}
		if !held {
			// A flush failure is logged by the store; the end-of-pass flush retries it.
			_ = p.cursor.Advance(ctx, c.id)
		}
	}

	// Progress made before a shutdown still reaches durable storage.
	if err := p.cursor.Flush(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("cursor_final_flush_failed", "error", err)
	}
	cur, _ := p.cursor.Current()
	p.logger.Info("poll_done", "fetched", out.Fetched, "processed", out.Processed,
		"skipped", out.Skipped, "failed", out.Failed, "cursor", cur)
	return out, stopped
}

// order deduplicates by id, drops self-authored posts and posts without a
// numeric id, and sorts ascending by numeric id.
func (p *Poller) order(posts []domain.Post) []candidate {
	self := p.site.SelfID()
	seen := make(map[string]struct{}, len(posts))
	out := make([]candidate, 0, len(posts))
	for _, post := range posts {
		if _, dup := seen[post.ID]; dup {
			continue
		}
		seen[post.ID] = struct{}{}
		if self != "" && post.AuthorID == self {
			continue
		}
		if strings.EqualFold(post.AuthorHandle, p.cfg.Handle) {
			continue
		}
		id, ok := domain.NumericID(post.ID)
		if !ok {
			p.logger.Warn("mention_bad_id", "post_id", post.ID)
			continue
		}
		out = append(out, candidate{post: post, id: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// handle runs one candidate through the pipeline. It reports false when the
// candidate was already known and nothing was done. The candidate's own
// LocalMemory is written last, once it was skipped, declined or answered, so
// its presence means handling completed.
func (p *Poller) handle(ctx context.Context, post domain.Post) (bool, error) {
	localID := domain.LocalID(post.ID, p.cfg.AgentID)
	if _, err := p.memory.GetMemory(ctx, localID); err == nil {
		p.logger.Info("mention_already_handled", "post_id", post.ID)
		return false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, fmt.Errorf("lookup memory: %w", err)
	}

	if err := p.memory.EnsureConnection(ctx, domain.ConnectionForPost(post, p.cfg.AgentID)); err != nil {
		return false, fmt.Errorf("ensure connection: %w", err)
	}

	thread, err := p.threads.Walk(ctx, post, p.cfg.MaxDepth)
	if err != nil {
		return false, fmt.Errorf("build thread: %w", err)
	}

	if strings.TrimSpace(post.Text) == "" {
		p.logger.Info("mention_empty", "post_id", post.ID)
		return true, p.complete(ctx, post)
	}

	roomID := domain.RoomID(post.ConversationID, p.cfg.AgentID)
	recent, err := p.memory.RecentMemories(ctx, roomID, p.cfg.RecentLimit)
	if err != nil {
		p.logger.Warn("recent_memories_unavailable", "room_id", roomID, "error", err)
	}

	decision, err := p.gate.Decide(ctx, thread, post, recent)
	if err != nil {
		return false, err
	}
	if decision != domain.DecisionRespond {
		p.logger.Info("mention_not_answered", "post_id", post.ID, "decision", string(decision))
		return true, p.complete(ctx, post)
	}

	if err := p.replier.ComposeReply(ctx, thread, post); err != nil {
		return false, err
	}
	// The reply is out; a lost leaf memory only leaves the cursor as the guard.
	if err := p.threads.Record(ctx, post); err != nil {
		p.logger.Warn("mention_record_failed", "post_id", post.ID, "error", err)
	}
	return true, nil
}

// complete records the leaf of a candidate that needed no reply.
func (p *Poller) complete(ctx context.Context, post domain.Post) error {
	if err := p.threads.Record(ctx, post); err != nil {
		return fmt.Errorf("record mention: %w", err)
	}
	return nil
}
