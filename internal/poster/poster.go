// Package poster publishes unprompted posts on a randomized schedule.
package poster

import (
	"context"
	"log/slog"

	"presence-agent/internal/scheduler"
)

const (
	PostTask = "original_posts"
	ArtTask  = "art_posts"
)

// Composer produces and publishes one original post.
type Composer interface {
	ComposeOriginalPost(ctx context.Context, withImage bool) error
}

// ArtComposer produces and publishes one generated artwork.
type ArtComposer interface {
	ComposeArtPost(ctx context.Context) error
}

type Poster struct {
	composer  Composer
	withImage bool
	logger    *slog.Logger
}

func New(composer Composer, withImage bool, logger *slog.Logger) *Poster {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Poster{composer: composer, withImage: withImage, logger: logger}
}

// RunOnce generates and publishes a single post.
func (p *Poster) RunOnce(ctx context.Context) error {
	p.logger.Info("original_post_start", "with_image", p.withImage)
	return p.composer.ComposeOriginalPost(ctx, p.withImage)
}

// Start registers the post loop. When postImmediately is set the first post
// goes out at startup instead of after the first delay.
func (p *Poster) Start(s *scheduler.Scheduler, delay scheduler.DelayFunc, postImmediately bool) error {
	return s.Add(scheduler.Task{
		Name:      PostTask,
		Delay:     delay,
		Immediate: postImmediately,
		Run:       p.RunOnce,
	})
}

// StartArt registers the artwork loop. It never fires at startup.
func StartArt(s *scheduler.Scheduler, art ArtComposer, delay scheduler.DelayFunc) error {
	return s.Add(scheduler.Task{
		Name:  ArtTask,
		Delay: delay,
		Run:   art.ComposeArtPost,
	})
}
