// Package composer turns generated text into platform posts: it generates,
// bounds length, optionally renders an image, asks the operator when one is
// configured, sends through a single-slot queue and records what was sent.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"presence-agent/internal/core/domain"
	"presence-agent/internal/core/ports"
	"presence-agent/internal/prompt"
)

// Config holds the composer's tunables.
type Config struct {
	AgentID       string
	Handle        string
	MaxPostLength int
	// MinDelay and MaxDelay bound the pause after every successful send.
	MinDelay     time.Duration
	MaxDelay     time.Duration
	SplitReplies bool
	TraceDir     string
	RecentLimit  int
	MaxDrafts    int
	ImageWidth   int
	ImageHeight  int
	ImageCount   int
	ArtCaption   string
}

func (c *Config) setDefaults() {
	if c.MaxPostLength <= 0 {
		c.MaxPostLength = 280
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = 10
	}
	if c.MaxDrafts <= 0 {
		c.MaxDrafts = 3
	}
	if c.ImageWidth <= 0 {
		c.ImageWidth = 1024
	}
	if c.ImageHeight <= 0 {
		c.ImageHeight = 1024
	}
	if c.ArtCaption == "" {
		c.ArtCaption = "✨ New art generated"
	}
}

// replyActions lists the actions a reply may request.
const replyActions = "GENERATE_IMAGE: attach a generated image to the reply\nNONE: reply with text only"

type Composer struct {
	cfg       Config
	character domain.Character
	site      ports.Site
	brain     ports.Brain
	memory    ports.MemoryStore
	timeline  *Timeline
	queue     *SendQueue
	images    *ImagePipeline
	approver  ports.Interaction
	sleep     func(context.Context, time.Duration) error
	jitter    func() float64
	logger    *slog.Logger
}

type Option func(*Composer)

// WithApprover asks an operator before every send.
func WithApprover(a ports.Interaction) Option {
	return func(c *Composer) { c.approver = a }
}

// WithSleep replaces the post-send pause.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Composer) { c.sleep = sleep }
}

// WithQueue shares a send queue between composers.
func WithQueue(q *SendQueue) Option {
	return func(c *Composer) { c.queue = q }
}

// WithHTTPClient sets the client used to download image URLs.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Composer) {
		c.images.http = h
	}
}

func New(cfg Config, character domain.Character, site ports.Site, brain ports.Brain, memory ports.MemoryStore, cache ports.Cache, logger *slog.Logger, opts ...Option) *Composer {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Composer{
		cfg:       cfg,
		character: character,
		site:      site,
		brain:     brain,
		memory:    memory,
		timeline:  NewTimeline(site, cache, defaultTimelineSize, logger),
		queue:     NewSendQueue(logger),
		images:    NewImagePipeline(brain, character, cfg.ImageWidth, cfg.ImageHeight, cfg.ImageCount, nil, logger),
		sleep:     sleepContext,
		jitter:    rand.Float64,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ComposeReply answers candidate using thread as context. Empty generations are
// dropped silently. Nothing is recorded unless every segment was sent.
func (c *Composer) ComposeReply(ctx context.Context, thread []domain.Post, candidate domain.Post) error {
	roomID := domain.RoomID(candidate.ConversationID, c.cfg.AgentID)

	st := prompt.NewState(c.character, c.cfg.Handle)
	st.Timeline = prompt.FormatTimeline(c.character.Name, c.snapshot(ctx))
	st.RecentPosts = prompt.FormatRecent(c.character.Name, c.recent(ctx, roomID))
	st.CurrentPost = prompt.FormatPost(candidate)
	st.Conversation = prompt.FormatThread(thread)
	st.Actions = replyActions
	genContext, err := prompt.Render(prompt.MessageHandler, st)
	if err != nil {
		return fmt.Errorf("render reply context: %w", err)
	}

	var content domain.GeneratedContent
	for draft := 1; ; draft++ {
		raw, err := c.brain.GenerateText(ctx, genContext, ports.TierMedium, "")
		if err != nil {
			return fmt.Errorf("generate reply to %s: %w", candidate.ID, err)
		}
		text, action := parseReply(raw)
		if text == "" {
			c.logger.Info("reply_empty", "post_id", candidate.ID)
			return nil
		}
		content = domain.GeneratedContent{Text: text, Action: action, ReplyToID: candidate.ID}

		if action == domain.ActionGenerateImage {
			media, err := c.images.Run(ctx, c.bound(text))
			if err != nil {
				return fmt.Errorf("reply to %s: %w", candidate.ID, err)
			}
			content.MediaBuffers = media
		}

		ok, err := c.approve(ctx, "reply to @"+candidate.AuthorHandle, candidate.Text, content, draft)
		if errors.Is(err, errRegenerate) {
			continue
		}
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		break
	}

	results, texts, err := c.deliverReply(ctx, content)
	if err != nil {
		return fmt.Errorf("send reply to %s: %w", candidate.ID, err)
	}

	for i, res := range results {
		action := domain.ActionContinue
		if i == len(results)-1 {
			action = content.Action
		}
		if err := c.record(ctx, res, texts[i], action, candidate.ConversationID); err != nil {
			return err
		}
	}
	c.logger.Info("reply_sent", "post_id", candidate.ID, "segments", len(results), "action", content.Action)

	c.trace(candidate, genContext, content.Text)
	c.pause(ctx)
	return nil
}

// deliverReply sends content as one post, or as a chain of posts when
// splitting is enabled and the text is too long.
func (c *Composer) deliverReply(ctx context.Context, content domain.GeneratedContent) ([]domain.PlatformResult, []string, error) {
	if len(content.MediaBuffers) > 0 {
		text := c.bound(content.Text)
		res, err := c.send(ctx, text, content.ReplyToID, content.MediaBuffers)
		if err != nil {
			return nil, nil, err
		}
		return []domain.PlatformResult{res}, []string{text}, nil
	}

	segments := []string{c.bound(content.Text)}
	if c.cfg.SplitReplies {
		segments = Split(content.Text, c.cfg.MaxPostLength)
	}

	var results []domain.PlatformResult
	replyTo := content.ReplyToID
	for _, seg := range segments {
		res, err := c.send(ctx, seg, replyTo, nil)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, res)
		replyTo = res.ID
	}
	return results, segments, nil
}

// ComposeOriginalPost writes an unprompted post, optionally with an image.
func (c *Composer) ComposeOriginalPost(ctx context.Context, withImage bool) error {
	st := prompt.NewState(c.character, c.cfg.Handle)
	st.Timeline = prompt.FormatTimeline(c.character.Name, c.snapshot(ctx))
	st.Topic = c.pick(c.character.Topics, "the world")
	st.Adjective = c.pick(c.character.Adjectives, "thoughtful")
	genContext, err := prompt.Render(prompt.Post, st)
	if err != nil {
		return fmt.Errorf("render post context: %w", err)
	}

	var content domain.GeneratedContent
	for draft := 1; ; draft++ {
		raw, err := c.brain.GenerateText(ctx, genContext, ports.TierMedium, "")
		if err != nil {
			return fmt.Errorf("generate post: %w", err)
		}
		text := c.bound(stripQuotes(normalizePost(raw)))
		if text == "" {
			c.logger.Info("post_empty")
			return nil
		}
		content = domain.GeneratedContent{Text: text, Action: domain.ActionNone}

		if withImage {
			media, err := c.images.Run(ctx, text)
			if err != nil {
				return fmt.Errorf("post: %w", err)
			}
			content.MediaBuffers = media
		}

		ok, err := c.approve(ctx, "new post", st.Topic, content, draft)
		if errors.Is(err, errRegenerate) {
			continue
		}
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		break
	}

	return c.publish(ctx, content, "post_sent")
}

// ComposeArtPost renders an image of the persona and posts it with a caption.
// Personas without an appearance description are skipped.
func (c *Composer) ComposeArtPost(ctx context.Context) error {
	appearance := c.character.Appearance.Description
	if appearance == "" {
		c.logger.Info("art_skipped", "reason", "no appearance description")
		return nil
	}
	input, err := prompt.Render(prompt.ArtPrompt, prompt.ArtInput{
		Appearance: appearance,
		Examples:   c.character.Appearance.ImagePromptExamples,
	})
	if err != nil {
		return fmt.Errorf("render art prompt: %w", err)
	}
	raw, err := c.brain.GenerateText(ctx, input, ports.TierSmall, prompt.ArtSystem)
	if err != nil {
		return fmt.Errorf("%w: art prompt: %v", domain.ErrImageGeneration, err)
	}
	imagePrompt, err := c.images.withSubject(stripPromptTags(raw))
	if err != nil {
		return err
	}
	media, err := c.images.Generate(ctx, imagePrompt)
	if err != nil {
		return fmt.Errorf("art: %w", err)
	}
	content := domain.GeneratedContent{Text: c.bound(c.cfg.ArtCaption), Action: domain.ActionGenerateImage, MediaBuffers: media}

	// A single draft: regenerate counts as a decline.
	ok, err := c.approve(ctx, "art post", imagePrompt, content, c.cfg.MaxDrafts)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return c.publish(ctx, content, "art_sent")
}

// publish sends a top-level post, records it and pauses.
func (c *Composer) publish(ctx context.Context, content domain.GeneratedContent, event string) error {
	res, err := c.send(ctx, content.Text, "", content.MediaBuffers)
	if err != nil {
		return fmt.Errorf("send post: %w", err)
	}
	if err := c.record(ctx, res, content.Text, content.Action, ""); err != nil {
		return err
	}
	c.logger.Info(event, "id", res.ID, "url", res.URL, "media", len(content.MediaBuffers))
	c.pause(ctx)
	return nil
}

func (c *Composer) send(ctx context.Context, text, replyTo string, media [][]byte) (domain.PlatformResult, error) {
	if len(media) > 0 {
		return c.queue.Do(ctx, "send_post_with_media", func(ctx context.Context) (domain.PlatformResult, error) {
			return c.site.SendPostWithMedia(ctx, text, replyTo, media)
		})
	}
	return c.queue.Do(ctx, "send_post", func(ctx context.Context) (domain.PlatformResult, error) {
		return c.site.SendPost(ctx, text, replyTo)
	})
}

// record projects a sent post into LocalMemory.
func (c *Composer) record(ctx context.Context, res domain.PlatformResult, text, action, fallbackConversation string) error {
	conv := res.ConversationID
	if conv == "" {
		conv = fallbackConversation
	}
	if conv == "" {
		conv = res.ID
	}
	roomID := domain.RoomID(conv, c.cfg.AgentID)
	if err := c.memory.EnsureRoom(ctx, roomID); err != nil {
		return fmt.Errorf("ensure room: %w", err)
	}
	if err := c.memory.EnsureParticipant(ctx, c.cfg.AgentID, roomID); err != nil {
		return fmt.Errorf("ensure participant: %w", err)
	}
	if res.Text != "" {
		text = res.Text
	}
	var inReplyTo string
	if res.ParentID != "" {
		inReplyTo = domain.LocalID(res.ParentID, c.cfg.AgentID)
	}
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	m := domain.LocalMemory{
		ID:      domain.LocalID(res.ID, c.cfg.AgentID),
		AgentID: c.cfg.AgentID,
		UserID:  c.cfg.AgentID,
		RoomID:  roomID,
		Content: domain.Content{
			Text:      text,
			Action:    action,
			Source:    domain.SourceTag,
			URL:       res.URL,
			InReplyTo: inReplyTo,
		},
		CreatedAt: createdAt,
	}
	if err := c.memory.CreateMemory(ctx, m); err != nil {
		return fmt.Errorf("record sent post %s: %w", res.ID, err)
	}
	return nil
}

var errRegenerate = errors.New("regenerate requested")

// approve asks the operator, when one is configured. It returns errRegenerate
// when another draft was requested and drafts remain.
func (c *Composer) approve(ctx context.Context, title, source string, content domain.GeneratedContent, draft int) (bool, error) {
	if c.approver == nil {
		return true, nil
	}
	body := fmt.Sprintf("📍 %s\n\n🤖 %s", source, content.Text)
	if len(content.MediaBuffers) > 0 {
		body += fmt.Sprintf("\n\n🖼 %d image(s)", len(content.MediaBuffers))
	}
	action, err := c.approver.Confirm(ctx, title, body)
	if err != nil {
		return false, fmt.Errorf("confirm %s: %w", title, err)
	}
	switch action {
	case ports.ActionApprove:
		return true, nil
	case ports.ActionRegenerate:
		if draft < c.cfg.MaxDrafts {
			return false, errRegenerate
		}
		c.logger.Info("drafts_exhausted", "title", title)
		return false, nil
	default:
		c.logger.Info("post_declined", "title", title)
		return false, nil
	}
}

func (c *Composer) bound(text string) string {
	return Truncate(text, c.cfg.MaxPostLength)
}

func (c *Composer) snapshot(ctx context.Context) []domain.Post {
	posts, err := c.timeline.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("timeline_unavailable", "error", err)
		return nil
	}
	return posts
}

func (c *Composer) recent(ctx context.Context, roomID string) []domain.LocalMemory {
	ms, err := c.memory.RecentMemories(ctx, roomID, c.cfg.RecentLimit)
	if err != nil {
		c.logger.Warn("recent_memories_unavailable", "room_id", roomID, "error", err)
		return nil
	}
	return ms
}

func (c *Composer) pick(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return items[int(c.jitter()*float64(len(items)))%len(items)]
}

// pause holds the caller for a jittered delay after a send so the account
// never acts faster than the platform tolerates. The post is already out, so
// an interrupted pause is logged rather than reported.
func (c *Composer) pause(ctx context.Context) {
	d := c.cfg.MinDelay + time.Duration(c.jitter()*float64(c.cfg.MaxDelay-c.cfg.MinDelay))
	if d <= 0 {
		return
	}
	if err := c.sleep(ctx, d); err != nil {
		c.logger.Info("pause_interrupted", "delay", d.String(), "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trace writes the generation context of a reply for later inspection.
func (c *Composer) trace(candidate domain.Post, genContext, output string) {
	if c.cfg.TraceDir == "" {
		return
	}
	if err := os.MkdirAll(c.cfg.TraceDir, 0o755); err != nil {
		c.logger.Warn("trace_failed", "error", err)
		return
	}
	body := fmt.Sprintf("Context:\n\n%s\n\nSelected Post: %s - %s: %s\nAgent's Output:\n%s",
		genContext, candidate.ID, candidate.AuthorHandle, candidate.Text, output)
	path := filepath.Join(c.cfg.TraceDir, "reply_"+candidate.ID+".txt")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		c.logger.Warn("trace_failed", "path", path, "error", err)
	}
}
