// Package testutil provides in-memory fakes of the ports used across package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"presence-agent/internal/core/domain"
	"presence-agent/internal/core/ports"
)

// SentPost records one outbound send.
type SentPost struct {
	Text    string
	ReplyTo string
	Media   [][]byte
}

// Site is a scripted platform.
type Site struct {
	mu sync.Mutex

	Self      string
	Handle    string
	Mentions  []domain.Post
	SearchErr error
	Posts     map[string]domain.Post
	FetchErr  map[string]error
	Timeline  []domain.Post

	// SendErrs are returned by successive sends before sends start succeeding.
	SendErrs []error

	Sent          []SentPost
	Fetched       []string
	TimelineCalls int
	SearchCalls   int
	nextID        uint64
}

var _ ports.Site = (*Site)(nil)

func NewSite(self string) *Site {
	return &Site{Self: self, Handle: "agent", Posts: map[string]domain.Post{}, FetchErr: map[string]error{}, nextID: 9000}
}

// AddPost registers a post so FetchPost can find it.
func (s *Site) AddPost(p domain.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Posts[p.ID] = p
}

func (s *Site) Name() string                         { return "fake" }
func (s *Site) Initialize(ctx context.Context) error { return nil }
func (s *Site) SelfID() string                       { return s.Self }

func (s *Site) SearchMentions(ctx context.Context, query string, limit int, mode ports.SearchMode) ([]domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchCalls++
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	out := append([]domain.Post(nil), s.Mentions...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Site) FetchPost(ctx context.Context, id string) (domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fetched = append(s.Fetched, id)
	if err := s.FetchErr[id]; err != nil {
		return domain.Post{}, err
	}
	p, ok := s.Posts[id]
	if !ok {
		return domain.Post{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *Site) FetchTimeline(ctx context.Context, limit int) ([]domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TimelineCalls++
	return append([]domain.Post(nil), s.Timeline...), nil
}

func (s *Site) SendPost(ctx context.Context, text, replyToID string) (domain.PlatformResult, error) {
	return s.send(text, replyToID, nil)
}

func (s *Site) SendPostWithMedia(ctx context.Context, text, replyToID string, media [][]byte) (domain.PlatformResult, error) {
	return s.send(text, replyToID, media)
}

func (s *Site) send(text, replyToID string, media [][]byte) (domain.PlatformResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.SendErrs) > 0 {
		err := s.SendErrs[0]
		s.SendErrs = s.SendErrs[1:]
		return domain.PlatformResult{}, err
	}
	s.Sent = append(s.Sent, SentPost{Text: text, ReplyTo: replyToID, Media: media})
	s.nextID++
	id := strconv.FormatUint(s.nextID, 10)
	conv := id
	if parent, ok := s.Posts[replyToID]; ok {
		conv = parent.ConversationID
	}
	res := domain.PlatformResult{
		ID:             id,
		Text:           text,
		ConversationID: conv,
		AuthorID:       s.Self,
		ParentID:       replyToID,
		URL:            fmt.Sprintf("https://example.test/%s/status/%s", s.Handle, id),
		CreatedAt:      time.Unix(1700000000, 0),
	}
	s.Posts[id] = domain.Post{ID: id, AuthorID: s.Self, AuthorHandle: s.Handle, Text: text, ConversationID: conv, ParentID: replyToID}
	return res, nil
}

// SentPosts returns a copy of the sends so far.
func (s *Site) SentPosts() []SentPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentPost(nil), s.Sent...)
}

// TextCall records one GenerateText invocation.
type TextCall struct {
	Prompt string
	Tier   ports.ModelTier
	System string
}

// Brain replays scripted generations.
type Brain struct {
	mu sync.Mutex

	// Texts are returned in order; once exhausted TextFn (if any) or "" is used.
	Texts  []string
	TextFn func(prompt string) (string, error)

	Image    domain.ImageResult
	ImageErr error

	TextCalls  []TextCall
	ImageCalls []domain.ImageRequest
}

var _ ports.Brain = (*Brain)(nil)

func (b *Brain) GenerateText(ctx context.Context, prompt string, tier ports.ModelTier, systemPrompt string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TextCalls = append(b.TextCalls, TextCall{Prompt: prompt, Tier: tier, System: systemPrompt})
	if len(b.Texts) > 0 {
		t := b.Texts[0]
		b.Texts = b.Texts[1:]
		return t, nil
	}
	if b.TextFn != nil {
		return b.TextFn(prompt)
	}
	return "", nil
}

func (b *Brain) GenerateImage(ctx context.Context, req domain.ImageRequest) (domain.ImageResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ImageCalls = append(b.ImageCalls, req)
	return b.Image, b.ImageErr
}

// Store is an in-memory MemoryStore and Cache.
type Store struct {
	mu sync.Mutex

	Memories     map[string]domain.LocalMemory
	Rooms        map[string]bool
	Participants map[string]bool
	Connections  map[string]domain.Connection
	KV           map[string]string

	SetErr      error
	CreateCalls int
	order       []string
}

var (
	_ ports.MemoryStore = (*Store)(nil)
	_ ports.Cache       = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		Memories:     map[string]domain.LocalMemory{},
		Rooms:        map[string]bool{},
		Participants: map[string]bool{},
		Connections:  map[string]domain.Connection{},
		KV:           map[string]string{},
	}
}

func (s *Store) GetMemory(ctx context.Context, id string) (domain.LocalMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.Memories[id]
	if !ok {
		return domain.LocalMemory{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *Store) CreateMemory(ctx context.Context, m domain.LocalMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateCalls++
	if _, ok := s.Memories[m.ID]; ok {
		return nil
	}
	s.Memories[m.ID] = m
	s.order = append(s.order, m.ID)
	return nil
}

func (s *Store) RecentMemories(ctx context.Context, roomID string, limit int) ([]domain.LocalMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LocalMemory
	for _, id := range s.order {
		if m := s.Memories[id]; m.RoomID == roomID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) EnsureRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rooms[roomID] = true
	return nil
}

func (s *Store) EnsureParticipant(ctx context.Context, userID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Participants[userID+"/"+roomID] = true
	return nil
}

func (s *Store) EnsureConnection(ctx context.Context, c domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rooms[c.RoomID] = true
	s.Participants[c.UserID+"/"+c.RoomID] = true
	s.Connections[c.UserID] = c
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.KV[key]
	return v, ok, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	s.KV[key] = value
	return nil
}

// MemoryCount returns the number of stored memories.
func (s *Store) MemoryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Memories)
}

// ErrBoom is a generic injected failure.
var ErrBoom = errors.New("boom")
