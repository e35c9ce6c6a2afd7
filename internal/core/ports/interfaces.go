package ports

import (
	"context"

	"presence-agent/internal/core/domain"
)

// SearchMode selects how the platform orders search results.
type SearchMode string

const (
	SearchLatest SearchMode = "latest"
	SearchTop    SearchMode = "top"
)

// Site is the social platform client.
type Site interface {
	Name() string
	Initialize(ctx context.Context) error
	// SelfID is the platform account id of the agent, known after Initialize.
	SelfID() string
	SearchMentions(ctx context.Context, query string, limit int, mode SearchMode) ([]domain.Post, error)
	// FetchPost returns domain.ErrNotFound when the post does not exist.
	FetchPost(ctx context.Context, id string) (domain.Post, error)
	FetchTimeline(ctx context.Context, limit int) ([]domain.Post, error)
	SendPost(ctx context.Context, text, replyToID string) (domain.PlatformResult, error)
	SendPostWithMedia(ctx context.Context, text, replyToID string, media [][]byte) (domain.PlatformResult, error)
}

// ModelTier selects the size of the text model.
type ModelTier string

const (
	TierSmall  ModelTier = "small"
	TierMedium ModelTier = "medium"
	TierLarge  ModelTier = "large"
)

// Brain is the generation service.
type Brain interface {
	GenerateText(ctx context.Context, prompt string, tier ModelTier, systemPrompt string) (string, error)
	GenerateImage(ctx context.Context, req domain.ImageRequest) (domain.ImageResult, error)
}

// MemoryStore persists LocalMemories and room membership.
type MemoryStore interface {
	// GetMemory returns domain.ErrNotFound when no memory has the id.
	GetMemory(ctx context.Context, id string) (domain.LocalMemory, error)
	// CreateMemory is a no-op when a memory with the same id exists.
	CreateMemory(ctx context.Context, m domain.LocalMemory) error
	RecentMemories(ctx context.Context, roomID string, limit int) ([]domain.LocalMemory, error)
	EnsureRoom(ctx context.Context, roomID string) error
	EnsureParticipant(ctx context.Context, userID, roomID string) error
	EnsureConnection(ctx context.Context, c domain.Connection) error
}

// Cache is a durable key-value store for small scalars and snapshots.
type Cache interface {
	// Get reports ok=false for a missing key.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

type UserAction string

const (
	ActionApprove    UserAction = "approve"
	ActionRegenerate UserAction = "regenerate"
	ActionSkip       UserAction = "skip"
)

// Interaction asks a human operator to approve outgoing content.
type Interaction interface {
	Confirm(ctx context.Context, title, body string) (UserAction, error)
}
