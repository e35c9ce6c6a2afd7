package domain

import "time"

// Post is an immutable record fetched from the platform.
type Post struct {
	ID             string    `json:"id"`
	AuthorID       string    `json:"author_id"`
	AuthorHandle   string    `json:"author_handle"`
	AuthorName     string    `json:"author_name,omitempty"`
	Text           string    `json:"text"`
	ConversationID string    `json:"conversation_id"`
	ParentID       string    `json:"parent_id,omitempty"` // empty at thread root
	URL            string    `json:"url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	MediaRefs      []string  `json:"media_refs,omitempty"`
}

// IsRoot reports whether the post starts its reply chain.
func (p Post) IsRoot() bool {
	return p.ParentID == ""
}

// LocalMemory is the durable, deduplicated projection of a Post or a generated reply.
type LocalMemory struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	UserID    string    `json:"user_id"`
	RoomID    string    `json:"room_id"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Content is the payload of a LocalMemory.
type Content struct {
	Text      string `json:"text"`
	Action    string `json:"action,omitempty"`
	Source    string `json:"source,omitempty"`
	URL       string `json:"url,omitempty"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// Connection describes a platform account taking part in a room.
type Connection struct {
	UserID      string
	RoomID      string
	Handle      string
	DisplayName string
	Source      string
}

// GeneratedContent is owned by the composer until the platform accepts it.
type GeneratedContent struct {
	Text         string
	Action       string
	MediaBuffers [][]byte
	ReplyToID    string
}

// PlatformResult describes a post created by the platform.
type PlatformResult struct {
	ID             string
	Text           string
	ConversationID string
	AuthorID       string
	ParentID       string
	URL            string
	CreatedAt      time.Time
}

// ImageRequest asks the generation service for images.
type ImageRequest struct {
	Prompt string
	Width  int
	Height int
	Count  int
}

// ImageResult holds either remote URLs or inline encoded payloads.
type ImageResult struct {
	Success bool
	Data    []string
}

// Character is the persona the agent speaks as.
type Character struct {
	Name           string     `yaml:"name"`
	Bio            []string   `yaml:"bio"`
	Lore           []string   `yaml:"lore"`
	Topics         []string   `yaml:"topics"`
	Adjectives     []string   `yaml:"adjectives"`
	PostExamples   []string   `yaml:"post_examples"`
	PostDirections []string   `yaml:"post_directions"`
	Appearance     Appearance `yaml:"appearance"`
}

// Appearance is the persona's visual description used for image prompts.
type Appearance struct {
	Description         string   `yaml:"description"`
	ImageStyle          string   `yaml:"image_style"`
	ImagePromptExamples []string `yaml:"image_prompt_examples"`
}

// Subject returns the appearance description, falling back to the persona name.
func (c Character) Subject() string {
	if c.Appearance.Description != "" {
		return c.Appearance.Description
	}
	return c.Name
}
