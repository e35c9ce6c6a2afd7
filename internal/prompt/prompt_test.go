package prompt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence-agent/internal/core/domain"
)

func TestNewStateJoinsPersonaLists(t *testing.T) {
	s := NewState(domain.Character{
		Name:   "Ava",
		Bio:    []string{"paints", "hikes"},
		Topics: []string{"ink", "mountains"},
	}, "ava")

	assert.Equal(t, "paints\nhikes", s.Bio)
	assert.Equal(t, "# Topics of interest\n- ink\n- mountains", s.Topics)
	assert.Empty(t, s.PostExamples)
}

func TestRenderShouldRespond(t *testing.T) {
	s := NewState(domain.Character{Name: "Ava"}, "ava")
	s.CurrentPost = FormatPost(domain.Post{ID: "100", AuthorHandle: "bob", Text: "hi @ava"})
	s.Conversation = "@bob: hi"

	out, err := Render(ShouldRespond, s)
	require.NoError(t, err)
	assert.Contains(t, out, "Ava (@ava)")
	assert.Contains(t, out, "ID: 100")
	assert.Contains(t, out, "From: bob (@bob)")
	assert.Contains(t, out, "[RESPOND], [IGNORE] or [STOP]")
}

func TestRenderArtPromptExamples(t *testing.T) {
	out, err := Render(ArtPrompt, ArtInput{Appearance: "a red fox", Examples: []string{"fox in snow", "fox at dusk"}})
	require.NoError(t, err)
	assert.Contains(t, out, `"a red fox"`)
	assert.Contains(t, out, "fox in snow\nfox at dusk\n")

	out, err = Render(ArtPrompt, ArtInput{Appearance: "a red fox"})
	require.NoError(t, err)
	assert.NotContains(t, out, "Follow these examples")
}

func TestFormatThreadIsRootFirst(t *testing.T) {
	at := time.Date(2024, 3, 1, 15, 4, 0, 0, time.UTC)
	out := FormatThread([]domain.Post{
		{AuthorHandle: "alice", Text: "root", CreatedAt: at},
		{AuthorHandle: "bob", Text: "leaf", CreatedAt: at},
	})
	assert.Equal(t, "@alice (Mar 1, 03:04 PM):\n        root\n\n@bob (Mar 1, 03:04 PM):\n        leaf", out)
}

func TestFormatTimelineAndRecent(t *testing.T) {
	assert.Empty(t, FormatTimeline("Ava", nil))
	tl := FormatTimeline("Ava", []domain.Post{{ID: "7", AuthorName: "Bob", AuthorHandle: "bob", ParentID: "6", Text: "yo"}})
	assert.Contains(t, tl, "# Ava's Home Timeline")
	assert.Contains(t, tl, "In reply to: 6")

	recent := FormatRecent("Ava", []domain.LocalMemory{
		{AgentID: "a", UserID: "a", Content: domain.Content{Text: "mine"}},
		{AgentID: "a", UserID: "u", Content: domain.Content{Text: "theirs"}},
	})
	assert.Contains(t, recent, "- Ava: mine\n")
	assert.Contains(t, recent, "- user: theirs\n")
}
