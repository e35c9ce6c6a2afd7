package prompt

import (
	"fmt"
	"strings"

	"presence-agent/internal/core/domain"
)

// FormatPost renders the candidate being answered.
func FormatPost(p domain.Post) string {
	name := p.AuthorName
	if name == "" {
		name = p.AuthorHandle
	}
	return fmt.Sprintf("  ID: %s\n  From: %s (@%s)\n  Text: %s", p.ID, name, p.AuthorHandle, p.Text)
}

// FormatThread renders a root-first thread as conversation text.
func FormatThread(posts []domain.Post) string {
	parts := make([]string, 0, len(posts))
	for _, p := range posts {
		parts = append(parts, fmt.Sprintf("@%s (%s):\n        %s",
			p.AuthorHandle, p.CreatedAt.Format("Jan 2, 03:04 PM"), p.Text))
	}
	return strings.Join(parts, "\n\n")
}

// FormatTimeline renders the cached home timeline block.
func FormatTimeline(agentName string, posts []domain.Post) string {
	if len(posts) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s's Home Timeline\n\n", agentName)
	for _, p := range posts {
		fmt.Fprintf(&b, "ID: %s\nFrom: %s (@%s)", p.ID, p.AuthorName, p.AuthorHandle)
		if p.ParentID != "" {
			fmt.Fprintf(&b, " In reply to: %s", p.ParentID)
		}
		fmt.Fprintf(&b, "\nText: %s\n---\n\n", p.Text)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// FormatRecent renders recent room activity, newest first.
func FormatRecent(agentName string, memories []domain.LocalMemory) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Recent activity involving %s\n", agentName)
	for _, m := range memories {
		who := "user"
		if m.UserID == m.AgentID {
			who = agentName
		}
		fmt.Fprintf(&b, "- %s: %s\n", who, m.Content.Text)
	}
	return b.String()
}
