package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalIDIsDeterministic(t *testing.T) {
	assert.Equal(t, LocalID("100", "agent"), LocalID("100", "agent"))
	assert.NotEqual(t, LocalID("100", "agent"), LocalID("100", "other"))
	assert.NotEqual(t, LocalID("100", "agent"), RoomID("100", "agent"))
	assert.Len(t, UserID("42"), 36)
}

func TestNumericID(t *testing.T) {
	n, ok := NumericID("1000")
	assert.True(t, ok)
	assert.Equal(t, uint64(1000), n)

	for _, bad := range []string{"", "abc", "-1", "1e3"} {
		_, ok := NumericID(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseDecision(t *testing.T) {
	cases := map[string]Decision{
		"RESPOND":                  DecisionRespond,
		" [stop] ":                 DecisionStop,
		"I think [IGNORE] is best": DecisionIgnore,
		"Sure: [RESPOND]":          DecisionRespond,
		"maybe":                    DecisionIgnore,
		"":                         DecisionIgnore,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseDecision(in), in)
	}
}

func TestNormalizeAction(t *testing.T) {
	assert.Equal(t, ActionGenerateImage, NormalizeAction(" generate_image "))
	assert.Equal(t, ActionNone, NormalizeAction("DANCE"))
	assert.Equal(t, ActionNone, NormalizeAction(""))
}

func TestMemoryFromPost(t *testing.T) {
	p := Post{ID: "101", AuthorID: "self", ConversationID: "100", ParentID: "100", Text: "hi", URL: "u", CreatedAt: time.Unix(5, 0)}

	m := MemoryFromPost(p, "agent", "self")
	assert.Equal(t, LocalID("101", "agent"), m.ID)
	assert.Equal(t, "agent", m.UserID)
	assert.Equal(t, RoomID("100", "agent"), m.RoomID)
	assert.Equal(t, LocalID("100", "agent"), m.Content.InReplyTo)
	assert.Equal(t, SourceTag, m.Content.Source)

	p.AuthorID = "bob"
	p.ParentID = ""
	m = MemoryFromPost(p, "agent", "self")
	assert.Equal(t, UserID("bob"), m.UserID)
	assert.Empty(t, m.Content.InReplyTo)
}
