// Package prompt renders the generation contexts used by the gate and the composer.
package prompt

import (
	"bytes"
	"strings"
	"text/template"

	"presence-agent/internal/core/domain"
)

// State is the data every template can reference.
type State struct {
	AgentName      string
	Handle         string
	Bio            string
	Lore           string
	Topics         string
	PostExamples   string
	PostDirections string
	Adjective      string
	Topic          string
	Timeline       string
	RecentPosts    string
	CurrentPost    string
	Conversation   string
	Actions        string
}

// ImageInput feeds the prompt-enhancement call.
type ImageInput struct {
	Content string
	Subject string
	Style   string
}

// ArtInput feeds the unprompted art prompt.
type ArtInput struct {
	Appearance string
	Examples   []string
}

// NewState fills the persona part of a State.
func NewState(c domain.Character, handle string) State {
	return State{
		AgentName:      c.Name,
		Handle:         handle,
		Bio:            strings.Join(c.Bio, "\n"),
		Lore:           strings.Join(c.Lore, "\n"),
		Topics:         joinList("Topics of interest", c.Topics),
		PostExamples:   joinList("Example posts", c.PostExamples),
		PostDirections: joinList("Post directions", c.PostDirections),
	}
}

func joinList(title string, items []string) string {
	if len(items) == 0 {
		return ""
	}
	return "# " + title + "\n- " + strings.Join(items, "\n- ")
}

func parse(name, source string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=error").Parse(source))
}

// Render executes t with data.
func Render(t *template.Template, data any) (string, error) {
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

var (
	ShouldRespond  = parse("should_respond", shouldRespondSource)
	MessageHandler = parse("message_handler", messageHandlerSource)
	Post           = parse("post", postSource)
	ImagePrompt    = parse("image_prompt", imagePromptSource)
	ArtPrompt      = parse("art_prompt", artPromptSource)
)

const shouldRespondSource = `# Instructions: decide whether {{.AgentName}} (@{{.Handle}}) should answer the latest post.

Answer with exactly one of [RESPOND], [IGNORE] or [STOP].

- RESPOND when the post is addressed to {{.AgentName}} or the conversation touches their interests.
- RESPOND to requests for images.
- IGNORE posts that are off-topic, very short, or carry little information.
- STOP when asked to stop, or when the conversation has clearly ended.
When in doubt, IGNORE: {{.AgentName}} does not want to be annoying.

{{.RecentPosts}}

Current post:
{{.CurrentPost}}

Thread being replied to:

{{.Conversation}}

# Instructions: reply with [RESPOND], [IGNORE] or [STOP] and nothing else.
`

const messageHandlerSource = `{{.Timeline}}

# About {{.AgentName}} (@{{.Handle}})
{{.Bio}}
{{.Lore}}
{{.Topics}}

{{.PostExamples}}

{{.PostDirections}}

{{.RecentPosts}}

# Task: write a reply in the voice of {{.AgentName}} (@{{.Handle}}), using the thread as context.
Current post:
{{.CurrentPost}}

Thread being replied to:

{{.Conversation}}

# Available actions
{{.Actions}}

Respond with a JSON block and nothing else:
` + "```json" + `
{ "user": "{{.AgentName}}", "text": "<reply>", "action": "<action or NONE>" }
` + "```" + `
`

const postSource = `{{.Timeline}}

# About {{.AgentName}} (@{{.Handle}})
{{.Bio}}
{{.Lore}}
{{.PostDirections}}

{{.RecentPosts}}

{{.PostExamples}}

# Task: write a post in the voice of {{.AgentName}} (@{{.Handle}}).
One or two sentences, {{.Adjective}}, about {{.Topic}} without naming it directly.
No questions, no emojis, no commentary on this request. Separate statements with \n\n.
`

// ImageSystem is the system prompt of the prompt-enhancement call.
const ImageSystem = `You write prompts for image generation models. Describe only what the image shows, ` +
	`never instruct ("create an image of..."). Use concrete nouns and direct language.`

const imagePromptSource = `Turn the post below into an image prompt.

<post>
{{.Content}}
</post>

<subject>
{{.Subject}}
</subject>
The subject text "{{.Subject}}" must appear in the prompt exactly as written.

<style>
{{.Style}}
</style>

Cover the subject, setting, lighting, colors, mood, composition and style.
Use at most 50 words. Output only the prompt.
`

// ArtSystem is the system prompt of the art loop.
const ArtSystem = `You write prompts for image generation models. Keep the character's appearance exactly ` +
	`as given, add a creative scene and background, describe lighting and atmosphere, stay under 80 words, ` +
	`and avoid metaphors or comparisons.`

const artPromptSource = `Write a random, descriptive image prompt. It must contain "{{.Appearance}}" unchanged.
{{if .Examples}}Follow these examples:
{{range .Examples}}{{.}}
{{end}}{{end}}
Vary the contents and composition. Use fewer than 80 words. Output only the prompt.
`
