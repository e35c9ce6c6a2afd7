package composer

import (
	"encoding/json"
	"strings"

	"presence-agent/internal/core/domain"
)

// parseReply extracts text and action from a generated reply. The model is asked
// for a JSON block; plain text is accepted as the reply with no action.
func parseReply(raw string) (text, action string) {
	cleaned := cleanJSON(raw)
	if start := strings.Index(cleaned, "{"); start != -1 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			var r struct {
				Text   string `json:"text"`
				Action string `json:"action"`
			}
			if err := json.Unmarshal([]byte(cleaned[start:end+1]), &r); err == nil {
				return stripQuotes(strings.TrimSpace(r.Text)), domain.NormalizeAction(r.Action)
			}
		}
	}
	return stripQuotes(strings.TrimSpace(raw)), domain.ActionNone
}

func cleanJSON(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return strings.TrimSpace(input)
}

// stripQuotes removes one layer of wrapping quote characters.
func stripQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if isQuote(s[0]) && isQuote(s[len(s)-1]) {
		return s[1 : len(s)-1]
	}
	return s
}

func isQuote(b byte) bool {
	return b == '"' || b == '\''
}

// normalizePost turns escaped newlines into real ones and trims.
func normalizePost(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, `\n`, "\n"))
}

// stripPromptTags removes wrapper tags some models put around image prompts.
func stripPromptTags(s string) string {
	s = strings.ReplaceAll(s, "<image_prompt>", "")
	s = strings.ReplaceAll(s, "</image_prompt>", "")
	return stripQuotes(strings.TrimSpace(s))
}
