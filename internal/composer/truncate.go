package composer

import (
	"strings"
	"unicode"
)

const ellipsis = "..."

// Truncate fits text into limit characters. Text already within the limit is
// returned unchanged. Otherwise it is cut after the last period inside the
// limit; failing that, at the last whitespace that leaves room for an ellipsis;
// failing that, hard-cut at limit-3 with an ellipsis.
func Truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	if limit <= len(ellipsis) {
		return string(r[:max(limit, 0)])
	}

	if i := lastIndexRune(r[:limit], func(c rune) bool { return c == '.' }); i >= 0 {
		if s := strings.TrimSpace(string(r[:i+1])); s != "" {
			return s
		}
	}

	room := limit - len(ellipsis)
	if i := lastIndexRune(r[:room+1], unicode.IsSpace); i >= 0 {
		if s := strings.TrimSpace(string(r[:i])); s != "" {
			return s + ellipsis
		}
	}

	return strings.TrimSpace(string(r[:room])) + ellipsis
}

// Split breaks text into segments of at most limit characters, preferring
// sentence ends and then whitespace as cut points.
func Split(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if limit <= 0 {
		return []string{text}
	}
	var out []string
	r := []rune(text)
	for len(r) > 0 {
		if len(r) <= limit {
			out = appendSegment(out, string(r))
			break
		}
		cut := lastIndexRune(r[:limit], func(c rune) bool { return c == '.' || c == '!' || c == '?' }) + 1
		if cut <= 0 {
			cut = lastIndexRune(r[:limit+1], unicode.IsSpace)
		}
		if cut <= 0 {
			cut = limit
		}
		out = appendSegment(out, string(r[:cut]))
		r = []rune(strings.TrimLeftFunc(string(r[cut:]), unicode.IsSpace))
	}
	return out
}

func appendSegment(out []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		out = append(out, s)
	}
	return out
}

func lastIndexRune(r []rune, match func(rune) bool) int {
	for i := len(r) - 1; i >= 0; i-- {
		if match(r[i]) {
			return i
		}
	}
	return -1
}
