package genai

import (
	"regexp"
	"strings"
)

var (
	parenSpan = regexp.MustCompile(`\([^)]*\)`)
	starSpan  = regexp.MustCompile(`\*[^*]*\*`)
	emojis    = strings.NewReplacer(
		"😊", "", "💪", "", "🎉", "", "💙", "", "⏰", "", "🚫", "", "⚠️", "",
	)
)

// SanitizeReply reduces model output to a single clean question: everything after the
// first '?' is dropped, bracketed and starred meta text and decorative emoji are removed,
// and only the first non-empty line is kept.
func SanitizeReply(text string) string {
	if i := strings.Index(text, "?"); i >= 0 {
		text = text[:i+1]
	}
	text = stripMeta(text)
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func stripMeta(text string) string {
	text = parenSpan.ReplaceAllString(text, "")
	text = starSpan.ReplaceAllString(text, "")
	return emojis.Replace(text)
}
