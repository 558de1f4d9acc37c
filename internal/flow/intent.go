package flow

import (
	"regexp"
	"strings"
)

// Intent patterns are matched case-insensitively against the trimmed utterance.
// English keywords use word boundaries so that e.g. "know" does not read as "no".
var (
	resetPattern = compileIntent(
		`다시\s*시작`, `처음부터`, `새로\s*시작`, `리셋`, `\breset\b`, `\brestart\b`,
		`다시\s*해`, `새로\s*해`, `코칭\s*다시`, `처음으로`,
	)
	endPattern = compileIntent(
		`종료`, `끝`, `그만`, `\bstop\b`, `\bexit\b`, `\bquit\b`, `코칭\s*끝`, `마무리`, `그만\s*하`,
	)
	continuePattern = compileIntent(
		`계속`, `이어서`, `\bcontinue\b`, `네`, `\byes\b`, `좋아`, `계속할게`,
	)
	newSessionPattern = compileIntent(
		`새로`, `다시`, `새\s*주제`, `\bnew\b`, `아니`, `\bno\b`, `다른`,
	)
	crisisPattern = compileIntent(
		`자해`, `자살`, `죽고\s*싶`, `사라지고\s*싶`, `폭력`, `학대`, `괴롭힘`, `왕따`,
		`때리`, `맞아`, `혼자`, `외로워`, `아무도\s*없`,
	)
)

// explicitRestartPhrases reopen a finished session. Matching is by plain substring.
var explicitRestartPhrases = []string{
	"다시 시작", "다시시작", "새로 시작", "새로시작", "처음부터", "리셋", "재시작",
}

func compileIntent(patterns ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:` + strings.Join(patterns, `|`) + `)`)
}

// IsReset reports whether the user asked to start the coaching over.
func IsReset(text string) bool {
	return resetPattern.MatchString(strings.TrimSpace(text))
}

// IsEnd reports whether the user asked to stop the conversation.
func IsEnd(text string) bool {
	return endPattern.MatchString(strings.TrimSpace(text))
}

// IsContinue reports whether the user agreed to pick up where they left off.
func IsContinue(text string) bool {
	return continuePattern.MatchString(strings.TrimSpace(text))
}

// IsNewSession reports whether the user wants a new topic instead of resuming.
func IsNewSession(text string) bool {
	return newSessionPattern.MatchString(strings.TrimSpace(text))
}

// IsCrisis reports whether the utterance carries a crisis signal such as self-harm or abuse.
func IsCrisis(text string) bool {
	return crisisPattern.MatchString(strings.TrimSpace(text))
}

// IsExplicitRestart reports whether the utterance contains one of the phrases that reopen
// a completed session.
func IsExplicitRestart(text string) bool {
	text = strings.TrimSpace(text)
	for _, p := range explicitRestartPhrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
