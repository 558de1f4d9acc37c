package flow

import (
	"strings"

	"github.com/BTreeMap/PromptCoach/internal/models"
)

const (
	summaryEntryRunes = 50
	summaryBucketSize = 3
)

// Keyword buckets used to pull highlights out of user messages.
var (
	difficultyKeywords = []string{"힘들", "어려", "못하", "안되", "걱정"}
	helpNeedKeywords   = []string{"도움", "필요", "혼자", "같이"}
	barrierKeywords    = []string{"부끄러", "민폐", "싫어", "거절", "무서"}
	helperKeywords     = []string{"선생님", "부모님", "친구", "상담", "언니", "오빠", "누나", "형"}
	actionKeywords     = []string{"할게", "하겠", "해볼게", "시도"}
	insightKeywords    = []string{"알게", "깨달", "느꼈", "생각해보니"}
)

// ExtractSummary scans the user's messages for keyword highlights. Each bucket keeps the
// most recent entries, each truncated to a short excerpt.
func ExtractSummary(history []models.Message, lastStage string) models.SessionSummary {
	sum := models.SessionSummary{
		Difficulties: []string{},
		HelpNeeds:    []string{},
		Barriers:     []string{},
		Helpers:      []string{},
		ActionPlans:  []string{},
		Insights:     []string{},
		LastStage:    lastStage,
	}
	for _, m := range history {
		if m.Role != models.RoleUser {
			continue
		}
		excerpt := truncateRunes(m.Content, summaryEntryRunes)
		if containsAny(m.Content, difficultyKeywords) {
			sum.Difficulties = append(sum.Difficulties, excerpt)
		}
		if containsAny(m.Content, helpNeedKeywords) {
			sum.HelpNeeds = append(sum.HelpNeeds, excerpt)
		}
		if containsAny(m.Content, barrierKeywords) {
			sum.Barriers = append(sum.Barriers, excerpt)
		}
		if containsAny(m.Content, helperKeywords) {
			sum.Helpers = append(sum.Helpers, excerpt)
		}
		if containsAny(m.Content, actionKeywords) {
			sum.ActionPlans = append(sum.ActionPlans, excerpt)
		}
		if containsAny(m.Content, insightKeywords) {
			sum.Insights = append(sum.Insights, excerpt)
		}
	}
	sum.Difficulties = lastN(sum.Difficulties, summaryBucketSize)
	sum.HelpNeeds = lastN(sum.HelpNeeds, summaryBucketSize)
	sum.Barriers = lastN(sum.Barriers, summaryBucketSize)
	sum.Helpers = lastN(sum.Helpers, summaryBucketSize)
	sum.ActionPlans = lastN(sum.ActionPlans, summaryBucketSize)
	sum.Insights = lastN(sum.Insights, summaryBucketSize)
	return sum
}

// FormatPreviousContext renders a completed session summary as a prompt block. It returns
// an empty string when the summary has nothing worth recalling.
func FormatPreviousContext(sum models.SessionSummary) string {
	var lines []string
	if len(sum.Difficulties) > 0 {
		lines = append(lines, "이전에 이야기했던 어려움: "+strings.Join(sum.Difficulties, ", "))
	}
	if len(sum.ActionPlans) > 0 {
		lines = append(lines, "지난번에 계획했던 것: "+strings.Join(sum.ActionPlans, ", "))
	}
	if len(sum.Helpers) > 0 {
		lines = append(lines, "도움받을 수 있다고 했던 사람: "+strings.Join(sum.Helpers, ", "))
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n[이전 대화 참고]\n" + strings.Join(lines, "\n") + "\n자연스럽게 이전 대화 내용을 언급하며 시작하세요.\n"
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
