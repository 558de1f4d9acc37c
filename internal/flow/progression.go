package flow

import (
	"unicode/utf8"

	"github.com/BTreeMap/PromptCoach/internal/models"
)

// Utterance length thresholds, in runes, used to judge answer engagement.
const (
	shortAnswerRunes    = 20
	detailedAnswerRunes = 50
	shortAnswerWindow   = 4 // history entries inspected for repeated short answers
	shortAnswerStreak   = 2
)

// ShouldAdvance decides whether the session has asked enough in its current stage.
// It must be called after the current user message has been appended and counted.
func (s *Script) ShouldAdvance(session *models.Session, utterance string) bool {
	if session.CurrentStage >= s.LastStage() {
		return false
	}
	stage := s.Stage(session.CurrentStage)
	count := session.StageQuestionCount
	if count >= stage.MaxQuestions {
		return true
	}
	if count < stage.MinQuestions {
		return false
	}

	length := utf8.RuneCountInString(utterance)
	// a run of short answers means the user is disengaging from this stage
	if length < shortAnswerRunes {
		short := 0
		for _, m := range session.RecentHistory(shortAnswerWindow) {
			if m.Role == models.RoleUser && utf8.RuneCountInString(m.Content) < shortAnswerRunes {
				short++
			}
		}
		if short >= shortAnswerStreak {
			return true
		}
	}
	return length > detailedAnswerRunes
}

// Advance moves the session to the next stage, resets the stage question count and
// prefixes reply with the next stage's transition text. It returns reply unchanged when
// the session is already on the last stage.
func (s *Script) Advance(session *models.Session, reply string) string {
	if session.CurrentStage >= s.LastStage() {
		return reply
	}
	session.CurrentStage++
	session.StageQuestionCount = 0
	if t := s.Stage(session.CurrentStage).Transition; t != "" {
		return t + "\n\n" + reply
	}
	return reply
}
