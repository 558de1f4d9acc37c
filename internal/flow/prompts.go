package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/PromptCoach/internal/models"
)

// BuildSystemPrompt assembles the system prompt for the session's current stage.
func (s *Script) BuildSystemPrompt(session *models.Session, previousContext string, durationMinutes float64) string {
	stage := s.Stage(session.CurrentStage)
	var b strings.Builder

	b.WriteString(strings.ReplaceAll(stage.Prompt, PreviousContextPlaceholder, previousContext))
	fmt.Fprintf(&b, "\n\n현재 단계: %s (%d/%d)\n", stage.Name, s.clamp(session.CurrentStage)+1, len(s.Stages))
	fmt.Fprintf(&b, "질문 횟수: %d번째\n\n", session.StageQuestionCount+1)
	b.WriteString(s.Principles)
	b.WriteString("\n")
	b.WriteString(s.OutputRules)

	if session.CurrentStage > 0 && session.ChosenTopic != "" {
		fmt.Fprintf(&b, "\n학생이 처음 꺼낸 고민: %s\n", session.ChosenTopic)
	}
	if durationMinutes >= SessionTimeLimit.Minutes() {
		b.WriteString("\n")
		b.WriteString(s.TimeLimitNote)
	}
	return b.String()
}

// BuildResumePrompt assembles the system prompt used to greet a returning user.
func (s *Script) BuildResumePrompt(session *models.Session) string {
	var b strings.Builder
	b.WriteString(s.Messages.ResumePrompt)
	fmt.Fprintf(&b, "\n현재 단계: %s (%d/%d)\n", s.StageName(session.CurrentStage), s.clamp(session.CurrentStage)+1, len(s.Stages))
	if session.ChosenTopic != "" {
		fmt.Fprintf(&b, "학생이 이야기하던 고민: %s\n", session.ChosenTopic)
	}
	if session.CrisisDetected {
		b.WriteString("학생이 이전에 힘든 마음을 표현했습니다. 안부를 더 따뜻하게 물어주세요.\n")
	}
	return b.String()
}
