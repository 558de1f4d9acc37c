package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/PromptCoach/internal/alert"
	"github.com/BTreeMap/PromptCoach/internal/genai"
	"github.com/BTreeMap/PromptCoach/internal/metrics"
	"github.com/BTreeMap/PromptCoach/internal/models"
	"github.com/BTreeMap/PromptCoach/internal/store"
)

// History windows passed to the LLM for non-question messages.
const (
	resumeHistoryWindow  = 10
	empathyHistoryWindow = 4
	chosenTopicRunes     = 100
	resumeMinHistory     = 4
)

// Reasons recorded when a session is archived.
const (
	completedReasonFinished = "finished"
	completedReasonEnded    = "ended"
	completedReasonReset    = "reset"
)

var errNoLLM = errors.New("no LLM client configured")

// Opts holds optional collaborators of the coaching flow.
type Opts struct {
	LLM          genai.ClientInterface
	Notifier     alert.Notifier
	Metrics      *metrics.Collector
	QuestionBank *QuestionBank
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithLLM sets the question generator. Without one every turn uses canned questions.
func WithLLM(llm genai.ClientInterface) Option {
	return func(o *Opts) { o.LLM = llm }
}

// WithNotifier sets where crisis alerts are sent.
func WithNotifier(n alert.Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithQuestionBank replaces the script-only question bank, e.g. with an S3-backed one.
func WithQuestionBank(b *QuestionBank) Option {
	return func(o *Opts) { o.QuestionBank = b }
}

// CoachingFlow processes one user utterance at a time against the persisted session.
type CoachingFlow struct {
	script   *Script
	sessions *SessionManager
	bank     *QuestionBank
	llm      genai.ClientInterface
	notifier alert.Notifier
	metrics  *metrics.Collector
	now      func() time.Time
}

// NewCoachingFlow creates a coaching flow persisting sessions in st.
func NewCoachingFlow(st store.Store, script *Script, opts ...Option) *CoachingFlow {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.QuestionBank == nil {
		cfg.QuestionBank = NewQuestionBank(script)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = alert.NopNotifier{}
	}
	slog.Debug("CoachingFlow.NewCoachingFlow: creating flow", "stages", len(script.Stages), "hasLLM", cfg.LLM != nil)
	return &CoachingFlow{
		script:   script,
		sessions: NewSessionManager(st, script),
		bank:     cfg.QuestionBank,
		llm:      cfg.LLM,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}
}

// Sessions exposes the flow's session manager.
func (f *CoachingFlow) Sessions() *SessionManager {
	return f.sessions
}

// ErrorResponse is the reply rendered when a turn cannot be processed.
func (f *CoachingFlow) ErrorResponse() models.SkillResponse {
	return models.NewTextResponse(f.script.Messages.Error)
}

// ProcessMessage runs one webhook turn and returns the reply to render. When the turn
// fails the reply is the canned error message and the error is returned alongside it.
func (f *CoachingFlow) ProcessMessage(ctx context.Context, req models.SkillRequest) (models.SkillResponse, error) {
	userID := req.UserID()
	utterance := strings.TrimSpace(req.Utterance())
	reqID := RequestIDFromContext(ctx)
	slog.Debug("CoachingFlow.ProcessMessage: turn received", "requestID", reqID, "userID", userID, "length", len(utterance))

	var sess *models.Session
	var g errgroup.Group
	g.Go(func() error {
		sess = f.sessions.GetSession(ctx, userID)
		return nil
	})
	g.Go(func() error {
		if err := f.bank.EnsureLoaded(ctx); err != nil {
			slog.Warn("CoachingFlow.ProcessMessage: question bank unavailable, using script questions", "error", err)
		}
		return nil
	})
	_ = g.Wait()

	reply, err := f.handleTurn(ctx, sess, utterance)
	if err != nil {
		slog.Error("CoachingFlow.ProcessMessage: turn failed", "requestID", reqID, "userID", userID, "error", err)
		return f.ErrorResponse(), err
	}
	slog.Info("CoachingFlow.ProcessMessage: turn handled", "requestID", reqID, "userID", userID,
		"stage", f.script.StageName(sess.CurrentStage), "completed", sess.SessionCompleted)
	return models.NewTextResponse(reply), nil
}

func (f *CoachingFlow) handleTurn(ctx context.Context, sess *models.Session, utterance string) (string, error) {
	if sess.SessionCompleted {
		if !IsExplicitRestart(utterance) {
			return f.script.Messages.CompletedNotice, nil
		}
		return f.restart(ctx, sess)
	}

	if f.sessions.NeedsResumeCheck(sess) && !sess.AwaitingResumeResponse {
		msg := f.resumeMessage(ctx, sess)
		sess.AwaitingResumeResponse = true
		if err := f.sessions.Update(ctx, sess); err != nil {
			return "", err
		}
		return msg, nil
	}

	// an answer to the resume question only chooses between continuing and starting over
	if sess.AwaitingResumeResponse {
		sess.AwaitingResumeResponse = false
		if IsNewSession(utterance) || IsReset(utterance) {
			return f.restart(ctx, sess)
		}
		return f.coach(ctx, sess, utterance, false)
	}

	if IsReset(utterance) {
		return f.restart(ctx, sess)
	}
	if IsEnd(utterance) {
		return f.end(ctx, sess)
	}

	if IsCrisis(utterance) {
		f.flagCrisis(ctx, sess, utterance)
	}
	return f.coach(ctx, sess, utterance, false)
}

// restart archives the session and coaches a fresh one with the starter utterance.
func (f *CoachingFlow) restart(ctx context.Context, sess *models.Session) (string, error) {
	if len(sess.ConversationHistory) > 0 && !sess.SessionCompleted {
		f.metrics.RecordSessionCompleted(completedReasonReset)
	}
	fresh, err := f.sessions.Reset(ctx, sess)
	if err != nil {
		return "", err
	}
	*sess = *fresh
	return f.coach(ctx, sess, f.script.Messages.RestartStarter, true)
}

// end archives the conversation at the user's request and marks it completed.
func (f *CoachingFlow) end(ctx context.Context, sess *models.Session) (string, error) {
	if len(sess.ConversationHistory) > 0 {
		if err := f.sessions.SaveCompleted(ctx, sess); err != nil {
			slog.Warn("CoachingFlow.end: archive failed", "error", err, "userID", sess.UserID)
		}
		f.metrics.RecordSessionCompleted(completedReasonEnded)
	}
	sess.SessionCompleted = true
	sess.AwaitingUserResponse = false
	if err := f.sessions.Update(ctx, sess); err != nil {
		return "", err
	}
	slog.Info("CoachingFlow.end: session ended by user", "userID", sess.UserID)
	return f.script.Messages.Farewell, nil
}

func (f *CoachingFlow) flagCrisis(ctx context.Context, sess *models.Session, utterance string) {
	first := !sess.CrisisDetected
	now := f.now()
	sess.CrisisDetected = true
	sess.CrisisTimestamp = &now
	if !first {
		return
	}
	slog.Warn("CoachingFlow.flagCrisis: crisis signal detected", "userID", sess.UserID)
	f.metrics.RecordCrisis()
	if err := f.notifier.NotifyCrisis(ctx, sess.UserID, utterance); err != nil {
		slog.Error("CoachingFlow.flagCrisis: alert failed", "error", err, "userID", sess.UserID)
	}
}

// coach records the user's message, generates the next question and advances the stage
// when enough has been covered. synthetic marks utterances injected by a restart.
func (f *CoachingFlow) coach(ctx context.Context, sess *models.Session, utterance string, synthetic bool) (string, error) {
	sess.AppendMessage(models.RoleUser, utterance)
	sess.AwaitingUserResponse = false
	sess.StageQuestionCount++

	stage := f.script.Stage(sess.CurrentStage)
	if sess.CurrentStage >= f.script.LastStage() && sess.StageQuestionCount > stage.MaxQuestions {
		return f.complete(ctx, sess)
	}

	previousContext := ""
	if sess.CurrentStage == 0 && sess.StageQuestionCount == 1 {
		previousContext = f.sessions.PreviousContext(ctx, sess.UserID)
	}
	duration := f.sessions.Duration(sess)
	prompt := f.script.BuildSystemPrompt(sess, previousContext, duration)

	reply, err := f.generate(ctx, sess.ConversationHistory, prompt, false)
	if err != nil {
		slog.Warn("CoachingFlow.coach: LLM unavailable, using canned question", "error", err, "userID", sess.UserID, "stage", stage.Name)
		reply = f.bank.Question(sess.CurrentStage, sess.StageQuestionCount)
	}
	if sess.CrisisDetected && sess.StageQuestionCount%2 == 0 {
		reply += f.script.Messages.CrisisResources
	}
	if duration >= SessionWarningAt.Minutes() && duration < SessionTimeLimit.Minutes() {
		reply += f.script.Messages.TimeWarning
	}
	sess.AppendMessage(models.RoleAssistant, reply)

	if sess.CurrentStage == 0 && sess.ChosenTopic == "" && !synthetic {
		sess.ChosenTopic = truncateRunes(utterance, chosenTopicRunes)
	}

	if f.script.ShouldAdvance(sess, utterance) {
		from := stage.Name
		reply = f.bank.Advance(sess, reply)
		to := f.script.StageName(sess.CurrentStage)
		f.metrics.RecordStageTransition(from, to)
		slog.Info("CoachingFlow.coach: stage advanced", "userID", sess.UserID, "from", from, "to", to)
	}

	sess.AwaitingUserResponse = true
	if err := f.sessions.Update(ctx, sess); err != nil {
		return "", err
	}
	return reply, nil
}

// complete closes a session that has exhausted the final stage.
func (f *CoachingFlow) complete(ctx context.Context, sess *models.Session) (string, error) {
	empathy, err := f.generate(ctx, sess.RecentHistory(empathyHistoryWindow), f.script.Messages.EmpathyPrompt, true)
	if err != nil {
		slog.Warn("CoachingFlow.complete: LLM unavailable, using canned empathy", "error", err, "userID", sess.UserID)
		empathy = f.script.Messages.EmpathyFallback
	}
	reply := empathy + f.script.Messages.CompletionSuffix
	sess.AppendMessage(models.RoleAssistant, reply)
	sess.SessionCompleted = true
	sess.AwaitingUserResponse = false

	if err := f.sessions.SaveCompleted(ctx, sess); err != nil {
		slog.Warn("CoachingFlow.complete: archive failed", "error", err, "userID", sess.UserID)
	}
	f.metrics.RecordSessionCompleted(completedReasonFinished)
	if err := f.sessions.Update(ctx, sess); err != nil {
		return "", err
	}
	slog.Info("CoachingFlow.complete: session completed", "userID", sess.UserID)
	return reply, nil
}

// resumeMessage greets a returning user. Short histories get the canned greeting.
func (f *CoachingFlow) resumeMessage(ctx context.Context, sess *models.Session) string {
	if len(sess.ConversationHistory) < resumeMinHistory {
		return f.script.Messages.ResumeFallback
	}
	msg, err := f.generate(ctx, sess.RecentHistory(resumeHistoryWindow), f.script.BuildResumePrompt(sess), true)
	if err != nil {
		slog.Warn("CoachingFlow.resumeMessage: LLM unavailable, using canned greeting", "error", err, "userID", sess.UserID)
		return f.script.Messages.ResumeFallback
	}
	return msg
}

func (f *CoachingFlow) generate(ctx context.Context, history []models.Message, prompt string, raw bool) (string, error) {
	if f.llm == nil {
		return "", errNoLLM
	}
	start := time.Now()
	var (
		out string
		err error
	)
	if raw {
		out, err = f.llm.GenerateRaw(ctx, history, prompt)
	} else {
		out, err = f.llm.GenerateReply(ctx, history, prompt)
	}
	f.metrics.RecordLLMRequest(err, time.Since(start))
	return out, err
}
