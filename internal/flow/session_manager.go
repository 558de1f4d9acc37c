package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/PromptCoach/internal/models"
	"github.com/BTreeMap/PromptCoach/internal/store"
)

// Session lifetime constants.
const (
	// SessionTimeout is the inactivity after which a session is discarded and restarted.
	SessionTimeout = 24 * time.Hour
	// ResumeCheckInterval is the inactivity after which the user is asked whether to resume.
	ResumeCheckInterval = time.Hour
	// SessionTimeLimit is the target length of one coaching conversation.
	SessionTimeLimit = 18 * time.Minute
	// SessionWarningAt is when the user is told the conversation is nearly over.
	SessionWarningAt = 16 * time.Minute
	// SessionTTL is how long an idle session record is retained by the store.
	SessionTTL = 7 * 24 * time.Hour
	// previousSessionsLimit bounds the completed sessions consulted for previous context.
	previousSessionsLimit = 3
)

// SessionManager loads, resets and persists coaching sessions.
type SessionManager struct {
	store  store.Store
	script *Script
	now    func() time.Time
}

// NewSessionManager creates a SessionManager backed by st.
func NewSessionManager(st store.Store, script *Script) *SessionManager {
	slog.Debug("Creating SessionManager")
	return &SessionManager{store: st, script: script, now: time.Now}
}

// GetSession returns the user's active session. A missing or expired session is replaced
// by a fresh one, which is persisted. A load failure yields a fresh unsaved session so the
// turn can still be answered.
func (m *SessionManager) GetSession(ctx context.Context, userID string) *models.Session {
	now := m.now()
	sess, err := m.store.GetSession(ctx, userID)
	if err != nil {
		slog.Error("SessionManager.GetSession: load failed, using fresh session", "error", err, "userID", userID)
		return models.NewSession(userID, now)
	}
	if sess != nil && !sess.LastActive.IsZero() && now.Sub(sess.LastActive) <= SessionTimeout {
		if sess.ConversationHistory == nil {
			sess.ConversationHistory = []models.Message{}
		}
		return sess
	}
	if sess != nil {
		slog.Info("SessionManager.GetSession: session expired, starting new", "userID", userID, "lastActive", sess.LastActive)
	}
	fresh := models.NewSession(userID, now)
	if err := m.Update(ctx, fresh); err != nil {
		slog.Warn("SessionManager.GetSession: failed to persist new session", "error", err, "userID", userID)
	}
	return fresh
}

// NeedsResumeCheck reports whether the user has been away long enough to be asked
// whether to continue.
func (m *SessionManager) NeedsResumeCheck(sess *models.Session) bool {
	return m.now().Sub(sess.LastActive) > ResumeCheckInterval
}

// Duration returns the minutes elapsed since the session started.
func (m *SessionManager) Duration(sess *models.Session) float64 {
	return m.now().Sub(sess.SessionStartTime).Minutes()
}

// Reset archives the current session when it has any history and starts a new one.
// Completed sessions were archived when they finished and are not archived again.
func (m *SessionManager) Reset(ctx context.Context, sess *models.Session) (*models.Session, error) {
	if len(sess.ConversationHistory) > 0 && !sess.SessionCompleted {
		if err := m.SaveCompleted(ctx, sess); err != nil {
			slog.Warn("SessionManager.Reset: failed to archive session", "error", err, "userID", sess.UserID)
		}
	}
	fresh := models.NewSession(sess.UserID, m.now())
	if err := m.Update(ctx, fresh); err != nil {
		return fresh, err
	}
	slog.Info("SessionManager.Reset: session reset", "userID", sess.UserID)
	return fresh, nil
}

// Update normalizes counters, stamps activity and persists the session.
func (m *SessionManager) Update(ctx context.Context, sess *models.Session) error {
	now := m.now()
	if sess.CurrentStage < 0 {
		sess.CurrentStage = 0
	}
	if sess.CurrentStage > m.script.LastStage() {
		sess.CurrentStage = m.script.LastStage()
	}
	if sess.StageQuestionCount < 0 {
		sess.StageQuestionCount = 0
	}
	if sess.ConversationHistory == nil {
		sess.ConversationHistory = []models.Message{}
	}
	sess.LastActive = now
	sess.TTL = now.Add(SessionTTL).Unix()
	if err := m.store.SaveSession(ctx, *sess); err != nil {
		slog.Error("SessionManager.Update: save failed", "error", err, "userID", sess.UserID)
		return err
	}
	return nil
}

// SaveCompleted archives the session together with its keyword summary.
func (m *SessionManager) SaveCompleted(ctx context.Context, sess *models.Session) error {
	completed := models.CompletedSession{
		UserID:              sess.UserID,
		SessionID:           sess.SessionID(),
		SessionStartTime:    sess.SessionStartTime,
		SessionEndTime:      m.now(),
		Summary:             ExtractSummary(sess.ConversationHistory, m.script.StageName(sess.CurrentStage)),
		ConversationHistory: append([]models.Message(nil), sess.ConversationHistory...),
		CrisisDetected:      sess.CrisisDetected,
		SessionCompleted:    true,
	}
	if err := m.store.SaveCompletedSession(ctx, completed); err != nil {
		slog.Error("SessionManager.SaveCompleted: archive failed", "error", err, "userID", sess.UserID)
		return err
	}
	slog.Debug("SessionManager.SaveCompleted: archived", "userID", sess.UserID, "sessionID", completed.SessionID)
	return nil
}

// PreviousContext renders the newest completed session's highlights for the opening
// prompt, or returns an empty string when there is nothing to recall.
func (m *SessionManager) PreviousContext(ctx context.Context, userID string) string {
	sessions, err := m.store.ListCompletedSessions(ctx, userID, previousSessionsLimit)
	if err != nil {
		slog.Warn("SessionManager.PreviousContext: lookup failed", "error", err, "userID", userID)
		return ""
	}
	if len(sessions) == 0 {
		return ""
	}
	return FormatPreviousContext(sessions[0].Summary)
}
