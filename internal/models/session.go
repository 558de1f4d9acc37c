package models

import "time"

// Message roles stored in the conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in the conversation history.
type Message struct {
	Role    string `json:"role" dynamodbav:"role"`
	Content string `json:"content" dynamodbav:"content"`
}

// Session is the per-user coaching state persisted between webhook turns.
type Session struct {
	UserID                 string     `json:"user_id" dynamodbav:"user_id"`
	CurrentStage           int        `json:"current_stage" dynamodbav:"current_stage"`
	StageQuestionCount     int        `json:"stage_question_count" dynamodbav:"stage_question_count"`
	ConversationHistory    []Message  `json:"conversation_history" dynamodbav:"conversation_history"`
	SessionStartTime       time.Time  `json:"session_start_time" dynamodbav:"session_start_time"`
	LastActive             time.Time  `json:"last_active" dynamodbav:"last_active"`
	AwaitingResumeResponse bool       `json:"awaiting_resume_response" dynamodbav:"awaiting_resume_response"`
	AwaitingUserResponse   bool       `json:"awaiting_user_response" dynamodbav:"awaiting_user_response"`
	CrisisDetected         bool       `json:"crisis_detected" dynamodbav:"crisis_detected"`
	CrisisTimestamp        *time.Time `json:"crisis_timestamp,omitempty" dynamodbav:"crisis_timestamp,omitempty"`
	SessionCompleted       bool       `json:"session_completed" dynamodbav:"session_completed"`
	ChosenTopic            string     `json:"chosen_topic,omitempty" dynamodbav:"chosen_topic,omitempty"`
	TopicDescription       string     `json:"topic_description,omitempty" dynamodbav:"topic_description,omitempty"`
	TTL                    int64      `json:"ttl,omitempty" dynamodbav:"ttl,omitempty"` // unix seconds, consumed by DynamoDB TTL
}

// NewSession returns a fresh session for userID starting at now.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:              userID,
		ConversationHistory: []Message{},
		SessionStartTime:    now,
		LastActive:          now,
	}
}

// AppendMessage adds a turn to the conversation history.
func (s *Session) AppendMessage(role, content string) {
	s.ConversationHistory = append(s.ConversationHistory, Message{Role: role, Content: content})
}

// RecentHistory returns at most the last n history messages.
func (s *Session) RecentHistory(n int) []Message {
	return LastMessages(s.ConversationHistory, n)
}

// LastMessages returns at most the last n messages of history.
func LastMessages(history []Message, n int) []Message {
	if n <= 0 {
		return nil
	}
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// sessionIDLayout is fixed width so identifiers sort chronologically per user.
const sessionIDLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SessionID builds the archive identifier for a session.
func (s *Session) SessionID() string {
	return s.UserID + "_" + s.SessionStartTime.UTC().Format(sessionIDLayout)
}

// SessionSummary holds keyword-extracted highlights of a finished session.
type SessionSummary struct {
	Difficulties []string `json:"difficulties" dynamodbav:"difficulties"`
	HelpNeeds    []string `json:"help_needs" dynamodbav:"help_needs"`
	Barriers     []string `json:"barriers" dynamodbav:"barriers"`
	Helpers      []string `json:"helpers" dynamodbav:"helpers"`
	ActionPlans  []string `json:"action_plans" dynamodbav:"action_plans"`
	Insights     []string `json:"insights" dynamodbav:"insights"`
	LastStage    string   `json:"last_stage" dynamodbav:"last_stage"`
}

// CompletedSession is the archived copy of a session that was ended, reset or finished.
type CompletedSession struct {
	UserID              string         `json:"user_id" dynamodbav:"user_id"`
	SessionID           string         `json:"session_id" dynamodbav:"session_id"`
	SessionStartTime    time.Time      `json:"session_start_time" dynamodbav:"session_start_time"`
	SessionEndTime      time.Time      `json:"session_end_time" dynamodbav:"session_end_time"`
	Summary             SessionSummary `json:"summary" dynamodbav:"summary"`
	ConversationHistory []Message      `json:"conversation_history" dynamodbav:"conversation_history"`
	CrisisDetected      bool           `json:"crisis_detected" dynamodbav:"crisis_detected"`
	SessionCompleted    bool           `json:"session_completed" dynamodbav:"session_completed"`
}
