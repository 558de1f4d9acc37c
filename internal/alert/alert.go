// Package alert escalates crisis signals detected in coaching conversations to a human
// contact through Twilio SMS or WhatsApp.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// excerptRunes bounds how much of the user's message is forwarded in an alert.
const excerptRunes = 80

// Notifier delivers crisis alerts.
type Notifier interface {
	NotifyCrisis(ctx context.Context, userID, utterance string) error
}

// Opts holds configuration options for the Twilio notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string // sender number, "+82..." or "whatsapp:+82..."
	To         string // counselor number in the same format as From
}

// Option defines a configuration option for the Twilio notifier.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sender number.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithTo sets the recipient of crisis alerts.
func WithTo(to string) Option {
	return func(o *Opts) { o.To = to }
}

// messageCreator is the part of the Twilio REST API used to send messages.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioNotifier sends crisis alerts through the Twilio REST API.
type TwilioNotifier struct {
	api  messageCreator
	from string
	to   string
}

// NewTwilioNotifier validates the options and builds a Twilio-backed notifier.
func NewTwilioNotifier(opts ...Option) (*TwilioNotifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Twilio notifier config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"To_set", cfg.To != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("from and to numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)
	return &TwilioNotifier{api: client.Api, from: cfg.From, to: cfg.To}, nil
}

// NotifyCrisis sends a short alert naming the user and quoting the triggering message.
func (n *TwilioNotifier) NotifyCrisis(ctx context.Context, userID, utterance string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.to)
	params.SetFrom(n.from)
	params.SetBody(FormatCrisisAlert(userID, utterance))

	if _, err := n.api.CreateMessage(params); err != nil {
		slog.Error("TwilioNotifier.NotifyCrisis: send failed", "userID", userID, "error", err)
		return fmt.Errorf("failed to send crisis alert for %s: %w", userID, err)
	}
	slog.Info("TwilioNotifier.NotifyCrisis: alert sent", "userID", userID)
	return nil
}

// FormatCrisisAlert builds the alert body.
func FormatCrisisAlert(userID, utterance string) string {
	excerpt := []rune(strings.TrimSpace(utterance))
	if len(excerpt) > excerptRunes {
		excerpt = append(excerpt[:excerptRunes], '…')
	}
	return fmt.Sprintf("[PromptCoach] 위기 신호 감지\n사용자: %s\n메시지: %s", userID, string(excerpt))
}

// NopNotifier discards alerts. It is used when no alert channel is configured.
type NopNotifier struct{}

// NotifyCrisis logs and drops the alert.
func (NopNotifier) NotifyCrisis(ctx context.Context, userID, utterance string) error {
	slog.Debug("NopNotifier.NotifyCrisis: alert channel not configured", "userID", userID)
	return nil
}

// MockNotifier records alerts for tests.
type MockNotifier struct {
	mu     sync.Mutex
	Alerts []SentAlert
	Err    error
}

// SentAlert is one recorded alert.
type SentAlert struct {
	UserID    string
	Utterance string
}

// NewMockNotifier creates an empty MockNotifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{Alerts: []SentAlert{}}
}

func (m *MockNotifier) NotifyCrisis(ctx context.Context, userID, utterance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, SentAlert{UserID: userID, Utterance: utterance})
	return m.Err
}

// Count returns the number of recorded alerts.
func (m *MockNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Alerts)
}
