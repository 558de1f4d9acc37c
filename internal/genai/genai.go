// Package genai provides LLM question generation over an OpenAI-compatible chat API.
//
// The default endpoint is Upstage Solar, which speaks the OpenAI chat completions protocol.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/PromptCoach/internal/models"
)

// Defaults for the Upstage Solar endpoint.
const (
	DefaultBaseURL       = "https://api.upstage.ai/v1/"
	DefaultModel         = "solar-pro2"
	DefaultMaxTokens     = 150
	DefaultTemperature   = 0.8
	DefaultTimeout       = 10 * time.Second
	DefaultMaxRetries    = 1
	DefaultHistoryWindow = 6
)

// Error variables for better error handling and testability
var (
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrEmptyResponse     = errors.New("empty response after sanitizing")
	ErrMissingAPIKey     = errors.New("LLM API key not set")
)

// outputRules is appended to every system prompt.
const outputRules = `

🚫 절대 규칙:
- 반드시 질문은 하나만 하세요.
- 학생이 이미 답한 내용을 다시 묻지 마세요.
- "(학생의 답변을 기다립니다)" 같은 괄호 설명이나 메타 문장을 쓰지 마세요.
- 이모지를 사용하지 마세요.
- 매번 새로운 관점에서 질문하세요.`

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithAPIKey sets the API key used for authentication.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithBaseURL overrides the chat API base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithModel sets the chat model name.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) {
		o.MaxTokens = n
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) {
		o.Temperature = t
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithMaxRetries sets the number of retries on transient failures.
func WithMaxRetries(n int) Option {
	return func(o *Opts) {
		o.MaxRetries = n
	}
}

// ClientInterface is implemented by Client and by test doubles.
type ClientInterface interface {
	GenerateReply(ctx context.Context, history []models.Message, systemPrompt string) (string, error)
	GenerateRaw(ctx context.Context, history []models.Message, systemPrompt string) (string, error)
}

var _ ClientInterface = (*Client)(nil)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChat adapts the SDK's completions service to chatService.
type openaiChat struct {
	client openai.Client
}

func (c openaiChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the chat completion service for generating coaching replies.
type Client struct {
	chat        chatService
	model       string
	maxTokens   int64
	temperature float64
}

// NewClient initializes a new GenAI client with the given options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		BaseURL:     DefaultBaseURL,
		Model:       DefaultModel,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		Timeout:     DefaultTimeout,
		MaxRetries:  DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cli := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	)
	slog.Debug("GenAI.NewClient: client created", "baseURL", cfg.BaseURL, "model", cfg.Model)
	return &Client{
		chat:        openaiChat{client: cli},
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// GenerateReply asks the model for the next coaching question and returns it sanitized
// down to a single question.
func (c *Client) GenerateReply(ctx context.Context, history []models.Message, systemPrompt string) (string, error) {
	raw, err := c.complete(ctx, models.LastMessages(history, DefaultHistoryWindow), systemPrompt+outputRules)
	if err != nil {
		return "", err
	}
	reply := SanitizeReply(raw)
	if reply == "" {
		slog.Warn("GenAI.GenerateReply: reply empty after sanitizing", "raw", raw)
		return "", ErrEmptyResponse
	}
	return reply, nil
}

// GenerateRaw returns the model output without the single-question cut, for multi-sentence
// messages such as resume greetings and closing empathy. The caller picks the history window.
func (c *Client) GenerateRaw(ctx context.Context, history []models.Message, systemPrompt string) (string, error) {
	raw, err := c.complete(ctx, history, systemPrompt)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(stripMeta(raw))
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, history []models.Message, systemPrompt string) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	msgs = append(msgs, openai.SystemMessage(systemPrompt))
	for _, m := range history {
		switch m.Role {
		case models.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    msgs,
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(c.temperature),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI.complete: chat completion failed", "error", err, "model", c.model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}
