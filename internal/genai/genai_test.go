package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/PromptCoach/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
	calls  int
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.calls++
	m.params = params
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func newTestClient(chat chatService) *Client {
	return &Client{chat: chat, model: DefaultModel, maxTokens: DefaultMaxTokens, temperature: DefaultTemperature}
}

func history(n int) []models.Message {
	var h []models.Message
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		h = append(h, models.Message{Role: role, Content: strings.Repeat("가", i+1)})
	}
	return h
}

func TestGenerateReply_Success(t *testing.T) {
	mock := &mockChatService{resp: completion("요즘 어떤 일이 가장 마음에 남나요? 천천히 생각해보세요.")}
	client := newTestClient(mock)
	out, err := client.GenerateReply(context.Background(), history(2), "system prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "요즘 어떤 일이 가장 마음에 남나요?" {
		t.Errorf("unexpected reply %q", out)
	}
	if mock.params.Model != DefaultModel {
		t.Errorf("expected model %s, got %s", DefaultModel, mock.params.Model)
	}
	if got := mock.params.MaxTokens.Value; got != DefaultMaxTokens {
		t.Errorf("expected max tokens %d, got %d", DefaultMaxTokens, got)
	}
}

func TestGenerateReply_SendsSystemPromptAndRecentHistory(t *testing.T) {
	mock := &mockChatService{resp: completion("좋아요?")}
	client := newTestClient(mock)
	if _, err := client.GenerateReply(context.Background(), history(10), "coach"); err != nil {
		t.Fatal(err)
	}
	// one system message plus the last six history entries
	if len(mock.params.Messages) != 1+DefaultHistoryWindow {
		t.Fatalf("expected %d messages, got %d", 1+DefaultHistoryWindow, len(mock.params.Messages))
	}
	sys := mock.params.Messages[0].OfSystem
	if sys == nil {
		t.Fatal("first message must be the system prompt")
	}
	if !strings.HasPrefix(sys.Content.OfString.Value, "coach") || !strings.Contains(sys.Content.OfString.Value, "질문은 하나만") {
		t.Errorf("system prompt missing caller prompt or output rules: %q", sys.Content.OfString.Value)
	}
	if mock.params.Messages[1].OfUser == nil {
		t.Error("expected history index 4 (user) as the first history message")
	}
	if mock.params.Messages[2].OfAssistant == nil {
		t.Error("expected assistant role to be preserved")
	}
}

func TestGenerateRaw_KeepsAllSentences(t *testing.T) {
	mock := &mockChatService{resp: completion("다시 만나서 반가워요 😊 지난번 이야기 기억나요? 이어서 해볼까요?")}
	client := newTestClient(mock)
	out, err := client.GenerateRaw(context.Background(), history(10), "resume")
	if err != nil {
		t.Fatal(err)
	}
	if out != "다시 만나서 반가워요  지난번 이야기 기억나요? 이어서 해볼까요?" {
		t.Errorf("unexpected raw output %q", out)
	}
	if len(mock.params.Messages) != 11 {
		t.Errorf("raw generation should pass the caller's history through, got %d messages", len(mock.params.Messages))
	}
}

func TestGenerateReply_ServiceError(t *testing.T) {
	client := newTestClient(&mockChatService{err: errors.New("service failure")})
	_, err := client.GenerateReply(context.Background(), nil, "sys")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerateReply_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := newTestClient(&mockChatService{resp: mockResp})
	_, err := client.GenerateReply(context.Background(), nil, "sys")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestGenerateReply_EmptyAfterSanitize(t *testing.T) {
	client := newTestClient(&mockChatService{resp: completion("(학생의 답변을 기다립니다)")})
	_, err := client.GenerateReply(context.Background(), nil, "sys")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("solar-mini"), WithTemperature(0.2))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "solar-mini" || cli.temperature != 0.2 {
		t.Errorf("options not applied: %+v", cli)
	}
}

func TestSanitizeReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"cuts after first question", "오늘 어땠나요? 그리고 내일은요?", "오늘 어땠나요?"},
		{"removes parentheses", "무엇이 힘들었나요 (학생의 답변을 기다립니다)?", "무엇이 힘들었나요 ?"},
		{"removes starred actions", "*미소 지으며* 어떤 변화를 원하나요?", "어떤 변화를 원하나요?"},
		{"removes emoji", "좋아요 💪 어떤 방법이 있을까요? 🎉", "좋아요  어떤 방법이 있을까요?"},
		{"first non-empty line", "\n\n첫 줄입니다\n둘째 줄입니다", "첫 줄입니다"},
		{"no question mark", "  그렇군요  ", "그렇군요"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeReply(tt.in); got != tt.want {
				t.Errorf("SanitizeReply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
