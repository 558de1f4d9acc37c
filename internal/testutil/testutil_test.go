package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/PromptCoach/internal/models"
)

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{name: "matching status codes", expected: 200, actual: 200},
		{name: "different status codes", expected: 200, actual: 404, shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v (%s)", tt.shouldFail, mockT.failed, mockT.errorMsg)
			}
			if !mockT.helper {
				t.Error("expected Helper to be called")
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	tests := []struct {
		name           string
		jsonBody       string
		expectedStatus string
		shouldFail     bool
	}{
		{name: "valid JSON with matching status", jsonBody: `{"status":"ok","result":"test"}`, expectedStatus: "ok"},
		{name: "valid JSON with different status", jsonBody: `{"status":"error","message":"test"}`, expectedStatus: "ok", shouldFail: true},
		{name: "invalid JSON", jsonBody: `{"status":}`, expectedStatus: "ok", shouldFail: true},
		{name: "missing status field", jsonBody: `{"result":"test"}`, expectedStatus: "ok", shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			rr := httptest.NewRecorder()
			rr.Body.WriteString(tt.jsonBody)

			response := AssertJSONResponse(mockT, rr, tt.expectedStatus)
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v (%s)", tt.shouldFail, mockT.failed, mockT.errorMsg)
			}
			if !tt.shouldFail && response == nil {
				t.Error("Expected response map to be returned")
			}
		})
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/webhook", SkillRequest("u1", "안녕"))
	if req.Method != http.MethodPost || req.URL.Path != "/webhook" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	body, _ := io.ReadAll(req.Body)
	var decoded models.SkillRequest
	MustUnmarshalJSON(t, body, &decoded)
	if decoded.UserID() != "u1" || decoded.Utterance() != "안녕" {
		t.Errorf("unexpected body %s", body)
	}

	req = CreateHTTPRequest(t, http.MethodGet, "/health", nil)
	if req.ContentLength != 0 {
		t.Errorf("expected empty body, got length %d", req.ContentLength)
	}
}

func TestNewSession(t *testing.T) {
	start := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)
	s := NewSession("u1", start, 2, "hi", "hello", "again")
	if s.CurrentStage != 2 || len(s.ConversationHistory) != 3 {
		t.Fatalf("unexpected session %+v", s)
	}
	roles := []string{s.ConversationHistory[0].Role, s.ConversationHistory[1].Role, s.ConversationHistory[2].Role}
	if roles[0] != models.RoleUser || roles[1] != models.RoleAssistant || roles[2] != models.RoleUser {
		t.Errorf("unexpected roles %v", roles)
	}
	if !s.SessionStartTime.Equal(start) {
		t.Errorf("unexpected start %v", s.SessionStartTime)
	}
}

func TestAssertReplyText(t *testing.T) {
	mockT := &mockTestingT{}
	AssertReplyText(mockT, models.NewTextResponse("hi"), "hi")
	if mockT.failed {
		t.Errorf("unexpected failure: %s", mockT.errorMsg)
	}
	AssertReplyText(mockT, models.NewTextResponse("hi"), "bye")
	if !mockT.failed {
		t.Error("expected mismatch to fail")
	}
}

func TestMustMarshalJSON(t *testing.T) {
	result := MustMarshalJSON(t, map[string]interface{}{"key1": "value1", "key2": 123})
	if len(result) == 0 {
		t.Error("Expected non-empty JSON data")
	}

	mockT := &mockTestingT{}
	MustMarshalJSON(mockT, make(chan int))
	if !mockT.failed {
		t.Error("expected unsupported type to fail")
	}
}

func TestMustUnmarshalJSON(t *testing.T) {
	var target map[string]interface{}
	MustUnmarshalJSON(t, []byte(`{"key":"value","number":123}`), &target)
	if target["key"] != "value" {
		t.Errorf("Expected key to be 'value', got %v", target["key"])
	}
	if target["number"].(float64) != 123 {
		t.Errorf("Expected number to be 123, got %v", target["number"])
	}
}

// mockTestingT records failures instead of stopping the test.
type mockTestingT struct {
	failed   bool
	errorMsg string
	helper   bool
}

func (m *mockTestingT) Helper() {
	m.helper = true
}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}
