// Package testutil provides common test utilities and helpers for PromptCoach tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/BTreeMap/PromptCoach/internal/models"
)

// TB is the subset of testing.TB used by the helpers, so they can be exercised with fakes.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON envelope response and validates its status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	status, ok := response["status"].(string)
	if !ok {
		t.Errorf("response missing or invalid 'status' field")
		return response
	}
	if status != expectedStatus {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// SkillRequest builds a chat platform payload for userID saying utterance.
func SkillRequest(userID, utterance string) models.SkillRequest {
	return models.SkillRequest{UserRequest: &models.SkillUserRequest{
		User:      models.SkillUser{ID: userID},
		Utterance: utterance,
	}}
}

// NewSession returns a session started at start with the given stage and history.
// Messages alternate user and assistant, beginning with the user.
func NewSession(userID string, start time.Time, stage int, messages ...string) *models.Session {
	s := models.NewSession(userID, start)
	s.CurrentStage = stage
	for i, m := range messages {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		s.AppendMessage(role, m)
	}
	return s
}

// AssertReplyText checks the first simpleText of a skill response.
func AssertReplyText(t TB, resp models.SkillResponse, expected string) {
	t.Helper()
	if resp.Version != models.SkillVersion {
		t.Errorf("expected version %q, got %q", models.SkillVersion, resp.Version)
	}
	if got := resp.Text(); got != expected {
		t.Errorf("expected reply %q, got %q", expected, got)
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
