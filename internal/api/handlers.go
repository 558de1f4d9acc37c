package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/PromptCoach/internal/metrics"
	"github.com/BTreeMap/PromptCoach/internal/models"
)

// maxWebhookBody caps the size of an inbound skill payload.
const maxWebhookBody = 1 << 20

var errEmptyBody = errors.New("empty request body")

// ErrorResponder is implemented by processors that provide their own canned error reply.
type ErrorResponder interface {
	ErrorResponse() models.SkillResponse
}

// defaultErrorReply is used when the processor has no canned error reply of its own.
const defaultErrorReply = "죄송합니다. 일시적인 오류가 발생했습니다. 잠시 후 다시 시도해주세요."

// errorReply returns the chat reply rendered for a failed turn.
func (s *Server) errorReply() models.SkillResponse {
	if er, ok := s.processor.(ErrorResponder); ok {
		return er.ErrorResponse()
	}
	return models.NewTextResponse(defaultErrorReply)
}

// decodeSkillRequest parses a skill payload and checks that it carries a userRequest.
func decodeSkillRequest(body []byte) (models.SkillRequest, error) {
	var req models.SkillRequest
	if len(body) == 0 {
		return req, errEmptyBody
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, err
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// turn runs one utterance through the processor. Failures are answered with the canned
// error reply; the returned bool reports whether the turn succeeded.
func (s *Server) turn(ctx context.Context, req models.SkillRequest) (models.SkillResponse, bool) {
	// the chat platform may hang up early; finish the turn so the session stays consistent
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.turnTimeout)
	defer cancel()

	resp, err := s.processor.ProcessMessage(ctx, req)
	if err != nil {
		slog.Error("Server.turn: failed to process message", "error", err, "userID", req.UserID())
		s.metrics.RecordWebhook(metrics.OutcomeError)
		if len(resp.Template.Outputs) == 0 {
			resp = s.errorReply()
		}
		return resp, false
	}
	s.metrics.RecordWebhook(metrics.OutcomeOK)
	return resp, true
}

// webhookHandler handles chat platform skill callbacks (POST /webhook). It always answers
// 200 with a renderable reply, since the platform ignores any other status.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("Server.webhookHandler: failed to read body", "error", err)
		s.metrics.RecordWebhook(metrics.OutcomeError)
		writeJSONResponse(w, http.StatusOK, s.errorReply())
		return
	}
	req, err := decodeSkillRequest(body)
	if err != nil {
		slog.Warn("Server.webhookHandler: invalid skill payload", "error", err)
		s.metrics.RecordWebhook(metrics.OutcomeError)
		writeJSONResponse(w, http.StatusOK, s.errorReply())
		return
	}

	resp, _ := s.turn(r.Context(), req)
	writeJSONResponse(w, http.StatusOK, resp)
}

// healthHandler reports liveness and request counters (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	stats := s.metrics.Snapshot()
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"total_requests": stats.TotalRequests,
		"error_count":    stats.ErrorCount,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// statsHandler returns webhook request statistics (GET /stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	stats := s.metrics.Snapshot()
	slog.Debug("Server.statsHandler: stats computed", "total_requests", stats.TotalRequests, "error_count", stats.ErrorCount)
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"total_requests": stats.TotalRequests,
		"error_count":    stats.ErrorCount,
		"success_rate":   stats.SuccessRate(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// metricsHandler exposes the Prometheus registry (GET /metrics).
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.notFoundHandler: unknown path", "method", r.Method, "path", r.URL.Path)
	writeJSONResponse(w, http.StatusNotFound, errorBody{Error: "Not found"})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	slog.Warn("Server: method not allowed", "method", r.Method, "path", r.URL.Path)
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
}
