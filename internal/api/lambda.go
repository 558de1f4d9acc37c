package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/BTreeMap/PromptCoach/internal/flow"
	"github.com/BTreeMap/PromptCoach/internal/metrics"
	"github.com/BTreeMap/PromptCoach/internal/models"
)

const (
	lambdaTestMessage       = "Test event received successfully"
	lambdaInvalidRequestMsg = "Invalid request format: userRequest not found"
)

type lambdaMessage struct {
	Message string `json:"message"`
}

// lambdaEvent is the part of an API Gateway proxy event the handler reads. Body is kept
// raw because direct invocations may pass the payload as an object instead of a string.
type lambdaEvent struct {
	Body json.RawMessage `json:"body"`
	Test json.RawMessage `json:"test"`
}

// LambdaHandler adapts the webhook to an API Gateway proxy integration. Events with a
// "test" key are acknowledged without processing.
func (s *Server) LambdaHandler(ctx context.Context, raw json.RawMessage) (events.APIGatewayProxyResponse, error) {
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		ctx = flow.WithRequestID(ctx, lc.AwsRequestID)
	}
	slog.Info("Server.LambdaHandler: event received", "requestID", flow.RequestIDFromContext(ctx), "size", len(raw))

	var ev lambdaEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		slog.Warn("Server.LambdaHandler: malformed event", "error", err)
		return lambdaJSON(http.StatusBadRequest, errorBody{Error: lambdaInvalidRequestMsg}), nil
	}
	if ev.Test != nil {
		return lambdaJSON(http.StatusOK, lambdaMessage{Message: lambdaTestMessage}), nil
	}

	req, ok := parseLambdaBody(ev.Body)
	if !ok {
		slog.Warn("Server.LambdaHandler: userRequest not found")
		s.metrics.RecordWebhook(metrics.OutcomeError)
		return lambdaJSON(http.StatusBadRequest, errorBody{Error: lambdaInvalidRequestMsg}), nil
	}

	resp, _ := s.turn(ctx, req)
	return lambdaJSON(http.StatusOK, resp), nil
}

// parseLambdaBody decodes a body given either as a JSON string or as an embedded object.
// An undecodable body is treated as empty.
func parseLambdaBody(body json.RawMessage) (models.SkillRequest, bool) {
	var req models.SkillRequest
	if len(body) == 0 {
		return req, false
	}
	payload := []byte(body)
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		payload = []byte(s)
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		slog.Debug("Server.parseLambdaBody: undecodable body", "error", err)
		return models.SkillRequest{}, false
	}
	return req, req.Validate() == nil
}

func lambdaJSON(statusCode int, v interface{}) events.APIGatewayProxyResponse {
	body, statusCode := marshalResponse(statusCode, v)
	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
