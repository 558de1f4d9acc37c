package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/PromptCoach/internal/models"
)

// errorBody is the bare error shape returned for unknown paths and rejected Lambda events.
type errorBody struct {
	Error string `json:"error"`
}

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// marshalResponse encodes response, substituting the fallback error on failure.
func marshalResponse(statusCode int, response interface{}) ([]byte, int) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.marshalResponse: failed to marshal JSON response", "error", err)
		return fallbackErrorResponse, http.StatusInternalServerError
	}
	return jsonData, statusCode
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors are caught before headers are written
	jsonData, statusCode := marshalResponse(statusCode, response)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
