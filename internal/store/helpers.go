package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/PromptCoach/internal/models"
)

// decodeSession parses the JSON session column.
func decodeSession(data string) (*models.Session, error) {
	var sess models.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if sess.ConversationHistory == nil {
		sess.ConversationHistory = []models.Message{}
	}
	return &sess, nil
}

// scanCompletedSessions reads JSON-encoded completed sessions from rows.
func scanCompletedSessions(rows *sql.Rows) ([]models.CompletedSession, error) {
	var out []models.CompletedSession
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan completed session failed: %w", err)
		}
		var c models.CompletedSession
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal completed session: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate completed session rows: %w", err)
	}
	return out, nil
}
