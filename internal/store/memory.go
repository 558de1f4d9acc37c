package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/BTreeMap/PromptCoach/internal/models"
)

// InMemoryStore keeps sessions in process memory. Data is lost on restart.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]models.Session
	completed map[string][]models.CompletedSession
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]models.Session),
		completed: make(map[string][]models.CompletedSession),
	}
}

func (s *InMemoryStore) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	sess.ConversationHistory = append([]models.Message(nil), sess.ConversationHistory...)
	return &sess, nil
}

func (s *InMemoryStore) SaveSession(ctx context.Context, session models.Session) error {
	if err := validateUserID(session.UserID); err != nil {
		return err
	}
	session.ConversationHistory = append([]models.Message(nil), session.ConversationHistory...)
	s.mu.Lock()
	s.sessions[session.UserID] = session
	s.mu.Unlock()
	slog.Debug("InMemoryStore.SaveSession: saved", "userID", session.UserID, "stage", session.CurrentStage)
	return nil
}

func (s *InMemoryStore) SaveCompletedSession(ctx context.Context, completed models.CompletedSession) error {
	if err := validateUserID(completed.UserID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.completed[completed.UserID]
	for i := range list {
		if list[i].SessionID == completed.SessionID {
			list[i] = completed
			return nil
		}
	}
	s.completed[completed.UserID] = append(list, completed)
	return nil
}

func (s *InMemoryStore) ListCompletedSessions(ctx context.Context, userID string, limit int) ([]models.CompletedSession, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := append([]models.CompletedSession(nil), s.completed[userID]...)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SessionEndTime.After(out[j].SessionEndTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
