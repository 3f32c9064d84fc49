package chat

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/personachat/backend/internal/model/chat"
	"github.com/personachat/backend/internal/model/persona"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPersonaChanged  = errors.New("persona changed during the turn")
	ErrTurnConflict    = errors.New("another turn completed first")
)

// Service encapsulates per-session conversation state.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*chat.Session
	now      func() time.Time
}

// NewService bootstraps the in-memory session store.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]*chat.Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession provisions an empty session with no active persona.
func (s *Service) CreateSession(_ context.Context) (chat.Session, error) {
	now := s.now()
	session := &chat.Session{
		ID:        uuid.NewString(),
		History:   make([]chat.Turn, 0, 16),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return cloneSession(session), nil
}

// GetSession retrieves a copy of the session and refreshes its idle timer.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	session.UpdatedAt = s.now()
	return cloneSession(session), nil
}

// SelectPersona makes key the active persona. History is cleared only when
// key differs from the active persona; reset reports whether that happened.
func (s *Service) SelectPersona(_ context.Context, sessionID string, key persona.Key) (session chat.Session, reset bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, false, ErrSessionNotFound
	}

	current.UpdatedAt = s.now()
	if current.Persona != nil && *current.Persona == key {
		return cloneSession(current), false, nil
	}

	selected := key
	current.Persona = &selected
	current.History = make([]chat.Turn, 0, 16)
	current.Generation++
	current.Revision++
	return cloneSession(current), true, nil
}

// AppendExchange records a completed turn: the user entry followed by the
// assistant entry. at is the session version observed when the turn started;
// if the persona was switched meanwhile ErrPersonaChanged is returned, if
// another turn was committed first ErrTurnConflict. Nothing is stored then.
func (s *Service) AppendExchange(_ context.Context, sessionID string, at chat.Version, userContent, assistantContent string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	if session.Generation != at.Generation {
		return chat.Session{}, ErrPersonaChanged
	}
	if session.Revision != at.Revision {
		return chat.Session{}, ErrTurnConflict
	}

	now := s.now()
	session.History = append(session.History,
		chat.Turn{Role: chat.RoleUser, Content: userContent, CreatedAt: now},
		chat.Turn{Role: chat.RoleAssistant, Content: assistantContent, CreatedAt: now},
	)
	session.Revision++
	session.UpdatedAt = now
	return cloneSession(session), nil
}

// LoadTranscript returns the stored turns for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Turn, len(session.History))
	copy(copied, session.History)
	return copied, nil
}

// Authenticate caches a verified identity on the session.
func (s *Service) Authenticate(_ context.Context, sessionID string, identity chat.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.Identity = &identity
	session.UpdatedAt = s.now()
	return nil
}

// Expire drops sessions idle since before the cutoff and returns how many were removed.
func (s *Service) Expire(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		if session.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunJanitor expires idle sessions every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttl / 2
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Expire(s.now().Add(-ttl)); n > 0 {
				log.Printf("[chat] expired %d idle sessions", n)
			}
		}
	}
}

func cloneSession(src *chat.Session) chat.Session {
	out := *src
	out.History = append([]chat.Turn(nil), src.History...)
	if src.Persona != nil {
		key := *src.Persona
		out.Persona = &key
	}
	if src.Identity != nil {
		identity := *src.Identity
		out.Identity = &identity
	}
	return out
}
