package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/personachat/backend/internal/model/chat"
	"github.com/personachat/backend/internal/model/persona"
	"github.com/personachat/backend/internal/service/ai"
	chatService "github.com/personachat/backend/internal/service/chat"
)

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrModelUnavailable = errors.New("model call failed")
	ErrNoPersona        = errors.New("no persona available")
)

// Responder is the model side of a turn.
type Responder interface {
	GenerateResponse(ctx context.Context, system string, history []chat.Turn, userMessage string) (*schema.Message, error)
	StreamResponse(ctx context.Context, system string, history []chat.Turn, userMessage string) (*schema.StreamReader[*schema.Message], error)
	StreamingEnabled() bool
}

// Service ties persona selection and turn processing to session state.
type Service struct {
	sessions    *chatService.Service
	personas    persona.Store
	globalNotes string
	responder   Responder
}

// New creates the conversation service. responder may be nil when no model
// is configured; turns then fail with ErrModelUnavailable.
func New(sessions *chatService.Service, personas persona.Store, globalNotes string, responder Responder) *Service {
	return &Service{
		sessions:    sessions,
		personas:    personas,
		globalNotes: globalNotes,
		responder:   responder,
	}
}

// Ready reports whether a model is configured.
func (s *Service) Ready() bool {
	return s.responder != nil
}

// Result is the outcome of a persona selection.
type Result struct {
	Session chat.Session    `json:"session"`
	Persona persona.Persona `json:"persona"`
	Reset   bool            `json:"reset"`
}

// SelectPersona activates the persona identified by key for the session.
func (s *Service) SelectPersona(ctx context.Context, sessionID string, key persona.Key) (Result, error) {
	p, ok := s.personas.Find(key)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", persona.ErrNotFound, key)
	}

	session, reset, err := s.sessions.SelectPersona(ctx, sessionID, key)
	if err != nil {
		return Result{}, err
	}
	if reset {
		log.Printf("[chat] session=%s switched persona to %s", sessionID, key)
	}
	return Result{Session: session, Persona: p, Reset: reset}, nil
}

// ActivePersona returns the session's persona, selecting the catalog default
// when none is active yet.
func (s *Service) ActivePersona(ctx context.Context, sessionID string) (chat.Session, persona.Persona, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, persona.Persona{}, err
	}

	if session.Persona != nil {
		if p, ok := s.personas.Find(*session.Persona); ok {
			return session, p, nil
		}
	}

	def, ok := s.personas.Default()
	if !ok {
		return chat.Session{}, persona.Persona{}, ErrNoPersona
	}
	result, err := s.SelectPersona(ctx, sessionID, def.Key())
	if err != nil {
		return chat.Session{}, persona.Persona{}, err
	}
	return result.Session, result.Persona, nil
}

// SystemPrompt composes the system instruction for a persona.
func (s *Service) SystemPrompt(p persona.Persona) string {
	return ai.ComposeSystemPrompt(p, s.globalNotes)
}

// SendMessage runs one turn and returns the session with the user and
// assistant entries appended. On model failure history is left unchanged.
func (s *Service) SendMessage(ctx context.Context, sessionID, input string) (chat.Session, error) {
	session, p, err := s.prepare(ctx, sessionID, input)
	if err != nil {
		return chat.Session{}, err
	}

	reply, err := s.responder.GenerateResponse(ctx, s.SystemPrompt(p), session.History, input)
	if err != nil {
		log.Printf("[chat] session=%s model call failed: %v", sessionID, err)
		return chat.Session{}, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	return s.sessions.AppendExchange(ctx, sessionID, session.Version(), input, reply.Content)
}

// StreamMessage runs one turn, handing each non-empty delta to onDelta as it
// arrives. Falls back to a single delta when streaming is disabled.
func (s *Service) StreamMessage(ctx context.Context, sessionID, input string, onDelta func(string)) (chat.Session, error) {
	session, p, err := s.prepare(ctx, sessionID, input)
	if err != nil {
		return chat.Session{}, err
	}

	system := s.SystemPrompt(p)
	var content string
	if s.responder.StreamingEnabled() {
		content, err = s.collectStream(ctx, system, session.History, input, onDelta)
	} else {
		var reply *schema.Message
		reply, err = s.responder.GenerateResponse(ctx, system, session.History, input)
		if err == nil {
			content = reply.Content
			onDelta(content)
		}
	}
	if err != nil {
		log.Printf("[stream] session=%s model call failed: %v", sessionID, err)
		return chat.Session{}, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	return s.sessions.AppendExchange(ctx, sessionID, session.Version(), input, content)
}

func (s *Service) prepare(ctx context.Context, sessionID, input string) (chat.Session, persona.Persona, error) {
	if strings.TrimSpace(input) == "" {
		return chat.Session{}, persona.Persona{}, ErrEmptyMessage
	}
	if s.responder == nil {
		return chat.Session{}, persona.Persona{}, fmt.Errorf("%w: API key not found", ErrModelUnavailable)
	}
	return s.ActivePersona(ctx, sessionID)
}

func (s *Service) collectStream(ctx context.Context, system string, history []chat.Turn, input string, onDelta func(string)) (string, error) {
	stream, err := s.responder.StreamResponse(ctx, system, history, input)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			onDelta(chunk.Content)
		}
	}

	if len(chunks) == 0 {
		return "", nil
	}
	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", err
	}
	return response.Content, nil
}
