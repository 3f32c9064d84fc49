package stream

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/personachat/backend/internal/middleware"
	"github.com/personachat/backend/internal/model/chat"
	"github.com/personachat/backend/internal/service/conversation"
	"github.com/personachat/backend/pkg/utils"
)

// Handler manages streaming AI responses via Server-Sent Events
type Handler struct {
	conv *conversation.Service
}

// New creates a new stream handler
func New(conv *conversation.Service) *Handler {
	return &Handler{conv: conv}
}

// RegisterRoutes 注册流式对话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream", h.handleStream)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string      `json:"event"`
	Content   string      `json:"content,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	History   []chat.Turn `json:"history,omitempty"`
	Finished  bool        `json:"finished,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// handleStream runs one turn and streams the reply as it is generated.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := middleware.SessionID(ctx)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "session missing")
		return
	}

	userMessage := r.URL.Query().Get("message")
	if userMessage == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}
	if !h.conv.Ready() {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable: API key not found")
		return
	}

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_, p, err := h.conv.ActivePersona(ctx, sessionID)
	if err != nil {
		sse.Send(StreamResponse{Event: "error", Error: err.Error()})
		return
	}

	sse.Send(StreamResponse{Event: "start", SessionID: sessionID, Content: p.Name})

	session, err := h.conv.StreamMessage(ctx, sessionID, userMessage, func(delta string) {
		sse.Send(StreamResponse{Event: "delta", SessionID: sessionID, Content: delta})
	})
	if err != nil {
		log.Printf("[stream] session=%s turn failed: %v", sessionID, err)
		sse.Send(StreamResponse{Event: "error", SessionID: sessionID, Error: err.Error()})
		return
	}

	last := session.History[len(session.History)-1]
	sse.Send(StreamResponse{Event: "message", SessionID: sessionID, Content: last.Content})
	sse.Send(StreamResponse{Event: "end", SessionID: sessionID, History: session.History, Finished: true})

	log.Printf("[stream] completed response for session=%s, persona=%s", sessionID, p.Key())
}
