package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/personachat/backend/internal/middleware"
	chatModel "github.com/personachat/backend/internal/model/chat"
	"github.com/personachat/backend/internal/model/persona"
	chatService "github.com/personachat/backend/internal/service/chat"
	"github.com/personachat/backend/internal/service/conversation"
	"github.com/personachat/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	conv *conversation.Service
}

// New 创建聊天处理器
func New(conv *conversation.Service) *Handler {
	return &Handler{conv: conv}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session", h.handleGetSession)
	r.Put("/session/persona", h.handleSelectPersona)
	r.Get("/messages", h.handleListMessages)
	r.Post("/messages", h.handleSendMessage)
}

type sessionView struct {
	ID         string           `json:"id"`
	Persona    *persona.Persona `json:"persona,omitempty"`
	History    []chatModel.Turn `json:"history"`
	Email      string           `json:"email,omitempty"`
	ModelReady bool             `json:"modelReady"`
	Reset      *bool            `json:"reset,omitempty"`
}

func (h *Handler) view(session chatModel.Session, p *persona.Persona) sessionView {
	v := sessionView{
		ID:         session.ID,
		Persona:    p,
		History:    session.History,
		ModelReady: h.conv.Ready(),
	}
	if v.History == nil {
		v.History = []chatModel.Turn{}
	}
	if session.Identity != nil {
		v.Email = session.Identity.Email
	}
	return v
}

// handleGetSession 返回当前会话（首次访问时选中默认角色）
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "session missing")
		return
	}

	session, p, err := h.conv.ActivePersona(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, h.view(session, &p))
}

// handleSelectPersona 切换角色；角色变化时清空历史
func (h *Handler) handleSelectPersona(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "session missing")
		return
	}

	var payload persona.Key
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Category == "" || payload.Name == "" {
		utils.RespondError(w, http.StatusBadRequest, "category and name are required")
		return
	}

	result, err := h.conv.SelectPersona(r.Context(), sessionID, payload)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	v := h.view(result.Session, &result.Persona)
	v.Reset = &result.Reset
	utils.RespondJSON(w, http.StatusOK, v)
}

// handleListMessages 返回历史消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "session missing")
		return
	}

	session, _, err := h.conv.ActivePersona(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"history": h.view(session, nil).History})
}

// handleSendMessage 处理一轮对话
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "session missing")
		return
	}

	var payload struct {
		Content string `json:"content"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.conv.SendMessage(r.Context(), sessionID, payload.Content)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	var active *persona.Persona
	if session.Persona != nil {
		if _, p, err := h.conv.ActivePersona(r.Context(), sessionID); err == nil {
			active = &p
		}
	}
	utils.RespondJSON(w, http.StatusOK, h.view(session, active))
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	utils.RespondError(w, StatusFor(err, h.conv.Ready()), err.Error())
}

// StatusFor maps conversation errors to HTTP status codes.
func StatusFor(err error, modelReady bool) int {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, persona.ErrNotFound), errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrPersonaChanged), errors.Is(err, chatService.ErrTurnConflict):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrNoPersona):
		return http.StatusServiceUnavailable
	case errors.Is(err, conversation.ErrModelUnavailable):
		if !modelReady {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
