package realtime

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/personachat/backend/internal/middleware"
	"github.com/personachat/backend/internal/model/chat"
	"github.com/personachat/backend/internal/model/persona"
	"github.com/personachat/backend/internal/service/conversation"
)

const writeWait = 10 * time.Second

// WebSocketHandler WebSocket对话处理器
type WebSocketHandler struct {
	conv     *conversation.Service
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器；仅接受同源或白名单内的 Origin
func NewWebSocketHandler(conv *conversation.Service, origins *middleware.Origins) *WebSocketHandler {
	return &WebSocketHandler{
		conv: conv,
		upgrader: websocket.Upgrader{
			CheckOrigin:     origins.Check,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
	Name     string `json:"name,omitempty"`
	Content  string `json:"content,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// handleWebSocket 处理WebSocket连接；每条入站消息同步处理，与页面交互一一对应
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		http.Error(w, "session missing", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	log.Printf("[ws] connection opened for session=%s", sessionID)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error for session=%s: %v", sessionID, err)
			}
			return
		}

		switch msg.Type {
		case "select":
			result, err := h.conv.SelectPersona(ctx, sessionID, persona.Key{Category: msg.Category, Name: msg.Name})
			if err != nil {
				h.sendError(conn, sessionID, err)
				continue
			}
			h.send(conn, sessionID, "persona", result)

		case "message":
			session, err := h.conv.StreamMessage(ctx, sessionID, msg.Content, func(delta string) {
				h.send(conn, sessionID, "delta", map[string]string{"content": delta})
			})
			if err != nil {
				h.sendError(conn, sessionID, err)
				continue
			}
			h.send(conn, sessionID, "message", map[string][]chat.Turn{"history": session.History})

		default:
			h.sendError(conn, sessionID, errors.New("unknown message type: "+msg.Type))
		}
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, sessionID, kind string, data interface{}) {
	payload, err := sonic.ConfigStd.Marshal(outgoingMessage{
		Type:      kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("[ws] marshal %s frame: %v", kind, err)
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("[ws] write %s frame for session=%s: %v", kind, sessionID, err)
	}
}

func (h *WebSocketHandler) sendError(conn *websocket.Conn, sessionID string, err error) {
	h.send(conn, sessionID, "error", map[string]string{"message": err.Error()})
}
