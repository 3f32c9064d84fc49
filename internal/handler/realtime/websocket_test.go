package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/personachat/backend/internal/middleware"
	"github.com/personachat/backend/internal/model/chat"
	"github.com/personachat/backend/internal/model/persona"
	chatservice "github.com/personachat/backend/internal/service/chat"
	"github.com/personachat/backend/internal/service/conversation"
)

type echoResponder struct{}

func (echoResponder) GenerateResponse(_ context.Context, _ string, _ []chat.Turn, input string) (*schema.Message, error) {
	return schema.AssistantMessage("you said: "+input, nil), nil
}

func (echoResponder) StreamResponse(context.Context, string, []chat.Turn, string) (*schema.StreamReader[*schema.Message], error) {
	return nil, nil
}

func (echoResponder) StreamingEnabled() bool { return false }

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	sessions := chatservice.NewService()
	conv := conversation.New(sessions, persona.NewMemoryStore(persona.Seed()), "", echoResponder{})

	r := chi.NewRouter()
	r.Use(middleware.Sessions(sessions, middleware.SessionOptions{CookieName: "sid"}))
	NewWebSocketHandler(conv, middleware.NewOrigins([]string{"https://app.example.com"})).RegisterWebSocketRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(newServer(t)), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestWebSocketSelectAndMessage(t *testing.T) {
	conn := dial(t)

	if err := conn.WriteJSON(inboundMessage{Type: "select", Category: "Therapy", Name: "Skeptical Client"}); err != nil {
		t.Fatalf("write select: %v", err)
	}
	if f := read(t, conn); f.Type != "persona" {
		t.Fatalf("expected persona frame, got %s", f.Type)
	}

	if err := conn.WriteJSON(inboundMessage{Type: "message", Content: "Hello"}); err != nil {
		t.Fatalf("write message: %v", err)
	}
	if f := read(t, conn); f.Type != "delta" {
		t.Fatalf("expected delta frame, got %s", f.Type)
	}

	f := read(t, conn)
	if f.Type != "message" {
		t.Fatalf("expected message frame, got %s", f.Type)
	}
	var data struct {
		History []chat.Turn `json:"history"`
	}
	if err := json.Unmarshal(f.Data, &data); err != nil {
		t.Fatalf("decode message frame: %v", err)
	}
	if len(data.History) != 2 || data.History[1].Content != "you said: Hello" {
		t.Fatalf("unexpected history %+v", data.History)
	}
}

func TestWebSocketRejectsUnknownPersonaAndType(t *testing.T) {
	conn := dial(t)

	if err := conn.WriteJSON(inboundMessage{Type: "select", Category: "Therapy", Name: "Nobody"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := read(t, conn); f.Type != "error" {
		t.Fatalf("expected error frame, got %s", f.Type)
	}

	if err := conn.WriteJSON(inboundMessage{Type: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := read(t, conn); f.Type != "error" {
		t.Fatalf("expected error frame, got %s", f.Type)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv := newServer(t)

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err == nil {
		t.Fatal("expected handshake to fail for a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}

	header.Set("Origin", "https://app.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err != nil {
		t.Fatalf("allowlisted origin dial: %v", err)
	}
	conn.Close()
}
