package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/personachat/backend/internal/middleware"
	chatModel "github.com/personachat/backend/internal/model/chat"
	"github.com/personachat/backend/internal/model/persona"
	chatservice "github.com/personachat/backend/internal/service/chat"
	"github.com/personachat/backend/internal/service/conversation"
)

type fakeResponder struct {
	reply string
	err   error
}

func (f *fakeResponder) GenerateResponse(context.Context, string, []chatModel.Turn, string) (*schema.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeResponder) StreamResponse(context.Context, string, []chatModel.Turn, string) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not used")
}

func (f *fakeResponder) StreamingEnabled() bool { return false }

type client struct {
	t      *testing.T
	router http.Handler
	cookie *http.Cookie
}

func setupRouter(t *testing.T, responder conversation.Responder) *client {
	t.Helper()
	sessions := chatservice.NewService()
	conv := conversation.New(sessions, persona.NewMemoryStore(persona.Seed()), "", responder)

	r := chi.NewRouter()
	r.Use(middleware.Sessions(sessions, middleware.SessionOptions{CookieName: "sid"}))
	New(conv).RegisterRoutes(r)
	return &client{t: t, router: r}
}

func (c *client) do(method, target string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}

	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	resp := httptest.NewRecorder()
	c.router.ServeHTTP(resp, req)

	for _, ck := range resp.Result().Cookies() {
		if ck.Name == "sid" {
			c.cookie = ck
		}
	}
	return resp
}

type sessionBody struct {
	Persona    *persona.Persona `json:"persona"`
	History    []chatModel.Turn `json:"history"`
	ModelReady bool             `json:"modelReady"`
	Reset      *bool            `json:"reset"`
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) sessionBody {
	t.Helper()
	var body sessionBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestGetSessionSelectsDefaultPersona(t *testing.T) {
	c := setupRouter(t, &fakeResponder{reply: "ok"})

	resp := c.do(http.MethodGet, "/session", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := decode(t, resp)
	if body.Persona == nil || body.Persona.Name != "Skeptical Client" {
		t.Fatalf("unexpected default persona %+v", body.Persona)
	}
	if !body.ModelReady {
		t.Fatal("expected model ready")
	}
}

func TestSelectPersonaAndSendMessage(t *testing.T) {
	c := setupRouter(t, &fakeResponder{reply: "Why are you asking?"})

	resp := c.do(http.MethodPut, "/session/persona", map[string]string{"category": "Therapy", "name": "Skeptical Client"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = c.do(http.MethodPost, "/messages", map[string]string{"content": "Hello"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	body := decode(t, resp)
	if len(body.History) != 2 || body.History[0].Content != "Hello" || body.History[1].Content != "Why are you asking?" {
		t.Fatalf("unexpected history %+v", body.History)
	}

	resp = c.do(http.MethodPut, "/session/persona", map[string]string{"category": "Therapy", "name": "Skeptical Client"})
	body = decode(t, resp)
	if body.Reset == nil || *body.Reset || len(body.History) != 2 {
		t.Fatalf("re-selection must keep history: %+v", body)
	}

	resp = c.do(http.MethodPut, "/session/persona", map[string]string{"category": "Therapy", "name": "Anxious Client"})
	body = decode(t, resp)
	if body.Reset == nil || !*body.Reset || len(body.History) != 0 {
		t.Fatalf("switch must clear history: %+v", body)
	}
}

func TestSelectPersonaInvalid(t *testing.T) {
	c := setupRouter(t, &fakeResponder{})

	if resp := c.do(http.MethodPut, "/session/persona", map[string]string{"category": "Therapy", "name": "Nobody"}); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if resp := c.do(http.MethodPut, "/session/persona", map[string]string{"category": "Therapy"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSendMessageErrors(t *testing.T) {
	fake := &fakeResponder{err: errors.New("upstream down")}
	c := setupRouter(t, fake)

	if resp := c.do(http.MethodPost, "/messages", map[string]string{"content": " "}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", resp.Code)
	}
	if resp := c.do(http.MethodPost, "/messages", map[string]string{"content": "Hello"}); resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on model failure, got %d", resp.Code)
	}

	resp := c.do(http.MethodGet, "/messages", nil)
	var body struct {
		History []chatModel.Turn `json:"history"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.History) != 0 {
		t.Fatalf("failed turn must not be recorded, got %+v", body.History)
	}
}

func TestSendMessageWithoutModel(t *testing.T) {
	c := setupRouter(t, nil)

	if resp := c.do(http.MethodPost, "/messages", map[string]string{"content": "Hello"}); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without model, got %d", resp.Code)
	}
}

func TestStatusForConflicts(t *testing.T) {
	for _, err := range []error{chatservice.ErrPersonaChanged, chatservice.ErrTurnConflict} {
		if got := StatusFor(err, true); got != http.StatusConflict {
			t.Fatalf("%v: expected 409, got %d", err, got)
		}
	}
}
