package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/personachat/backend/internal/model/chat"
	chatService "github.com/personachat/backend/internal/service/chat"
)

type fakeVerifier struct {
	calls int
	valid map[string]string
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (chat.Identity, error) {
	f.calls++
	if email, ok := f.valid[token]; ok {
		return chat.Identity{Token: token, Email: email}, nil
	}
	return chat.Identity{}, errors.New("invalid token")
}

func setupGate() (*chi.Mux, *chatService.Service, *fakeVerifier) {
	sessions := chatService.NewService()
	verifier := &fakeVerifier{valid: map[string]string{"good": "therapist@example.com"}}

	r := chi.NewRouter()
	r.Use(Sessions(sessions, SessionOptions{CookieName: "sid"}))
	r.Use(AccessGate(sessions, verifier, "https://login.example.com"))
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	r.Get("/", ok)
	r.Get("/api/session", ok)
	return r, sessions, verifier
}

func serve(r http.Handler, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func sessionCookie(t *testing.T, resp *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range resp.Result().Cookies() {
		if c.Name == "sid" {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestGateRedirectsWithoutToken(t *testing.T) {
	r, _, verifier := setupGate()

	resp := serve(r, "/")
	if resp.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.Code)
	}
	if loc := resp.Header().Get("Location"); loc != "https://login.example.com" {
		t.Fatalf("unexpected redirect %q", loc)
	}
	if verifier.calls != 0 {
		t.Fatal("verifier must not be called without a token")
	}
}

func TestGateAPIWithoutTokenIsUnauthorized(t *testing.T) {
	r, _, _ := setupGate()

	if resp := serve(r, "/api/session"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestGateValidTokenAuthenticatesSession(t *testing.T) {
	r, sessions, verifier := setupGate()

	resp := serve(r, "/?token=good")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	cookie := sessionCookie(t, resp)

	session, err := sessions.GetSession(context.Background(), cookie.Value)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if !session.Authenticated() || session.Identity.Email != "therapist@example.com" {
		t.Fatalf("unexpected identity %+v", session.Identity)
	}

	// the verified session no longer needs a token
	if resp := serve(r, "/api/session", cookie); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for authenticated session, got %d", resp.Code)
	}
	if verifier.calls != 1 {
		t.Fatalf("expected a single verification, got %d", verifier.calls)
	}
}

func TestGateInvalidTokenHalts(t *testing.T) {
	r, sessions, _ := setupGate()

	resp := serve(r, "/?token=forged")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	session, err := sessions.GetSession(context.Background(), sessionCookie(t, resp).Value)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if session.Authenticated() {
		t.Fatal("session must stay unauthenticated")
	}
}

func TestSessionsReusesCookie(t *testing.T) {
	sessions := chatService.NewService()
	var seen []string
	h := Sessions(sessions, SessionOptions{CookieName: "sid"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := SessionID(r.Context())
		seen = append(seen, id)
	}))

	first := serve(h, "/")
	cookie := sessionCookie(t, first)
	serve(h, "/", cookie)
	serve(h, "/", &http.Cookie{Name: "sid", Value: "stale"})

	if len(seen) != 3 || seen[0] != seen[1] {
		t.Fatalf("expected cookie session to be reused, got %v", seen)
	}
	if seen[2] == "stale" || seen[2] == seen[0] {
		t.Fatalf("stale cookie must yield a fresh session, got %q", seen[2])
	}
}
