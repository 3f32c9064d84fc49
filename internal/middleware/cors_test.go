package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func corsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(CORS(NewOrigins([]string{"https://app.example.com/"})))
	r.Get("/api/messages", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp := httptest.NewRecorder()
	corsRouter().ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected Access-Control-Allow-Origin %q", got)
	}
	if got := resp.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Fatalf("unexpected Access-Control-Allow-Credentials %q", got)
	}
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/messages", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := httptest.NewRecorder()
	corsRouter().ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected Access-Control-Allow-Origin %q", got)
	}
	if got := resp.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("unexpected Access-Control-Allow-Credentials %q", got)
	}
}

func TestOriginsCheck(t *testing.T) {
	origins := NewOrigins([]string{"https://app.example.com"})

	cases := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "http://chat.local:8080", want: true},
		{origin: "https://app.example.com", want: true},
		{origin: "https://evil.example", want: false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "http://chat.local:8080/api/ws", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if got := origins.Check(req); got != tc.want {
			t.Fatalf("origin %q: got %v want %v", tc.origin, got, tc.want)
		}
	}
}
