package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// Origins is the set of cross-site origins trusted with credentialed calls.
type Origins struct {
	allowed map[string]struct{}
}

// NewOrigins builds the allowlist. Entries are scheme://host[:port].
func NewOrigins(list []string) *Origins {
	o := &Origins{allowed: make(map[string]struct{}, len(list))}
	for _, origin := range list {
		if origin = normalizeOrigin(origin); origin != "" {
			o.allowed[origin] = struct{}{}
		}
	}
	return o
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}

// Allowed reports whether origin is on the allowlist.
func (o *Origins) Allowed(origin string) bool {
	if o == nil {
		return false
	}
	_, ok := o.allowed[normalizeOrigin(origin)]
	return ok
}

// Check accepts requests without an Origin header, same-origin requests and
// allowlisted origins. Used by the websocket upgrader.
func (o *Origins) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return o.Allowed(origin)
}

// CORS grants cross-origin access to allowlisted origins only; other origins
// get no CORS headers and the browser blocks the response.
func CORS(origins *Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")
			if origin != "" && origins.Allowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
