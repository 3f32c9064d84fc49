package middleware

import (
	"context"
	"log"
	"net/http"

	chatService "github.com/personachat/backend/internal/service/chat"
	"github.com/personachat/backend/pkg/utils"
)

type contextKey struct{ name string }

var sessionIDKey = &contextKey{"session-id"}

// SessionOptions configure the session cookie.
type SessionOptions struct {
	CookieName string
	Secure     bool
}

// Sessions resolves the browser session from its cookie, creating a new
// session when the cookie is missing or refers to an expired session.
func Sessions(sessions *chatService.Service, opts SessionOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if cookie, err := r.Cookie(opts.CookieName); err == nil && cookie.Value != "" {
				if _, err := sessions.GetSession(ctx, cookie.Value); err == nil {
					next.ServeHTTP(w, r.WithContext(WithSessionID(ctx, cookie.Value)))
					return
				}
			}

			session, err := sessions.CreateSession(ctx)
			if err != nil {
				log.Printf("[session] create failed: %v", err)
				utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
				return
			}

			http.SetCookie(w, &http.Cookie{
				Name:     opts.CookieName,
				Value:    session.ID,
				Path:     "/",
				HttpOnly: true,
				Secure:   opts.Secure,
				SameSite: http.SameSiteLaxMode,
			})
			next.ServeHTTP(w, r.WithContext(WithSessionID(ctx, session.ID)))
		})
	}
}

// WithSessionID stores the session id on the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionID returns the session id placed by Sessions.
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}
