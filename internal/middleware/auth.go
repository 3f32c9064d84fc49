package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/personachat/backend/internal/model/chat"
	chatService "github.com/personachat/backend/internal/service/chat"
	"github.com/personachat/backend/pkg/utils"
)

// TokenVerifier confirms a login token and returns the caller identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (chat.Identity, error)
}

// AccessGate only lets requests through for sessions with a verified
// identity. A "token" query parameter is verified on the spot; requests
// without one are redirected to loginURL (API routes get 401 instead).
// Must run after Sessions.
func AccessGate(sessions *chatService.Service, verifier TokenVerifier, loginURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sessionID, ok := SessionID(ctx)
			if !ok {
				utils.RespondError(w, http.StatusInternalServerError, "session missing")
				return
			}

			session, err := sessions.GetSession(ctx, sessionID)
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, "session expired")
				return
			}
			if session.Authenticated() {
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimSpace(r.URL.Query().Get("token"))
			if token == "" {
				if isAPIRequest(r) {
					utils.RespondError(w, http.StatusUnauthorized, "authentication required")
					return
				}
				http.Redirect(w, r, loginURL, http.StatusFound)
				return
			}

			identity, err := verifier.Verify(ctx, token)
			if err != nil {
				log.Printf("[auth] session=%s verification failed: %v", sessionID, err)
				utils.RespondError(w, http.StatusUnauthorized, "unauthorized: token verification failed")
				return
			}

			if err := sessions.Authenticate(ctx, sessionID, identity); err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, chatService.ErrSessionNotFound) {
					status = http.StatusUnauthorized
				}
				utils.RespondError(w, status, err.Error())
				return
			}
			log.Printf("[auth] session=%s authenticated as %s", sessionID, identity.Email)
			next.ServeHTTP(w, r)
		})
	}
}

func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}
