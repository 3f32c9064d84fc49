package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/personachat/backend/internal/model/chat"
)

var (
	ErrUnauthorized = errors.New("token verification failed")
	ErrEmptyToken   = errors.New("token is empty")
)

// Verifier confirms login tokens against the remote verification endpoint.
type Verifier struct {
	endpoint string
	client   *http.Client
	retries  int
	backoff  time.Duration
}

// NewVerifier builds a verifier. timeout bounds each attempt; retries is the
// number of extra attempts after a network failure or 5xx response.
func NewVerifier(endpoint string, timeout time.Duration, retries int) *Verifier {
	if retries < 0 {
		retries = 0
	}
	return &Verifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		retries:  retries,
		backoff:  250 * time.Millisecond,
	}
}

type verifyRequest struct {
	IDToken string `json:"idToken"`
}

type verifyResponse struct {
	Email string `json:"email"`
}

// Verify posts the token and returns the verified identity. Every failure
// wraps ErrUnauthorized.
func (v *Verifier) Verify(ctx context.Context, token string) (chat.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return chat.Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrEmptyToken)
	}

	var lastErr error
	for attempt := 0; attempt <= v.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return chat.Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, ctx.Err())
			case <-time.After(v.backoff):
			}
		}

		email, retryable, err := v.attempt(ctx, token)
		if err == nil {
			return chat.Identity{Token: token, Email: email}, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		log.Printf("[auth] verification attempt %d failed: %v", attempt+1, err)
	}

	return chat.Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, lastErr)
}

func (v *Verifier) attempt(ctx context.Context, token string) (email string, retryable bool, err error) {
	body, err := json.Marshal(verifyRequest{IDToken: token})
	if err != nil {
		return "", false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", resp.StatusCode >= http.StatusInternalServerError, fmt.Errorf("verification endpoint returned %d", resp.StatusCode)
	}

	var payload verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err != nil {
		return "", false, fmt.Errorf("decode verification response: %w", err)
	}
	if strings.TrimSpace(payload.Email) == "" {
		return "", false, errors.New("verification response has no email")
	}
	return payload.Email, false, nil
}
