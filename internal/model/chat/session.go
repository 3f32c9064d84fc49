package chat

import (
	"time"

	"github.com/personachat/backend/internal/model/persona"
)

// Identity is the verified caller cached for the lifetime of a session.
type Identity struct {
	Token string `json:"-"`
	Email string `json:"email"`
}

// Session captures the per-visit state: active persona and ordered history.
type Session struct {
	ID         string       `json:"id"`
	Persona    *persona.Key `json:"persona,omitempty"`
	History    []Turn       `json:"history"`
	Identity   *Identity    `json:"identity,omitempty"`
	Generation uint64       `json:"-"`
	Revision   uint64       `json:"-"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Version marks the session state a turn was started from. Generation
// changes on persona switches, Revision on every history change.
type Version struct {
	Generation uint64
	Revision   uint64
}

// Version returns the current state marker.
func (s Session) Version() Version {
	return Version{Generation: s.Generation, Revision: s.Revision}
}

// Authenticated reports whether a verified identity is attached.
func (s Session) Authenticated() bool {
	return s.Identity != nil && s.Identity.Email != ""
}
