package ai

import (
	"strings"

	"github.com/personachat/backend/internal/model/persona"
)

// ComposeSystemPrompt builds the system instruction for a persona: the
// persona prompt, followed by a blank line and the global notes when present.
func ComposeSystemPrompt(p persona.Persona, globalNotes string) string {
	notes := strings.TrimSpace(globalNotes)
	if notes == "" {
		return p.Prompt
	}
	return p.Prompt + "\n\n" + notes
}
