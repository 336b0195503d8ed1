package pipeline

import (
	"context"

	"github.com/lattice-run/lattice/pkg/policy"
)

// Decision is the pipeline-local verdict produced by the Policy stage from
// a policy.Decision, plus the voice settings that decision resolved to.
type Decision struct {
	AcceptMessage bool
	ShouldRespond bool
	AllowedTools  map[string]bool
	DeniedTools   map[string]bool
	PersonaFile   string
	Voice         policy.Voice
	Reason        string
}

// Ctx is the mutable carrier threaded through every middleware in the
// chain. Only Normalize and InputSecurity replace Event (InputSecurity only
// to swap in redacted text); no stage modifies Event.Metadata.
type Ctx struct {
	GoCtx context.Context

	Event    Message
	Decision *Decision
	Intents  []Intent
	Halted   bool

	// Windows is populated by ReplyContextEnrich and consumed by Responder.
	Windows []ContextWindow

	// IsFirstMessageInChat is set by Archive before NewChatNotify runs.
	IsFirstMessageInChat bool

	// Reply carries the Responder's text between the Responder and
	// Outbound stages.
	Reply *string
}

// Emit appends an intent to the context's outbound list.
func (c *Ctx) Emit(i Intent) {
	c.Intents = append(c.Intents, i)
}

// Halt marks the context halted; the runner skips remaining middleware.
func (c *Ctx) Halt() {
	c.Halted = true
}
