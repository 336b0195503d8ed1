package pipeline

import "context"

// ContextEntry is one rendered line of conversational history handed to a
// Responder: who said what.
type ContextEntry struct {
	SenderDisplayName string
	Text              string
	IsAssistant       bool
}

// ContextWindow is one named slice of context (e.g. "reply thread",
// "ambient window") assembled by ReplyContextEnrich ahead of the Responder
// stage.
type ContextWindow struct {
	Name    string
	Entries []ContextEntry
}

// MemorySnippet is one recalled long-term memory entry surfaced to a
// Responder alongside the conversational windows.
type MemorySnippet struct {
	Kind  string
	Text  string
	Score float64
}

// Responder is the narrow contract the Responder stage calls through; the
// only concrete implementation wired in this repository is
// pkg/responder/anthropic.Adapter.
type Responder interface {
	GenerateReply(ctx context.Context, msg Message, decision Decision, windows []ContextWindow, memories []MemorySnippet) (string, error)
}
