// Package anthropic is the one concrete Responder implementation wired in
// this repository, exercising the anthropic-sdk-go client behind the
// narrow pipeline.Responder contract.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lattice-run/lattice/pkg/pipeline"
)

// Adapter implements pipeline.Responder over the Anthropic Messages API.
type Adapter struct {
	client    anthropicsdk.Client
	model     anthropicsdk.Model
	maxTokens int64
}

// New builds an Adapter. apiKey must be non-empty; model defaults to
// Claude 3.5 Sonnet if empty.
func New(apiKey string, model anthropicsdk.Model, maxTokens int64) *Adapter {
	if model == "" {
		model = anthropicsdk.ModelClaude3_5SonnetLatest
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Adapter{
		client:    anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

// GenerateReply renders the triggering message, context windows, and memory
// snippets into a single user turn, names the policy persona file (if any) in
// the system prompt, and returns the model's text reply.
func (a *Adapter) GenerateReply(ctx context.Context, msg pipeline.Message, decision pipeline.Decision, windows []pipeline.ContextWindow, memories []pipeline.MemorySnippet) (string, error) {
	prompt := renderPrompt(msg, windows, memories)

	system := "You are a helpful personal assistant."
	if decision.PersonaFile != "" {
		system = fmt.Sprintf("%s Persona file: %s.", system, decision.PersonaFile)
	}

	resp, err := a.client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    []anthropicsdk.TextBlockParam{{Text: system}},
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic responder: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

func renderPrompt(msg pipeline.Message, windows []pipeline.ContextWindow, memories []pipeline.MemorySnippet) string {
	var b strings.Builder
	for _, w := range windows {
		if len(w.Entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "[%s]\n", w.Name)
		for _, e := range w.Entries {
			fmt.Fprintf(&b, "%s: %s\n", e.SenderDisplayName, e.Text)
		}
	}
	if len(memories) > 0 {
		b.WriteString("[memory]\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- (%s, score=%.2f) %s\n", m.Kind, m.Score, m.Text)
		}
	}
	fmt.Fprintf(&b, "[message]\n%s: %s\n", msg.Sender.DisplayName, msg.Text())
	return b.String()
}
