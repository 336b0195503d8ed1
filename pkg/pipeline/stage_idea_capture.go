package pipeline

import (
	"regexp"
	"strings"

	"github.com/lattice-run/lattice/pkg/logger"
	"github.com/lattice-run/lattice/pkg/memory"
)

var ideaPrefix = regexp.MustCompile(`(?i)^idea[:\s]+`)

// IdeaCapture looks for the "idea:" trigger prefix and files the remainder
// into the memory store's idea backlog, independent of whether the message
// goes on to receive a conversational reply.
func IdeaCapture(store *memory.Store) Middleware {
	return func(ctx *Ctx, next func(*Ctx)) {
		text := ctx.Event.Text()
		if loc := ideaPrefix.FindStringIndex(text); loc != nil {
			idea := strings.TrimSpace(text[loc[1]:])
			if idea != "" {
				if err := store.InsertIdea(ctx.Event.ChatID, idea, "idea"); err != nil {
					logger.WarnCF("pipeline", "idea capture failed", map[string]any{"error": err.Error()})
				} else {
					ctx.Emit(Reaction{Channel: ctx.Event.Channel, ChatID: ctx.Event.ChatID, MessageID: ctx.Event.ID, Emoji: "\U0001F4DD"})
				}
			}
		}
		next(ctx)
	}
}
