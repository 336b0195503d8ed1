package pipeline

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Normalize is the first stage of the chain: it is the only stage allowed
// to replace ctx.Event outright. It trims whitespace from text blocks,
// assigns a message id and timestamp when the channel adapter left them
// unset, and drops every text block that is empty after trimming.
func Normalize() Middleware {
	return func(ctx *Ctx, next func(*Ctx)) {
		msg := ctx.Event

		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}

		blocks := msg.Content[:0:0]
		for _, b := range msg.Content {
			if b.Kind == ContentText {
				b.Text = strings.TrimSpace(b.Text)
				if b.Text == "" {
					continue
				}
			}
			blocks = append(blocks, b)
		}
		msg.Content = blocks

		ctx.Event = msg
		next(ctx)
	}
}
