package pipeline

import (
	"strings"

	"github.com/lattice-run/lattice/pkg/policy"
)

const adminCommandPrefix = "/policy"

// AdminCommand intercepts messages from a configured owner that begin with
// "/policy" and routes them to the policy AdminHandler instead of letting
// them reach the responder. It halts the chain either way: owners issuing
// admin commands never expect a conversational reply in the same breath.
func AdminCommand(engine *policy.Engine, admin *policy.AdminHandler) Middleware {
	return func(ctx *Ctx, next func(*Ctx)) {
		msg := ctx.Event
		text := strings.TrimSpace(msg.Text())
		if !strings.HasPrefix(text, adminCommandPrefix) {
			next(ctx)
			return
		}

		owners := engine.Owners(msg.Channel)
		if !isOwner(msg.Sender.ID, owners) {
			next(ctx)
			return
		}

		rest := strings.TrimSpace(strings.TrimPrefix(text, adminCommandPrefix))
		reply := admin.Handle("dm", msg.Sender.ID, msg.Channel, msg.ChatID, rest)

		ctx.Emit(OutboundText{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Text:    reply,
			ReplyTo: msg.ID,
		})
		ctx.Halt()
	}
}

func isOwner(senderID string, owners []string) bool {
	for _, o := range owners {
		if o == senderID {
			return true
		}
	}
	return false
}
