package pipeline

import (
	"github.com/lattice-run/lattice/pkg/archive"
	"github.com/lattice-run/lattice/pkg/logger"
)

// Archive persists every message that reaches this stage to the long-term
// archive store, and records whether the chat had any prior archived
// message for NewChatNotify's benefit.
func Archive(store *archive.Store) Middleware {
	return func(ctx *Ctx, next func(*Ctx)) {
		msg := ctx.Event

		hadAny, err := store.HasAnyForChat(msg.Channel, msg.ChatID)
		if err != nil {
			logger.WarnCF("pipeline", "archive: chat history check failed", map[string]any{"error": err.Error()})
		}
		ctx.IsFirstMessageInChat = err == nil && !hadAny

		var replyTo string
		if msg.ReplyTo != nil {
			replyTo = msg.ReplyTo.MessageID
		}

		_, err = store.Insert(archive.Record{
			Channel:           msg.Channel,
			ChatID:            msg.ChatID,
			MessageID:         msg.ID,
			SenderID:          msg.Sender.ID,
			SenderDisplayName: msg.Sender.DisplayName,
			Text:              msg.Text(),
			ReplyToMessageID:  replyTo,
			Timestamp:         msg.Timestamp,
		})
		if err != nil {
			logger.WarnCF("pipeline", "archive: insert failed", map[string]any{"error": err.Error()})
		}

		next(ctx)
	}
}
