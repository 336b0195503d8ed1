package pipeline

import (
	"github.com/lattice-run/lattice/pkg/archive"
	"github.com/lattice-run/lattice/pkg/logger"
)

const (
	defaultReplyChainDepth = 6
	defaultAmbientWindow   = 8
)

// ReplyContextEnrich assembles the reply-thread and ambient context windows
// the Responder stage renders into its prompt. It writes only ctx.Windows
// and leaves the message itself unchanged.
func ReplyContextEnrich(store *archive.Store, botSenderID string) Middleware {
	return func(ctx *Ctx, next func(*Ctx)) {
		msg := ctx.Event
		var windows []ContextWindow

		if msg.ReplyTo != nil {
			chain, err := store.WalkReplyChain(msg.Channel, msg.ChatID, msg.ReplyTo.MessageID, defaultReplyChainDepth)
			if err != nil {
				logger.WarnCF("pipeline", "reply chain walk failed", map[string]any{"error": err.Error()})
			} else if len(chain) > 0 {
				windows = append(windows, ContextWindow{Name: "reply thread", Entries: recordsToEntries(chain, botSenderID)})
			}
		}

		ambient, err := store.LookupMessagesBefore(msg.Channel, msg.ChatID, msg.ID, defaultAmbientWindow)
		if err != nil {
			logger.WarnCF("pipeline", "ambient window lookup failed", map[string]any{"error": err.Error()})
		} else if len(ambient) > 0 {
			windows = append(windows, ContextWindow{Name: "ambient window", Entries: recordsToEntries(ambient, botSenderID)})
		}

		ctx.Windows = windows
		next(ctx)
	}
}

func recordsToEntries(records []archive.Record, botSenderID string) []ContextEntry {
	entries := make([]ContextEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, ContextEntry{
			SenderDisplayName: r.SenderDisplayName,
			Text:              r.Text,
			IsAssistant:       botSenderID != "" && r.SenderID == botSenderID,
		})
	}
	return entries
}
