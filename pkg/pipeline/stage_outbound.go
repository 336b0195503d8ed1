package pipeline

import (
	"context"

	"github.com/lattice-run/lattice/pkg/policy"
)

// VoiceSynthesizer turns reply text into a playable voice note. No
// synthesizer is wired in this repository by default; Outbound falls back
// to a text reply whenever synth is nil or synthesis fails.
type VoiceSynthesizer interface {
	Synthesize(ctx context.Context, text string) (mediaRef, mimeType string, err error)
}

// Outbound is the last stage: it enforces the voice policy, emits the
// OutboundText or OutboundMedia intent, and queues both sides of the
// exchange for background memory capture.
func Outbound(synth VoiceSynthesizer) Middleware {
	return func(ctx *Ctx, next func(*Ctx)) {
		msg := ctx.Event
		if ctx.Reply == nil {
			next(ctx)
			return
		}
		reply := *ctx.Reply

		voice := ctx.Decision.Voice
		_, inboundWasVoice := msg.HasVoiceNote()

		emitted := false
		if synth != nil && policy.ShouldSynthesizeVoice(voice, inboundWasVoice) {
			spoken := policy.EnforceVoiceLimits(voice, reply)
			if mediaRef, mimeType, err := synth.Synthesize(ctx.GoCtx, spoken); err == nil {
				ctx.Emit(OutboundMedia{
					Channel:  msg.Channel,
					ChatID:   msg.ChatID,
					MediaRef: mediaRef,
					MimeType: mimeType,
					Caption:  spoken,
					ReplyTo:  msg.ID,
				})
				emitted = true
			}
		}
		if !emitted {
			ctx.Emit(OutboundText{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Text:    reply,
				ReplyTo: msg.ID,
			})
		}

		ctx.Emit(MemoryCapture{
			ScopeKey:       msg.ChatID,
			Kind:           "episodic",
			Text:           msg.Text(),
			SourceChannel:  msg.Channel,
			SourceChatID:   msg.ChatID,
			SourceSenderID: msg.Sender.ID,
			SourceMsgID:    msg.ID,
		})
		ctx.Emit(MemoryCapture{
			ScopeKey:       msg.ChatID,
			Kind:           "episodic",
			Text:           reply,
			SourceChannel:  msg.Channel,
			SourceChatID:   msg.ChatID,
			SourceSenderID: "assistant",
			SourceMsgID:    msg.ID,
		})

		next(ctx)
	}
}
