package pipeline

import (
	"github.com/lattice-run/lattice/pkg/policy"
)

// Policy evaluates the hot-reloadable policy engine against the inbound
// message and stores the verdict on ctx.Decision. It never halts the chain
// itself -- AccessControl and NoReplyFilter downstream are what act on the
// verdict -- so MetricEvent and archive bookkeeping stages still see every
// message uniformly.
func Policy(engine *policy.Engine) Middleware {
	return func(ctx *Ctx, next func(*Ctx)) {
		msg := ctx.Event

		var verdict policy.Decision
		if block, ok := msg.HasVoiceNote(); ok && block.Transcript != "" {
			verdict = engine.EvaluateVoice(msg.Channel, msg.ChatID, msg.Sender.ID, msg.IsGroup, msg.MentionedBot, msg.ReplyToBot, block.Transcript)
		} else {
			verdict = engine.Evaluate(msg.Channel, msg.ChatID, msg.Sender.ID, msg.IsGroup, msg.MentionedBot, msg.ReplyToBot)
		}

		ctx.Decision = &Decision{
			AcceptMessage: verdict.AcceptMessage,
			ShouldRespond: verdict.ShouldRespond,
			AllowedTools:  verdict.AllowedTools,
			DeniedTools:   verdict.DeniedTools,
			PersonaFile:   verdict.PersonaFile,
			Voice:         verdict.Voice,
			Reason:        verdict.Reason,
		}

		next(ctx)
	}
}
