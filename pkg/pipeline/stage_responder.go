package pipeline

import (
	"github.com/lattice-run/lattice/pkg/logger"
	"github.com/lattice-run/lattice/pkg/memory"
	"github.com/lattice-run/lattice/pkg/security"
)

const defaultRecallLimit = 5

// ResponderStage generates the conversational reply: it recalls relevant
// long-term memory, calls the wired Responder, then runs the result
// through the output-stage security rules before handing it to Outbound.
// (Named ResponderStage, not Responder, to avoid colliding with the
// Responder interface type.)
func ResponderStage(gen Responder, recaller *memory.Recaller, sec *security.Engine) Middleware {
	return func(ctx *Ctx, next func(*Ctx)) {
		msg := ctx.Event

		var snippets []MemorySnippet
		if recaller != nil {
			recalled, err := recaller.Recall(msg.Text(), msg.ChatID, msg.Sender.ID, nil, defaultRecallLimit)
			if err != nil {
				logger.WarnCF("pipeline", "memory recall failed", map[string]any{"error": err.Error()})
			}
			for _, r := range recalled {
				snippets = append(snippets, MemorySnippet{Kind: string(r.Entry.Kind), Text: r.Entry.Text, Score: r.Score})
			}
		}

		ctx.Emit(Typing{Channel: msg.Channel, ChatID: msg.ChatID, State: TypingOn})
		reply, err := gen.GenerateReply(ctx.GoCtx, msg, *ctx.Decision, ctx.Windows, snippets)
		ctx.Emit(Typing{Channel: msg.Channel, ChatID: msg.ChatID, State: TypingOff})
		if err != nil {
			logger.ErrorCF("pipeline", "responder failed", map[string]any{"error": err.Error()})
			ctx.Emit(MetricEvent{Name: "pipeline.responder.error"})
			ctx.Halt()
			return
		}

		result := sec.Evaluate(security.StageOutput, reply)
		if result.Blocked {
			ctx.Emit(MetricEvent{Name: "pipeline.security.output_blocked", Labels: map[string]string{"rule_id": result.BlockedRuleID}})
			ctx.Halt()
			return
		}

		ctx.Reply = &result.Text
		next(ctx)
	}
}
