package pipeline

import (
	"github.com/lattice-run/lattice/pkg/security"
)

// InputSecurity runs the input-stage security rules against the message's
// text. A block halts the chain before the responder ever sees the
// message; a redact rewrites the text blocks in place. This is the second
// (and last) stage permitted to mutate ctx.Event.
func InputSecurity(engine *security.Engine) Middleware {
	return func(ctx *Ctx, next func(*Ctx)) {
		text := ctx.Event.Text()
		if text == "" {
			next(ctx)
			return
		}

		result := engine.Evaluate(security.StageInput, text)
		if result.Blocked {
			ctx.Emit(MetricEvent{Name: "pipeline.security.input_blocked", Labels: map[string]string{"rule_id": result.BlockedRuleID}})
			ctx.Halt()
			return
		}

		if result.Text != text {
			ctx.Event = withRedactedText(ctx.Event, result.Text)
		}
		next(ctx)
	}
}

// withRedactedText replaces the first text block's content with redacted
// and drops any further text blocks, since Evaluate operates on the
// message's flattened text.
func withRedactedText(msg Message, redacted string) Message {
	replaced := false
	blocks := msg.Content[:0:0]
	for _, b := range msg.Content {
		if b.Kind == ContentText {
			if replaced {
				continue
			}
			b.Text = redacted
			replaced = true
		}
		blocks = append(blocks, b)
	}
	msg.Content = blocks
	return msg
}
