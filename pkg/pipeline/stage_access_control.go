package pipeline

// AccessControl halts the chain for any message Policy rejected outright.
// It runs after IdeaCapture so a blocked sender's idea is still filed --
// blockedSenders and whoCanTalk gate replies, not bookkeeping.
func AccessControl() Middleware {
	return func(ctx *Ctx, next func(*Ctx)) {
		if ctx.Decision == nil || !ctx.Decision.AcceptMessage {
			reason := "policy_rejected"
			if ctx.Decision != nil && ctx.Decision.Reason != "" {
				reason = ctx.Decision.Reason
			}
			ctx.Emit(MetricEvent{Name: "pipeline.access_control.rejected", Labels: map[string]string{"reason": reason}})
			ctx.Halt()
			return
		}
		next(ctx)
	}
}
