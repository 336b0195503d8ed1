package pipeline

// NoReplyFilter halts the chain once whenToReply has already decided this
// message gets no conversational reply. Everything before this stage
// (archive, idea capture, new-chat notification) still runs for every
// accepted message; only InputSecurity, Responder and Outbound are skipped.
func NoReplyFilter() Middleware {
	return func(ctx *Ctx, next func(*Ctx)) {
		if ctx.Decision == nil || !ctx.Decision.ShouldRespond {
			ctx.Halt()
			return
		}
		next(ctx)
	}
}
