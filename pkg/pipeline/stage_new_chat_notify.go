package pipeline

import "fmt"

// NewChatNotify emits a typing/owner-facing MetricEvent the first time a
// chat is ever seen, so the owner can be alerted out-of-band (by whatever
// consumes MetricEvent) without the pipeline itself needing an opinion on
// how that notification is delivered.
func NewChatNotify() Middleware {
	return func(ctx *Ctx, next func(*Ctx)) {
		if ctx.IsFirstMessageInChat {
			ctx.Emit(MetricEvent{
				Name: "pipeline.new_chat",
				Labels: map[string]string{
					"channel": ctx.Event.Channel,
					"chat_id": ctx.Event.ChatID,
				},
			})
			ctx.Emit(MemoryCapture{
				ScopeKey:       ctx.Event.ChatID,
				Kind:           "episodic",
				Text:           fmt.Sprintf("First contact from %s in chat %s.", ctx.Event.Sender.DisplayName, ctx.Event.ChatID),
				SourceChannel:  ctx.Event.Channel,
				SourceChatID:   ctx.Event.ChatID,
				SourceSenderID: ctx.Event.Sender.ID,
				SourceMsgID:    ctx.Event.ID,
			})
		}
		next(ctx)
	}
}
