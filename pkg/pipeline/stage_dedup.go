package pipeline

import (
	"fmt"

	"github.com/lattice-run/lattice/pkg/cache"
)

// Dedup halts the chain for any (channel, chat_id, message_id) already seen
// within the cache's TTL -- channel adapters retry delivery on reconnect,
// and this is the one place that cost is absorbed.
func Dedup(seen *cache.TTLCache) Middleware {
	return func(ctx *Ctx, next func(*Ctx)) {
		key := fmt.Sprintf("%s/%s/%s", ctx.Event.Channel, ctx.Event.ChatID, ctx.Event.ID)
		if seen.Seen(key) {
			ctx.Emit(MetricEvent{Name: "pipeline.dedup.hit"})
			ctx.Halt()
			return
		}
		next(ctx)
	}
}
