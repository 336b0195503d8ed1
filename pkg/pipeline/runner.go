package pipeline

import (
	"context"
	"fmt"

	"github.com/lattice-run/lattice/pkg/logger"
)

// Middleware is the shape every pipeline stage shares: it receives the
// context and a next continuation, and either calls next (optionally doing
// work before and/or after) or halts the chain.
type Middleware func(ctx *Ctx, next func(*Ctx))

// Runner executes a fixed, explicitly-ordered middleware chain. The chain
// is a static list built at bootstrap (see New) -- never reflection-driven
// or dynamically registered, because the order is load-bearing.
type Runner struct {
	chain func(*Ctx)
}

// New constructs a Runner from an ordered middleware list. The order given
// here is the order of execution; callers should pass the canonical 13
// stages in their declared sequence.
func New(stages ...Middleware) *Runner {
	// Compose right-to-left so stage[0] wraps everything after it.
	terminal := func(*Ctx) {}
	chain := terminal
	for i := len(stages) - 1; i >= 0; i-- {
		stage := stages[i]
		nextChain := chain
		chain = func(ctx *Ctx) {
			if ctx.Halted {
				return
			}
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorCF("pipeline", "stage panicked", map[string]any{
						"error": fmt.Sprintf("%v", r),
					})
					ctx.Emit(MetricEvent{Name: "pipeline.stage.panic", Value: 1})
					ctx.Halt()
				}
			}()
			stage(ctx, nextChain)
		}
	}
	return &Runner{chain: chain}
}

// Run drives one message through the full chain and returns the intents
// accumulated along the way.
func (r *Runner) Run(goCtx context.Context, msg Message) []Intent {
	ctx := &Ctx{GoCtx: goCtx, Event: msg}
	r.chain(ctx)
	return ctx.Intents
}
