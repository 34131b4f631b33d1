package filter

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lswasm/lswasm/wire"
)

// Invoker is the registry surface the chain drives. The chain never
// sees VM handles; it works in module names and phases only.
type Invoker interface {
	// List returns the loaded module names in iteration order.
	List() []string
	// Execute runs one phase callback on one module.
	Execute(ctx context.Context, name string, contextID uint32, phase Phase) error
	// LocalResponse reports a pending local response for the module.
	LocalResponse(name string) (code uint32, body []byte, details string, ok bool)
	// Release destroys every stream context created for contextID.
	Release(ctx context.Context, contextID uint32)
}

// ContextIDs allocates request-scoped context ids. Ids increase
// monotonically and are never reused. The counter is atomic so a
// goroutine-per-connection server can share it.
type ContextIDs struct {
	last atomic.Uint32
}

func (c *ContextIDs) Next() uint32 {
	return c.last.Add(1)
}

// Chain drives the ordered phase sequence for one request across all
// loaded modules, sequentially, one module at a time.
type Chain struct {
	modules Invoker
	ids     *ContextIDs
	logger  *zap.Logger
}

// NewChain builds an orchestrator over the given registry. A nil
// logger falls back to a no-op logger.
func NewChain(modules Invoker, ids *ContextIDs, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{modules: modules, ids: ids, logger: logger}
}

// Run processes one parsed request through the full phase sequence and
// returns the response to write. A filter issuing a local response
// during RequestHeaders short-circuits everything except the terminal
// Done phase. Filter failures are logged and skipped; they never abort
// the chain.
func (c *Chain) Run(ctx context.Context, req *wire.Request) *wire.Response {
	id := c.ids.Next()
	c.logger.Debug("processing request",
		zap.Uint32("context_id", id),
		zap.String("method", req.Method),
		zap.String("path", req.Path))

	c.invoke(ctx, id, PhaseRequestHeaders)

	// First module reporting a local response wins, in iteration order.
	for _, name := range c.modules.List() {
		code, body, details, ok := c.modules.LocalResponse(name)
		if !ok {
			continue
		}
		c.logger.Info("filter short-circuited request",
			zap.Uint32("context_id", id),
			zap.String("module", name),
			zap.Uint32("code", code))
		c.invoke(ctx, id, PhaseDone)
		c.modules.Release(ctx, id)
		return wire.NewLocalResponse(code, body, details)
	}

	c.invoke(ctx, id, PhaseRequestBody)
	c.invoke(ctx, id, PhaseRequestTrailers)
	c.invoke(ctx, id, PhaseDone)

	resp := wire.NewDiagnosticResponse(req, c.modules.List())

	c.invoke(ctx, id, PhaseResponseHeaders)
	c.invoke(ctx, id, PhaseResponseBody)
	c.invoke(ctx, id, PhaseResponseTrailers)
	c.invoke(ctx, id, PhaseDone)
	c.modules.Release(ctx, id)

	return resp
}

// invoke runs one phase across all modules. A failing module is a
// no-op for that phase; the chain continues.
func (c *Chain) invoke(ctx context.Context, id uint32, phase Phase) {
	for _, name := range c.modules.List() {
		if err := c.modules.Execute(ctx, name, id, phase); err != nil {
			c.logger.Warn("filter phase failed",
				zap.String("module", name),
				zap.Stringer("phase", phase),
				zap.Uint32("context_id", id),
				zap.Error(err))
		}
	}
}
