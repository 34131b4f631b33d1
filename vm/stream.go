package vm

import (
	"context"

	"github.com/lswasm/lswasm/errors"
)

// streamContext is one proxy-wasm execution context (root or stream).
// It captures the local response the guest issues through
// proxy_send_local_response so the orchestrator can query it later.
type streamContext struct {
	vm           *VM
	id           uint32
	parent       uint32
	hasLocal     bool
	localCode    uint32
	localBody    []byte
	localDetails string
}

var _ StreamCallbacks = (*streamContext)(nil)

func (c *streamContext) ID() uint32 { return c.id }

func (c *streamContext) OnCreate(ctx context.Context) error {
	_, err := c.vm.call(ctx, errors.PhaseExecute, c, "proxy_on_context_create", uint64(c.id), uint64(c.parent))
	return err
}

func (c *streamContext) OnRequestHeaders(ctx context.Context) error {
	// headers=0, end_of_stream=1: the request is fully buffered before
	// any phase runs.
	_, err := c.vm.call(ctx, errors.PhaseExecute, c, "proxy_on_request_headers", uint64(c.id), 0, 1)
	return err
}

func (c *streamContext) OnRequestBody(ctx context.Context) error {
	_, err := c.vm.call(ctx, errors.PhaseExecute, c, "proxy_on_request_body", uint64(c.id), 0, 1)
	return err
}

func (c *streamContext) OnRequestTrailers(ctx context.Context) error {
	_, err := c.vm.call(ctx, errors.PhaseExecute, c, "proxy_on_request_trailers", uint64(c.id), 0)
	return err
}

func (c *streamContext) OnResponseHeaders(ctx context.Context) error {
	_, err := c.vm.call(ctx, errors.PhaseExecute, c, "proxy_on_response_headers", uint64(c.id), 0, 1)
	return err
}

func (c *streamContext) OnResponseBody(ctx context.Context) error {
	_, err := c.vm.call(ctx, errors.PhaseExecute, c, "proxy_on_response_body", uint64(c.id), 0, 1)
	return err
}

func (c *streamContext) OnResponseTrailers(ctx context.Context) error {
	_, err := c.vm.call(ctx, errors.PhaseExecute, c, "proxy_on_response_trailers", uint64(c.id), 0)
	return err
}

func (c *streamContext) OnDone(ctx context.Context) error {
	_, err := c.vm.call(ctx, errors.PhaseExecute, c, "proxy_on_done", uint64(c.id))
	return err
}

// OnDelete runs the guest teardown pair (proxy_on_log, proxy_on_delete)
// and forgets the context. Teardown traps are swallowed: the context is
// released regardless.
func (c *streamContext) OnDelete(ctx context.Context) {
	_, _ = c.vm.call(ctx, errors.PhaseExecute, c, "proxy_on_log", uint64(c.id))
	_, _ = c.vm.call(ctx, errors.PhaseExecute, c, "proxy_on_delete", uint64(c.id))
	delete(c.vm.contexts, c.id)
}

func (c *streamContext) HasLocalResponse() bool    { return c.hasLocal }
func (c *streamContext) LocalResponseCode() uint32 { return c.localCode }
func (c *streamContext) LocalResponseBody() []byte { return c.localBody }
func (c *streamContext) LocalResponseDetails() string {
	return c.localDetails
}

func (c *streamContext) ResetLocalResponse() {
	c.hasLocal = false
	c.localCode = 0
	c.localBody = nil
	c.localDetails = ""
}
