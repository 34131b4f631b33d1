// Package registry owns the set of loaded filter modules. Each entry
// bundles a VM sandbox, a plugin descriptor, and at most one active
// stream context at a time.
package registry

import (
	"context"
	"os"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lswasm/lswasm/errors"
	"github.com/lswasm/lswasm/filter"
	"github.com/lswasm/lswasm/vm"
)

// moduleState is one registry entry. The machine is exclusively owned
// by the entry; the plugin descriptor is shared with every context the
// machine spawns; the stream context is ephemeral, alive for one
// request.
type moduleState struct {
	machine  vm.Machine
	plugin   *vm.Plugin
	root     vm.StreamCallbacks
	stream   vm.StreamCallbacks
	streamID uint32
}

// Registry maps unique module names to their state. All operations
// take the registry lock so load, unload and execute observe a
// consistent snapshot: no partially loaded module is ever visible and
// no execute races a module mid-unload.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*moduleState
	host    vm.HostIntegration
	envs    map[string]string
	logger  *zap.Logger
	factory vm.Factory
}

var _ filter.Invoker = (*Registry)(nil)

// Option configures a Registry.
type Option func(*Registry)

// WithFactory substitutes the sandbox constructor, used by tests.
func WithFactory(f vm.Factory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithEnv sets the environment entries exposed to filters through the
// VM's environment hooks.
func WithEnv(envs map[string]string) Option {
	return func(r *Registry) { r.envs = envs }
}

// New builds an empty registry. A nil logger falls back to a no-op
// logger.
func New(host vm.HostIntegration, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		modules: make(map[string]*moduleState),
		host:    host,
		logger:  logger,
		factory: vm.New,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load registers bytecode under name, running the full VM lifecycle:
// load, initialize, start, configure. Any step failing aborts the load
// and leaves the registry unchanged; the entry becomes visible only on
// full success.
func (r *Registry) Load(ctx context.Context, name string, bytecode []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.modules[name]; ok {
		return errors.DuplicateModule(name)
	}

	machine, err := r.factory(ctx, name, r.host, r.envs, r.logger)
	if err != nil {
		return err
	}

	abort := func(err error) error {
		if cerr := machine.Close(ctx); cerr != nil {
			r.logger.Warn("close aborted machine", zap.String("module", name), zap.Error(cerr))
		}
		return err
	}

	if err := machine.LoadBytecode(ctx, bytecode); err != nil {
		return abort(err)
	}
	if err := machine.Initialize(ctx); err != nil {
		return abort(err)
	}

	plugin := vm.NewPlugin(name)

	root, err := machine.Start(ctx, plugin)
	if err != nil {
		return abort(err)
	}
	if err := machine.Configure(ctx, root, plugin); err != nil {
		return abort(err)
	}

	r.modules[name] = &moduleState{
		machine: machine,
		plugin:  plugin,
		root:    root,
	}
	r.logger.Info("module loaded",
		zap.String("module", name),
		zap.Int("bytecode_size", len(bytecode)))
	return nil
}

// LoadFile loads bytecode from a .wasm file under name.
func (r *Registry) LoadFile(ctx context.Context, name, path string) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return errors.Load(name, "read module file", err)
	}
	return r.Load(ctx, name, code)
}

// Unload removes the entry immediately, releasing its VM, plugin and
// any active stream context.
func (r *Registry) Unload(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.modules[name]
	if !ok {
		return errors.ModuleNotFound(errors.PhaseLoad, name)
	}
	delete(r.modules, name)

	if err := st.machine.Close(ctx); err != nil {
		r.logger.Warn("close unloaded machine", zap.String("module", name), zap.Error(err))
	}
	r.logger.Info("module unloaded", zap.String("module", name))
	return nil
}

// Execute runs one phase callback on the named module. For
// RequestHeaders a stream context is created lazily when none exists
// for contextID, firing the creation callback and clearing any stale
// local-response flag. Other phases are no-ops until RequestHeaders
// has run for this id.
func (r *Registry) Execute(ctx context.Context, name string, contextID uint32, phase filter.Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.modules[name]
	if !ok {
		return errors.ModuleNotFound(errors.PhaseExecute, name)
	}
	if st.machine.Failed() {
		return errors.VMFailed(errors.PhaseExecute, name)
	}

	switch phase {
	case filter.PhaseRequestHeaders:
		if st.stream == nil || st.streamID != contextID {
			sc, err := st.machine.CreateContext(ctx, st.plugin)
			if err != nil {
				return err
			}
			if err := sc.OnCreate(ctx); err != nil {
				return err
			}
			sc.ResetLocalResponse()
			st.stream = sc
			st.streamID = contextID
		}
		return st.stream.OnRequestHeaders(ctx)

	case filter.PhaseRequestBody:
		if cb := st.current(contextID); cb != nil {
			return cb.OnRequestBody(ctx)
		}
	case filter.PhaseRequestTrailers:
		if cb := st.current(contextID); cb != nil {
			return cb.OnRequestTrailers(ctx)
		}
	case filter.PhaseResponseHeaders:
		if cb := st.current(contextID); cb != nil {
			return cb.OnResponseHeaders(ctx)
		}
	case filter.PhaseResponseBody:
		if cb := st.current(contextID); cb != nil {
			return cb.OnResponseBody(ctx)
		}
	case filter.PhaseResponseTrailers:
		if cb := st.current(contextID); cb != nil {
			return cb.OnResponseTrailers(ctx)
		}
	case filter.PhaseDone:
		if cb := st.current(contextID); cb != nil {
			return cb.OnDone(ctx)
		}

	default:
		r.logger.Warn("unknown phase ignored",
			zap.String("module", name),
			zap.Int("phase", int(phase)))
	}
	return nil
}

// current returns the stream context when it belongs to contextID.
func (st *moduleState) current(contextID uint32) vm.StreamCallbacks {
	if st.stream != nil && st.streamID == contextID {
		return st.stream
	}
	return nil
}

// Release destroys every stream context created for contextID. The
// orchestrator calls it after the terminal Done phase so context
// memory stays bounded.
func (r *Registry) Release(ctx context.Context, contextID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, st := range r.modules {
		if st.stream == nil || st.streamID != contextID {
			continue
		}
		st.stream.OnDelete(ctx)
		st.stream = nil
		st.streamID = 0
	}
}

// HasLocalResponse reports whether the named module holds a pending
// local response.
func (r *Registry) HasLocalResponse(name string) bool {
	_, _, _, ok := r.LocalResponse(name)
	return ok
}

// LocalResponse returns the pending local response captured from the
// module's stream context, if any.
func (r *Registry) LocalResponse(name string) (code uint32, body []byte, details string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, found := r.modules[name]
	if !found || st.stream == nil || !st.stream.HasLocalResponse() {
		return 0, nil, "", false
	}
	return st.stream.LocalResponseCode(), st.stream.LocalResponseBody(), st.stream.LocalResponseDetails(), true
}

// List returns the loaded module names, sorted. Sorting keeps the
// chain's iteration order deterministic.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is loaded.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[name]
	return ok
}

// Close unloads everything, combining close errors.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for name, st := range r.modules {
		err = multierr.Append(err, st.machine.Close(ctx))
		delete(r.modules, name)
	}
	return err
}
