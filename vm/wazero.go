package vm

import (
	"context"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/lswasm/lswasm/errors"
)

// proxy-wasm result codes returned from host functions.
const (
	resultOk          uint32 = 0
	resultBadArgument uint32 = 2
)

// abiVersionPrefix marks the ABI version export every proxy-wasm
// module carries, e.g. proxy_abi_version_0_2_1.
const abiVersionPrefix = "proxy_abi_version_"

// VM runs one filter module inside its own wazero runtime. It is not
// safe for concurrent use; the event loop drives it from one thread.
type VM struct {
	name     string
	host     HostIntegration
	envs     map[string]string
	logger   *zap.Logger
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	module   api.Module
	contexts map[uint32]*streamContext
	active   *streamContext
	root     *streamContext
	lastCtx  uint32
	failed   bool
}

var _ Machine = (*VM)(nil)

// New creates a VM with host integration attached. The returned VM has
// no bytecode yet; drive it through LoadBytecode, Initialize, Start,
// Configure.
func New(ctx context.Context, name string, host HostIntegration, envs map[string]string, logger *zap.Logger) (Machine, error) {
	if host == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "host integration is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	v := &VM{
		name:     name,
		host:     host,
		envs:     envs,
		logger:   logger.With(zap.String("module", name)),
		runtime:  wazero.NewRuntime(ctx),
		contexts: make(map[uint32]*streamContext),
	}

	_, err := v.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(v.proxyLog).Export("proxy_log").
		NewFunctionBuilder().WithFunc(v.proxySendLocalResponse).Export("proxy_send_local_response").
		NewFunctionBuilder().WithFunc(v.proxyGetCurrentTimeNanoseconds).Export("proxy_get_current_time_nanoseconds").
		NewFunctionBuilder().WithFunc(v.proxyGetMonotonicTimeNanoseconds).Export("proxy_get_monotonic_time_nanoseconds").
		NewFunctionBuilder().WithFunc(v.proxySetTickPeriodMilliseconds).Export("proxy_set_tick_period_milliseconds").
		Instantiate(ctx)
	if err != nil {
		v.runtime.Close(ctx)
		return nil, errors.Load(name, "instantiate host module", err)
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, v.runtime); err != nil {
		v.runtime.Close(ctx)
		return nil, errors.Load(name, "instantiate wasi", err)
	}

	return v, nil
}

// LoadBytecode compiles the raw module bytes.
func (v *VM) LoadBytecode(ctx context.Context, code []byte) error {
	compiled, err := v.runtime.CompileModule(ctx, code)
	if err != nil {
		return errors.Load(v.name, "compile bytecode", err)
	}
	v.compiled = compiled
	return nil
}

// Initialize instantiates the compiled module, linking its imports, and
// runs the reactor startup routine when the module exports one.
func (v *VM) Initialize(ctx context.Context) error {
	if v.compiled == nil {
		return errors.NotInitialized(errors.PhaseInit, "bytecode")
	}

	abiSeen := false
	for name := range v.compiled.ExportedFunctions() {
		if strings.HasPrefix(name, abiVersionPrefix) {
			abiSeen = true
			break
		}
	}
	if !abiSeen {
		return errors.Unsupported(errors.PhaseInit, "module does not export a proxy-wasm ABI version")
	}

	// Empty start-function list: proxy-wasm modules are reactors, the
	// _start command entrypoint must not run.
	cfg := wazero.NewModuleConfig().WithName(v.name).WithStartFunctions()
	for key, value := range v.envs {
		cfg = cfg.WithEnv(key, value)
	}

	module, err := v.runtime.InstantiateModule(ctx, v.compiled, cfg)
	if err != nil {
		return errors.Wrap(errors.PhaseInit, errors.KindInvalidData, err, "instantiate module "+v.name)
	}
	v.module = module

	if initFn := module.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			v.failed = true
			return errors.Trap(errors.PhaseInit, v.name, err)
		}
	}
	return nil
}

// Start creates the root execution context and fires the startup
// callback (proxy_on_vm_start).
func (v *VM) Start(ctx context.Context, plugin *Plugin) (StreamCallbacks, error) {
	if v.module == nil {
		return nil, errors.NotInitialized(errors.PhaseStart, "module instance")
	}

	root := v.newContext(0)
	v.root = root

	if err := root.OnCreate(ctx); err != nil {
		return nil, err
	}

	res, err := v.call(ctx, errors.PhaseStart, root, "proxy_on_vm_start", uint64(root.id), 0)
	if err != nil {
		return nil, err
	}
	if len(res) > 0 && res[0] == 0 {
		return nil, errors.Wrap(errors.PhaseStart, errors.KindInvalidData, nil, "proxy_on_vm_start rejected startup")
	}
	return root, nil
}

// Configure runs the plugin configuration callback on the root context.
func (v *VM) Configure(ctx context.Context, root StreamCallbacks, plugin *Plugin) error {
	res, err := v.call(ctx, errors.PhaseConfigure, v.root, "proxy_on_configure",
		uint64(root.ID()), uint64(len(plugin.Configuration)))
	if err != nil {
		return err
	}
	if len(res) > 0 && res[0] == 0 {
		return errors.Wrap(errors.PhaseConfigure, errors.KindInvalidData, nil, "proxy_on_configure rejected configuration")
	}
	return nil
}

// CreateContext creates a stream context for one request. The caller
// fires OnCreate.
func (v *VM) CreateContext(ctx context.Context, plugin *Plugin) (StreamCallbacks, error) {
	if v.module == nil {
		return nil, errors.NotInitialized(errors.PhaseExecute, "module instance")
	}
	if v.failed {
		return nil, errors.VMFailed(errors.PhaseExecute, v.name)
	}

	parent := uint32(0)
	if v.root != nil {
		parent = v.root.id
	}
	return v.newContext(parent), nil
}

func (v *VM) Failed() bool {
	return v.failed
}

func (v *VM) Close(ctx context.Context) error {
	return v.runtime.Close(ctx)
}

func (v *VM) newContext(parent uint32) *streamContext {
	v.lastCtx++
	sc := &streamContext{vm: v, id: v.lastCtx, parent: parent}
	v.contexts[sc.id] = sc
	return sc
}

// call invokes a guest export with the active-context bookkeeping the
// host ABI relies on. A missing export is a no-op. A trap poisons the
// VM: every later call fails with vm_failed.
func (v *VM) call(ctx context.Context, phase errors.Phase, sc *streamContext, name string, params ...uint64) ([]uint64, error) {
	if v.failed {
		return nil, errors.VMFailed(phase, v.name)
	}
	if v.module == nil {
		return nil, errors.NotInitialized(phase, "module instance")
	}

	fn := v.module.ExportedFunction(name)
	if fn == nil {
		return nil, nil
	}

	prev := v.active
	v.active = sc
	defer func() { v.active = prev }()

	res, err := fn.Call(ctx, params...)
	if err != nil {
		v.failed = true
		return nil, errors.Trap(phase, v.name, err)
	}
	return res, nil
}

// Host ABI. These run while the guest executes; v.active is the
// context the guest was invoked with.

func (v *VM) proxyLog(_ context.Context, mod api.Module, level, ptr, size uint32) uint32 {
	msg, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return resultBadArgument
	}
	v.host.Log(LogLevel(level), v.name, string(msg))
	return resultOk
}

func (v *VM) proxySendLocalResponse(_ context.Context, mod api.Module,
	code, detailsPtr, detailsSize, bodyPtr, bodySize, headersPtr, headersSize, grpcStatus uint32) uint32 {

	sc := v.active
	if sc == nil {
		return resultBadArgument
	}

	details, ok := mod.Memory().Read(detailsPtr, detailsSize)
	if !ok && detailsSize > 0 {
		return resultBadArgument
	}
	body, ok := mod.Memory().Read(bodyPtr, bodySize)
	if !ok && bodySize > 0 {
		return resultBadArgument
	}

	// Copy out: guest memory may move on growth.
	sc.hasLocal = true
	sc.localCode = code
	sc.localBody = append([]byte(nil), body...)
	sc.localDetails = string(details)

	v.logger.Debug("filter issued local response",
		zap.Uint32("context_id", sc.id),
		zap.Uint32("code", code),
		zap.Int("body_size", len(body)))
	return resultOk
}

func (v *VM) proxyGetCurrentTimeNanoseconds(_ context.Context, mod api.Module, resultPtr uint32) uint32 {
	if !mod.Memory().WriteUint64Le(resultPtr, uint64(v.host.CurrentTimeNanos())) {
		return resultBadArgument
	}
	return resultOk
}

func (v *VM) proxyGetMonotonicTimeNanoseconds(_ context.Context, mod api.Module, resultPtr uint32) uint32 {
	if !mod.Memory().WriteUint64Le(resultPtr, uint64(v.host.MonotonicTimeNanos())) {
		return resultBadArgument
	}
	return resultOk
}

// Timers are not modeled; accepting the call keeps filters that set a
// tick period loadable.
func (v *VM) proxySetTickPeriodMilliseconds(_ context.Context, _ api.Module, _ uint32) uint32 {
	return resultOk
}
