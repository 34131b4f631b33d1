package vm

import (
	"context"

	"go.uber.org/zap"
)

// Plugin is the descriptor carried by a loaded module. Its Name is the
// module's registry identity; the descriptor is shared between the VM
// and every context it spawns, for the lifetime of the registry entry.
type Plugin struct {
	Name          string
	RootID        string
	VMID          string
	Engine        string
	Configuration string
}

// NewPlugin builds a plugin descriptor keyed by the module name.
func NewPlugin(name string) *Plugin {
	return &Plugin{
		Name:   name,
		RootID: name,
		VMID:   name,
		Engine: "wazero",
	}
}

// StreamCallbacks is the per-context capability surface the registry
// and orchestrator drive. One implementation exists per stream (or
// root) context; it is valid from creation until OnDelete.
type StreamCallbacks interface {
	ID() uint32

	OnCreate(ctx context.Context) error
	OnRequestHeaders(ctx context.Context) error
	OnRequestBody(ctx context.Context) error
	OnRequestTrailers(ctx context.Context) error
	OnResponseHeaders(ctx context.Context) error
	OnResponseBody(ctx context.Context) error
	OnResponseTrailers(ctx context.Context) error
	OnDone(ctx context.Context) error

	// OnDelete tears the context down. Guest errors during teardown
	// are swallowed; the context is gone either way.
	OnDelete(ctx context.Context)

	HasLocalResponse() bool
	LocalResponseCode() uint32
	LocalResponseBody() []byte
	LocalResponseDetails() string
	ResetLocalResponse()
}

// Machine is the execution sandbox surface the registry consumes.
// The wazero VM implements it; tests substitute fakes.
type Machine interface {
	// LoadBytecode hands the raw module bytes to the sandbox.
	LoadBytecode(ctx context.Context, code []byte) error
	// Initialize links imports and runs the module's startup routine.
	Initialize(ctx context.Context) error
	// Start creates the root execution context and fires the startup
	// callback.
	Start(ctx context.Context, plugin *Plugin) (StreamCallbacks, error)
	// Configure runs the plugin configuration callback on the root
	// context.
	Configure(ctx context.Context, root StreamCallbacks, plugin *Plugin) error
	// CreateContext creates a fresh stream context for one request.
	CreateContext(ctx context.Context, plugin *Plugin) (StreamCallbacks, error)
	// Failed reports whether a guest trap has poisoned the sandbox.
	Failed() bool
	Close(ctx context.Context) error
}

// Factory constructs a Machine for one module. The registry holds one
// and calls it per load; the default is New.
type Factory func(ctx context.Context, name string, host HostIntegration, envs map[string]string, logger *zap.Logger) (Machine, error)
