// Package vm adapts proxy-wasm filter modules to the host.
//
// Each filter runs inside its own wazero runtime with an "env" host
// module exposing the proxy-wasm host ABI subset the filters use
// (proxy_log, proxy_send_local_response, clock queries) and WASI
// preview1 for environment variable access.
//
// The registry consumes the Machine interface rather than the concrete
// VM so the sandbox can be faked in tests. Per-request callbacks are
// delivered through StreamCallbacks, one implementation per stream
// context.
package vm
