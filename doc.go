// Package lswasm is an HTTP request-processing engine whose behavior is
// defined by sandboxed WebAssembly filter modules.
//
// The server accepts HTTP/1.x requests on a single epoll-driven event
// loop, parses a framing subset (header terminator plus Content-Length
// bodies), and runs each request through every loaded filter in a fixed
// phase sequence: request headers, body, trailers, a completion
// callback, then the mirrored response phases and a terminal completion
// callback. Filters are proxy-wasm guests executed under wazero; any
// filter may short-circuit a request during the header phase by issuing
// a local response, in which case the first module to do so wins and
// later phases are skipped.
//
// Layout:
//
//   - wire: HTTP/1.x framing, parsing and response serialization
//   - vm: the wazero sandbox and the proxy-wasm host ABI
//   - registry: named module lifecycle and per-request stream contexts
//   - filter: the phase orchestrator driving modules in order
//   - server: the epoll event loop and listener setup
//   - config: the optional TOML configuration file
//   - cmd/lswasm: the binary
package lswasm
