package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in request or module processing the error occurred
type Phase string

const (
	PhaseLoad      Phase = "load"      // bytecode compilation
	PhaseInit      Phase = "init"      // import linking / startup routine
	PhaseStart     Phase = "start"     // root context creation
	PhaseConfigure Phase = "configure" // plugin configuration
	PhaseExecute   Phase = "execute"   // per-request callback invocation
	PhaseParse     Phase = "parse"     // HTTP request framing
	PhaseAccept    Phase = "accept"    // connection accept
	PhaseRead      Phase = "read"      // socket read
	PhaseWrite     Phase = "write"     // socket write
	PhaseListen    Phase = "listen"    // listener setup
	PhaseConfig    Phase = "config"    // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindDuplicateModule  Kind = "duplicate_module"
	KindNotFound         Kind = "not_found"
	KindVMFailed         Kind = "vm_failed"
	KindTrap             Kind = "trap"
	KindMalformedRequest Kind = "malformed_request"
	KindOversizedRequest Kind = "oversized_request"
	KindInvalidData      Kind = "invalid_data"
	KindInvalidInput     Kind = "invalid_input"
	KindNotInitialized   Kind = "not_initialized"
	KindUnsupported      Kind = "unsupported"
	KindClosed           Kind = "closed"
	KindSocket           Kind = "socket"
)

// Error is the structured error type used throughout the host
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Module string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Module != "" {
		b.WriteString(" module=")
		b.WriteString(e.Module)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Convenience constructors for common error patterns

// DuplicateModule reports a load attempt against an already registered name.
func DuplicateModule(name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindDuplicateModule,
		Module: name,
		Detail: "module already loaded",
	}
}

// ModuleNotFound reports an operation against an unregistered module name.
func ModuleNotFound(phase Phase, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Module: name,
		Detail: "module not loaded",
	}
}

// VMFailed reports an operation against a module whose VM trapped earlier.
func VMFailed(phase Phase, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindVMFailed,
		Module: name,
		Detail: "vm is in failed state",
	}
}

// Trap wraps a guest trap raised during a callback.
func Trap(phase Phase, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTrap,
		Module: name,
		Cause:  cause,
	}
}

// MalformedRequest reports an unparseable request.
func MalformedRequest(detail string) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindMalformedRequest,
		Detail: detail,
	}
}

// OversizedRequest reports a header section exceeding the configured maximum.
func OversizedRequest(size, limit int) *Error {
	return &Error{
		Phase:  PhaseRead,
		Kind:   KindOversizedRequest,
		Detail: fmt.Sprintf("buffered %d bytes, limit %d", size, limit),
	}
}

// NotInitialized reports use of a component before its setup step ran.
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Load creates a module loading error
func Load(name, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Module: name,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with phase and kind context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// IsNotFound reports whether err is a not_found error of any phase.
func IsNotFound(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindNotFound
}

// IsDuplicate reports whether err is a duplicate_module error.
func IsDuplicate(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindDuplicateModule
}
