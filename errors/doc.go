// Package errors provides structured error types for the lswasm host.
//
// Errors are categorized by Phase (where in module or request processing
// the error occurred) and Kind (error category). The Error type carries
// the affected module name and a cause chain.
//
// Use the convenience constructors for common patterns:
//
//	err := errors.DuplicateModule("sample")
//	err := errors.Trap(errors.PhaseExecute, "sample", cause)
//	err := errors.OversizedRequest(70000, 65536)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
