package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseExecute,
				Kind:   KindTrap,
				Module: "sample",
				Detail: "callback raised",
				Cause:  errors.New("unreachable"),
			},
			contains: []string{"[execute]", "trap", "module=sample", "callback raised", "caused by", "unreachable"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseParse,
				Kind:  KindMalformedRequest,
			},
			contains: []string{"[parse]", "malformed_request"},
		},
		{
			name:     "constructor",
			err:      OversizedRequest(70000, 65536),
			contains: []string{"[read]", "oversized_request", "70000", "65536"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Trap(PhaseExecute, "sample", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not match wrapped cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := DuplicateModule("m1")

	if !err.Is(&Error{Phase: PhaseLoad, Kind: KindDuplicateModule}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseExecute, Kind: KindDuplicateModule}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseLoad, Kind: KindNotFound}) {
		t.Error("Is should not match different kind")
	}
}

func TestHelpers(t *testing.T) {
	if !IsDuplicate(DuplicateModule("m")) {
		t.Error("IsDuplicate should report duplicate_module")
	}
	if IsDuplicate(ModuleNotFound(PhaseExecute, "m")) {
		t.Error("IsDuplicate should not report not_found")
	}
	if !IsNotFound(ModuleNotFound(PhaseExecute, "m")) {
		t.Error("IsNotFound should report not_found")
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("IsNotFound should not report a plain error")
	}
}
