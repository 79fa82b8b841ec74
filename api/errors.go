// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error categories for the internal-network switch (spec §7). These
// are the only errors that cross the service boundary; ring overflows, bad
// frames, and destination-table over-budget conditions are never returned --
// they are counted in statistics only (spec §7, "Recovery policy").

package api

import (
	"errors"
	"fmt"
)

// Sentinel errors returned across the Open/IfXxx request boundary (§6.1).
var (
	// ErrInvalidHandle means the caller supplied a handle that does not
	// name a live interface.
	ErrInvalidHandle = fmt.Errorf("intnet: invalid handle")
	// ErrInvalidParameter is a programming/contract error in the request
	// payload.
	ErrInvalidParameter = fmt.Errorf("intnet: invalid parameter")
	// ErrWrongOrder means an operation was attempted out of the required
	// lifecycle order (e.g. Send before Open completes).
	ErrWrongOrder = fmt.Errorf("intnet: wrong order")
	// ErrNoMemory signals resource exhaustion (e.g. destination-table or
	// MAC-table growth failed). Caller may release and retry.
	ErrNoMemory = fmt.Errorf("intnet: no memory")
	// ErrOutOfRange means an internal table grew past its hard ceiling.
	ErrOutOfRange = fmt.Errorf("intnet: out of range")
	// ErrTryAgain is returned by Send when the switch is in BadContext
	// for the trunk direction; the RPC helper must retry from task
	// context (spec §4.3, §4.4).
	ErrTryAgain = fmt.Errorf("intnet: try again")
	// ErrTimeout is returned by Wait when its deadline elapses.
	ErrTimeout = fmt.Errorf("intnet: timeout")
	// ErrInterrupted is returned by Wait when interrupted before data
	// arrived or the deadline elapsed.
	ErrInterrupted = fmt.Errorf("intnet: interrupted")
	// ErrSemDestroyed is returned by Wait once AbortWait(true) has been
	// called, or during interface destruction.
	ErrSemDestroyed = fmt.Errorf("intnet: semaphore destroyed")
	// ErrIncompatibleFlags means Open refused to join an existing network
	// because the requested policy flags conflict with its FIXED set.
	ErrIncompatibleFlags = fmt.Errorf("intnet: incompatible flags")
	// ErrIncompatibleTrunk means Open refused to join an existing network
	// because the requested trunk type/name does not match.
	ErrIncompatibleTrunk = fmt.Errorf("intnet: incompatible trunk")
	// ErrNotImplemented means the requested trunk type has no factory
	// registered on this build.
	ErrNotImplemented = fmt.Errorf("intnet: not implemented")
	// ErrNotSupported means the requested trunk type is unavailable on
	// this platform.
	ErrNotSupported = fmt.Errorf("intnet: not supported")
)

// ErrorCode mirrors the sentinel errors above as a compact value, useful
// when marshalling a reply across the RPC boundary described in spec §6.1.
type ErrorCode int32

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidHandle
	ErrCodeInvalidParameter
	ErrCodeWrongOrder
	ErrCodeNoMemory
	ErrCodeOutOfRange
	ErrCodeTryAgain
	ErrCodeTimeout
	ErrCodeInterrupted
	ErrCodeSemDestroyed
	ErrCodeIncompatibleFlags
	ErrCodeIncompatibleTrunk
	ErrCodeNotImplemented
	ErrCodeNotSupported
	ErrCodeInternal
)

// CodeOf maps a sentinel error (or an error wrapping one) to its ErrorCode.
// Unrecognized errors map to ErrCodeInternal -- a non-nil, non-sentinel
// error is always a programming mistake at the call site, not something
// the wire protocol should need to describe in detail.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrCodeOK
	case isErr(err, ErrInvalidHandle):
		return ErrCodeInvalidHandle
	case isErr(err, ErrInvalidParameter):
		return ErrCodeInvalidParameter
	case isErr(err, ErrWrongOrder):
		return ErrCodeWrongOrder
	case isErr(err, ErrNoMemory):
		return ErrCodeNoMemory
	case isErr(err, ErrOutOfRange):
		return ErrCodeOutOfRange
	case isErr(err, ErrTryAgain):
		return ErrCodeTryAgain
	case isErr(err, ErrTimeout):
		return ErrCodeTimeout
	case isErr(err, ErrInterrupted):
		return ErrCodeInterrupted
	case isErr(err, ErrSemDestroyed):
		return ErrCodeSemDestroyed
	case isErr(err, ErrIncompatibleFlags):
		return ErrCodeIncompatibleFlags
	case isErr(err, ErrIncompatibleTrunk):
		return ErrCodeIncompatibleTrunk
	case isErr(err, ErrNotImplemented):
		return ErrCodeNotImplemented
	case isErr(err, ErrNotSupported):
		return ErrCodeNotSupported
	default:
		return ErrCodeInternal
	}
}

func isErr(err, target error) bool {
	return errors.Is(err, target)
}
