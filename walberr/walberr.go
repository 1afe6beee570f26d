// Package walberr defines the error kinds shared by the wlog/wdiff
// codecs, the merger, the converter, and the redo engine.
//
// Callers match kinds with errors.Is; the wrapper types below carry
// structured detail while still unwrapping to the matching sentinel.
package walberr

import (
	"errors"
	"fmt"
)

var (
	// ErrBadFormat indicates a structural mismatch: magic, version, or
	// sector_type field does not match what the reader expects.
	ErrBadFormat = errors.New("walb: bad format")

	// ErrBadChecksum indicates a header or record checksum mismatch.
	ErrBadChecksum = errors.New("walb: bad checksum")

	// ErrLsidMismatch indicates non-contiguous LSIDs across concatenated
	// wlog inputs.
	ErrLsidMismatch = errors.New("walb: lsid mismatch")

	// ErrUuidMismatch indicates disagreeing device UUIDs across
	// concatenated or merged inputs.
	ErrUuidMismatch = errors.New("walb: uuid mismatch")

	// ErrIncompatible indicates a target device is incompatible with the
	// log being replayed onto it (e.g. physical block size mismatch).
	ErrIncompatible = errors.New("walb: incompatible device")

	// ErrArg indicates contradictory or invalid arguments: conflicting
	// CLI flags, invalid split parameters, or splitting a compressed
	// diff record.
	ErrArg = errors.New("walb: invalid argument")
)

// MismatchError wraps ErrLsidMismatch or ErrUuidMismatch with the
// expected/actual values that disagreed.
type MismatchError struct {
	Kind     error
	Expected any
	Actual   any
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: expected %v, got %v", e.Kind, e.Expected, e.Actual)
}

func (e *MismatchError) Unwrap() error { return e.Kind }

// NewLsidMismatch builds a MismatchError wrapping ErrLsidMismatch.
func NewLsidMismatch(expected, actual uint64) error {
	return &MismatchError{Kind: ErrLsidMismatch, Expected: expected, Actual: actual}
}

// NewUuidMismatch builds a MismatchError wrapping ErrUuidMismatch.
func NewUuidMismatch(expected, actual fmt.Stringer) error {
	return &MismatchError{Kind: ErrUuidMismatch, Expected: expected, Actual: actual}
}

// IncompatibleError wraps ErrIncompatible with the offending sizes.
type IncompatibleError struct {
	Reason string
}

func (e *IncompatibleError) Error() string { return fmt.Sprintf("%v: %s", ErrIncompatible, e.Reason) }

func (e *IncompatibleError) Unwrap() error { return ErrIncompatible }

// NewIncompatible builds an IncompatibleError.
func NewIncompatible(reason string) error {
	return &IncompatibleError{Reason: reason}
}
