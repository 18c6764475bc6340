// Package kverrors defines the error taxonomy shared by every layer of the
// storage engine: binary storage, the journal, and the B+ tree all raise
// the same handful of kinds so callers have one thing to switch on instead
// of per-package sentinel errors.
package kverrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies the broad category of a failure.
type Kind string

const (
	// IO covers underlying OS read/write/seek/allocation failures.
	IO Kind = "io"
	// UTF8 covers string decode failures.
	UTF8 Kind = "utf8"
	// Memory covers allocation or reallocation failures.
	Memory Kind = "memory"
	// Assertion covers a violated precondition or invariant; Condition
	// names which one.
	Assertion Kind = "assertion"
)

// Condition enumerates the assertion strings from the specification. These
// are the values a caller matches on with Is.
type Condition string

const (
	CondOperationInvalidWhenOpen   Condition = "operation-invalid-when-open"
	CondOperationInvalidWhenClosed Condition = "operation-invalid-when-closed"
	CondReadPastEnd                Condition = "read-past-end"
	CondWritePastEnd                Condition = "write-past-end"
	CondReadNothing                 Condition = "read-nothing"
	CondWriteNothing                Condition = "write-nothing"
	CondExpandSizeTooSmall          Condition = "expand-size-too-small"
	CondExpandSizeNotPowerOfTwo     Condition = "expand-size-not-power-of-two"
	CondInitialCapacityTooSmall     Condition = "initial-capacity-too-small"
	CondInitialCapacityNotPowerOf2  Condition = "initial-capacity-not-power-of-two"
	CondArithmeticOverflow          Condition = "arithmetic-overflow"
	CondStorageAlloc                Condition = "storage-alloc"
	CondReadAfterTxnBoundary        Condition = "read-after-txn-boundary"
	CondWriteBeforeTxnBoundary      Condition = "write-before-txn-boundary"
	CondSetTxnBoundaryPastEnd       Condition = "set-txn-boundary-past-end"
	CondWriteInProgress             Condition = "write-in-progress"
	CondWriteNotInProgress          Condition = "write-not-in-progress"
	CondNothingToWrite              Condition = "nothing-to-write"
	CondNoCommittedRecord           Condition = "no-committed-record"
	CondNoRecordData                Condition = "no-record-data"
	CondChecksumMismatch            Condition = "checksum-mismatch"
	CondInvalidNodeType              Condition = "invalid-node-type"
	CondNodeDataWrongLength           Condition = "node-data-wrong-length"
	CondBlockSizeTooSmall             Condition = "block-size-too-small"
	CondInvalidBlockNumber            Condition = "invalid-block-number"
	CondEmptyInnerNode                 Condition = "empty-inner-node"
	CondNodeCorrupted                  Condition = "node-corrupted"
	CondKeyWrongLength                  Condition = "key-wrong-length"
	CondValueWrongLength                Condition = "value-wrong-length"
	CondNotIndexed                      Condition = "not-indexed"
)

// Error is the single error type raised across the engine.
type Error struct {
	Kind      Kind
	Condition Condition
	cause     error
}

func (e *Error) Error() string {
	if e.Kind == Assertion {
		return fmt.Sprintf("kverrors: assertion %q failed", e.Condition)
	}
	if e.cause != nil {
		return fmt.Sprintf("kverrors: %s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("kverrors: %s", e.Kind)
}

// Unwrap lets errors.Is/errors.As traverse into the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// Assert builds an Assertion-kind error for the given condition.
func Assert(cond Condition) error {
	return &Error{Kind: Assertion, Condition: cond, cause: errors.New(string(cond))}
}

// Wrap builds an IO/UTF8/Memory-kind error around an underlying cause.
// Returns nil if err is nil, so callers can write `return kverrors.Wrap(kverrors.IO, err)`
// without an extra nil check.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.WithStack(err)}
}

// Is reports whether err is a kverrors.Error carrying the given condition.
func Is(err error, cond Condition) bool {
	var kerr *Error
	if !errors.As(err, &kerr) {
		return false
	}
	return kerr.Kind == Assertion && kerr.Condition == cond
}

// KindOf returns the Kind of err if it is a kverrors.Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var kerr *Error
	if !errors.As(err, &kerr) {
		return "", false
	}
	return kerr.Kind, true
}
