package chain

import (
	"errors"
	"fmt"
)

// Validation error kinds. Match with errors.Is against any error returned
// by the validator, the append engine, or the fork resolver.
var (
	ErrIsGenesisBlock         = errors.New("block has no previous hash")
	ErrPreviousHashMismatch   = errors.New("previous hash mismatch")
	ErrInsufficientDifficulty = errors.New("insufficient difficulty")
	ErrOutOfSequence          = errors.New("block out of sequence")
	ErrHashMismatch           = errors.New("hash mismatch")
	ErrMalformedHash          = errors.New("malformed hash")

	ErrEmptyChain   = errors.New("chain is empty")
	ErrNoValidChain = errors.New("neither candidate chain is valid")

	ErrBlockNotFound = errors.New("block not found")
)

// ValidationError reports why a block was rejected.
type ValidationError struct {
	Kind     error  // One of the Err* kinds above.
	ID       uint64 // ID of the offending block.
	Expected uint64 // Expected ID, set for ErrOutOfSequence.
	Err      error  // Underlying cause, if any.
}

func (e *ValidationError) Error() string {
	var msg string
	switch e.Kind {
	case ErrOutOfSequence:
		msg = fmt.Sprintf("block %d: %v (expected id %d)", e.ID, e.Kind, e.Expected)
	default:
		msg = fmt.Sprintf("block %d: %v", e.ID, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalid(kind error, id uint64) *ValidationError {
	return &ValidationError{Kind: kind, ID: id}
}
