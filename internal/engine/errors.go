package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/changefeed/internal/store"
)

// Error represents a failed promotion or backfill call.
//
// Error includes structured fields for diagnostics and recovery.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the operation that failed ("promote", "backfill").
	Op string

	// Shard is the shard the operation targeted.
	Shard int

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates a caller mistake; retrying will not help.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeStore indicates the store failed. The batch rolled back and may be
	// retried; see IsTransient.
	ErrCodeStore ErrorCode = "STORE_FAILURE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	return fmt.Sprintf("%s %s (shard=%d): %s", e.Op, e.Code, e.Shard, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsInvalidArgument returns true if err is an invalid argument error.
// Uses errors.As to handle wrapped errors.
func IsInvalidArgument(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeInvalidArgument
	}
	return false
}

// IsTransient returns true if err is a store failure that may succeed on retry.
func IsTransient(err error) bool {
	return store.IsTransient(err)
}

func invalidArgument(op string, shard int, format string, args ...any) *Error {
	return &Error{
		Code:    ErrCodeInvalidArgument,
		Op:      op,
		Shard:   shard,
		Message: fmt.Sprintf(format, args...),
	}
}

func storeFailure(op string, shard int, err error) *Error {
	return &Error{
		Code:  ErrCodeStore,
		Op:    op,
		Shard: shard,
		Err:   err,
	}
}
