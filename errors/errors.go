// Package errors provides custom error types for the firesync adapter and its backends.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeRemoteWriteFailure        ErrorCode = "REMOTE_WRITE_FAILURE"
	ErrCodeRemoteSubscriptionFailure ErrorCode = "REMOTE_SUBSCRIPTION_FAILURE"
	ErrCodeStorageFailure            ErrorCode = "STORAGE_FAILURE"
	ErrCodeValidationFailure         ErrorCode = "VALIDATION_FAILURE"
)

// Operation represents the adapter or backend operation that failed
type Operation string

const (
	OpDispatch  Operation = "dispatch"
	OpWatch     Operation = "watch"
	OpListen    Operation = "listen"
	OpAppend    Operation = "append"
	OpSubscribe Operation = "subscribe"
	OpDecode    Operation = "decode"
	OpClose     Operation = "close"
	OpConfig    Operation = "config"
)

// Kind classifies the underlying cause independently of the operation.
type Kind string

const (
	KindUnknown     Kind = ""
	KindInvalid     Kind = "invalid"
	KindPermission  Kind = "permission"
	KindUnavailable Kind = "unavailable"
	KindNotFound    Kind = "not_found"
	KindCanceled    Kind = "canceled"
	KindInternal    Kind = "internal"
)

// Sentinels matched by errors.Is against any SyncError carrying the same code.
var (
	ErrRemoteWrite        = errors.New("remote write failed")
	ErrRemoteSubscription = errors.New("remote subscription failed")
)

// SyncError represents an error raised while moving actions between the
// local store and the remote document store.
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "adapter", "sqlite")
	Component string

	// Underlying error
	Err error

	// Whether repeating the operation may succeed. Nothing in firesync retries;
	// the flag is for callers.
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Kind of the underlying cause
	Kind Kind

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's code.
func (e *SyncError) Is(target error) bool {
	switch target {
	case ErrRemoteWrite:
		return e.Code == ErrCodeRemoteWriteFailure
	case ErrRemoteSubscription:
		return e.Code == ErrCodeRemoteSubscriptionFailure
	}
	return false
}

// NewRemoteWriteError wraps a failed append to the remote collection.
func NewRemoteWriteError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeRemoteWriteFailure,
		Op:        op,
		Component: "adapter",
		Err:       cause,
		Kind:      KindOf(cause),
		Retryable: isTransient(cause),
	}
}

// NewRemoteSubscriptionError wraps a failed or interrupted subscription.
func NewRemoteSubscriptionError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeRemoteSubscriptionFailure,
		Op:        op,
		Component: "adapter",
		Err:       cause,
		Kind:      KindOf(cause),
		Retryable: isTransient(cause),
	}
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, component string, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: component,
		Err:       cause,
		Kind:      KindOf(cause),
		Retryable: true,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Kind:      KindInvalid,
		Retryable: false,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:   op,
		Err:  err,
		Kind: KindOf(err),
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsRemoteWriteError reports whether err is, or wraps, a failed remote append.
func IsRemoteWriteError(err error) bool {
	return errors.Is(err, ErrRemoteWrite)
}

// IsRemoteSubscriptionError reports whether err is, or wraps, a failed subscription.
func IsRemoteSubscriptionError(err error) bool {
	return errors.Is(err, ErrRemoteSubscription)
}

// KindOf returns the outermost Kind recorded in err's chain.
func KindOf(err error) Kind {
	var syncErr *SyncError
	for err != nil {
		if !errors.As(err, &syncErr) {
			return KindUnknown
		}
		if syncErr.Kind != KindUnknown {
			return syncErr.Kind
		}
		err = syncErr.Err
	}
	return KindUnknown
}

func isTransient(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindInternal, KindUnknown:
		return true
	}
	return false
}
