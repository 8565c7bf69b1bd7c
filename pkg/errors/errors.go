package errors

import (
	"errors"
	"fmt"
)

var (
	ErrFullDisk       = NewError("FULL_DISK", "not enough disk space for a new output file")
	ErrInconsistency  = NewError("INCONSISTENCY", "recorder state inconsistency")
	ErrInitialization = NewError("INITIALIZATION", "initialization failed")
	ErrWriter         = NewError("WRITER_ERROR", "container write failed")
	ErrInternal       = NewError("INTERNAL_ERROR", "internal error")
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code so derived copies compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
	}
	return e.Code != ErrInitialization.Code && e.Code != ErrInconsistency.Code
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}
	return e.Code == ErrInitialization.Code
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	if err.Details == nil {
		err.Details = make(map[string]interface{})
	}
	err.Details[key] = value
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

// FullFileError reports a reservation that does not fit in the per-file budget.
// Unfit is the byte count that could not be accommodated; the rotation path
// uses it to size the next file.
type FullFileError struct {
	Unfit uint64
}

func NewFullFileError(unfit uint64) *FullFileError {
	return &FullFileError{Unfit: unfit}
}

func (e *FullFileError) Error() string {
	return fmt.Sprintf("FULL_FILE: %d bytes do not fit in the current file", e.Unfit)
}

func IsFullFile(err error) bool {
	var f *FullFileError
	return errors.As(err, &f)
}

func IsFullDisk(err error) bool {
	return errors.Is(err, ErrFullDisk)
}
