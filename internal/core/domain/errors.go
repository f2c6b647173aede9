package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrScanJobNotFound = errors.New("scan job not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict")
	ErrAlreadyResolved = errors.New("scan job already resolved")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTemporary       = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ProcessError is returned by document processors. Kind drives the terminal
// failure recorded on the job.
type ProcessError struct {
	Kind FailureKind
	Err  error
}

func NewProcessError(kind FailureKind, err error) *ProcessError {
	return &ProcessError{Kind: kind, Err: err}
}

func (e *ProcessError) Error() string {
	if e == nil {
		return "process error"
	}
	if e.Err == nil {
		return fmt.Sprintf("process %s", e.Kind)
	}
	return fmt.Sprintf("process %s: %v", e.Kind, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// ClassifyProcessError maps any processor-side error to a failure kind.
func ClassifyProcessError(err error) FailureKind {
	if err == nil {
		return ""
	}
	var procErr *ProcessError
	if errors.As(err, &procErr) && procErr.Kind != "" {
		return procErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	if errors.Is(err, ErrTemporary) {
		return FailureCapacityExceeded
	}
	return FailureUnknown
}
