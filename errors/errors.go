// Package errors is the error facade used across the provisioning coordinator.
//
// It re-exports github.com/cockroachdb/errors so every package gets stack
// traces, hints and details from one import:
//
//	if err := store.Transition(ctx, id, from, to, changes, msg); err != nil {
//	    return errors.Wrapf(err, "advance request %d", id)
//	}
//
//	return errors.WithHint(err, "configure the provider API key first")
//
// Sentinels below are matched with errors.Is after any amount of wrapping.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// Hints and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
	GetAllHints        = crdb.GetAllHints
	GetAllDetails      = crdb.GetAllDetails
	FlattenHints       = crdb.FlattenHints
	FlattenDetails     = crdb.FlattenDetails
)

// Inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
	GetStack  = crdb.GetReportableStackTrace
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

var (
	// ErrNotFound indicates the requested row or upstream resource does not exist.
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed input from a caller.
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates the row is not in the state the operation requires.
	ErrConflict = New("conflict")

	// ErrServiceUnavailable indicates a required collaborator is not available.
	ErrServiceUnavailable = New("service unavailable")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConflict reports whether err is or wraps ErrConflict.
func IsConflict(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsInvalidRequest reports whether err is or wraps ErrInvalidRequest.
func IsInvalidRequest(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotFoundf creates an error marked as ErrNotFound.
func NewNotFoundf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewConflictf creates an error marked as ErrConflict.
func NewConflictf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrConflict)
}

// NewInvalidRequestf creates an error marked as ErrInvalidRequest.
func NewInvalidRequestf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}
