// Package fserrors defines the fixed error taxonomy exposed by the
// filesystem engine. Store-level failures never cross the engine boundary
// except as one of these kinds plus a human-readable diagnostic chain.
package fserrors

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindNotADirectory
	KindIsADirectory
	KindNotEmpty
	KindPermissionDenied
	KindOutOfSpace
	KindInvalidArgument
	KindIOFailure
)

// Linux errno values for each kind, used by the HTTP surface and by
// clients that speak errno.
const (
	EPERM     int64 = 1
	ENOENT    int64 = 2
	EIO       int64 = 5
	EEXIST    int64 = 17
	ENOTDIR   int64 = 20
	EISDIR    int64 = 21
	EINVAL    int64 = 22
	ENOSPC    int64 = 28
	ENOTEMPTY int64 = 39
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindNotADirectory:
		return "not a directory"
	case KindIsADirectory:
		return "is a directory"
	case KindNotEmpty:
		return "directory not empty"
	case KindPermissionDenied:
		return "permission denied"
	case KindOutOfSpace:
		return "out of space"
	case KindInvalidArgument:
		return "invalid argument"
	case KindIOFailure:
		return "i/o failure"
	default:
		return "unknown error"
	}
}

// Errno returns the Linux errno value for the kind. Unknown kinds map to
// EIO, matching the rule that an undiagnosable failure is an I/O failure.
func (k Kind) Errno() int64 {
	switch k {
	case KindNotFound:
		return ENOENT
	case KindAlreadyExists:
		return EEXIST
	case KindNotADirectory:
		return ENOTDIR
	case KindIsADirectory:
		return EISDIR
	case KindNotEmpty:
		return ENOTEMPTY
	case KindPermissionDenied:
		return EPERM
	case KindOutOfSpace:
		return ENOSPC
	case KindInvalidArgument:
		return EINVAL
	default:
		return EIO
	}
}

// Error is the single error type surfaced by the engine. Op is the
// operation that failed ("pkg.type.Method"), Path the filesystem path it
// was applied to (may be empty for store-level failures).
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an *Error. The variadic tail accepts an optional underlying
// error to keep call sites short.
func E(kind Kind, op, path string, err ...error) *Error {
	e := &Error{Kind: kind, Op: op, Path: path}
	if len(err) > 0 {
		e.Err = err[0]
	}
	return e
}

// KindOf extracts the taxonomy kind from any error in the chain.
// Errors that never passed through the translator report KindIOFailure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIOFailure
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Wrap attaches op context to an already-translated error, or converts an
// untranslated one to KindIOFailure.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &Error{Kind: KindIOFailure, Op: op, Err: err}
}
