// Package errdefs declares the sentinel error classes shared by every
// clockwork package, in the same spirit as github.com/containerd/errdefs:
// callers compare with errors.Is against these values rather than against
// ad-hoc string-matched errors.
package errdefs

import "errors"

var (
	// ErrNotFound indicates a lookup (label, function, user, group, ACL
	// target, heap handle, ...) found nothing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates malformed input: a bad operand form,
	// an unparseable ACL line, a malformed PDU, a header mismatch.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists indicates a redefinition (function, label, serial)
	// or a duplicate record.
	ErrAlreadyExists = errors.New("already exists")

	// ErrFailedPrecondition indicates an operation invoked on state that
	// forbids it: using a closed AuthDB, popping an empty stack, writing
	// to a VM that hasn't been loaded.
	ErrFailedPrecondition = errors.New("failed precondition")

	// ErrUnavailable indicates a transient, retryable condition: a peer
	// did not reply before timeout, a connection dropped mid-exchange.
	ErrUnavailable = errors.New("unavailable")

	// ErrPermissionDenied indicates an ACL or authentication check failed.
	ErrPermissionDenied = errors.New("permission denied")
)
