package bridgeerr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
)

// Kind identifies one failure class from the deckbridge taxonomy.
type Kind uint8

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota
	// KindAuthentication indicates rejected credentials. Never retried
	// automatically: credentials do not become valid by retrying.
	KindAuthentication
	// KindHostUnreachable indicates the remote host could not be reached
	// at the network level.
	KindHostUnreachable
	// KindTimeout indicates an operation exceeded its deadline.
	KindTimeout
	// KindPermissionDenied indicates the remote side refused access to a
	// path or operation.
	KindPermissionDenied
	// KindPathNotFound indicates a referenced path does not exist.
	KindPathNotFound
	// KindPathTraversalRejected indicates a remote path was rejected by
	// validation before any I/O was issued.
	KindPathTraversalRejected
	// KindIOFailure indicates a read or write failed mid-operation.
	KindIOFailure
	// KindCancelled indicates the operation was cancelled by the caller.
	KindCancelled
	// KindUntrustedHost indicates the remote host identity is not
	// trusted. Requires an explicit caller decision, never retried.
	KindUntrustedHost
	// KindCorruptState is reserved for the external config layer.
	KindCorruptState
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "AuthenticationFailure"
	case KindHostUnreachable:
		return "HostUnreachable"
	case KindTimeout:
		return "Timeout"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindPathNotFound:
		return "PathNotFound"
	case KindPathTraversalRejected:
		return "PathTraversalRejected"
	case KindIOFailure:
		return "IOFailure"
	case KindCancelled:
		return "Cancelled"
	case KindUntrustedHost:
		return "UntrustedHost"
	case KindCorruptState:
		return "CorruptState"
	default:
		return "Unknown"
	}
}

// Error is a classified error carrying the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a message and no wrapped cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap attaches a kind and operation to an existing error. A nil err
// returns nil so call sites can wrap unconditionally.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from a classified error, classifying
// unwrapped errors on the fly.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return Classify(err)
}

// Classify maps an arbitrary error from the ssh/sftp/net/os layers into
// the taxonomy. Errors already carrying a Kind keep it.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, fs.ErrNotExist) {
		return KindPathNotFound
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, fs.ErrPermission) {
		return KindPermissionDenied
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindHostUnreachable
	}

	// x/crypto/ssh does not export typed auth errors; match the stable
	// message prefixes it has used since the package's first release.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"):
		return KindAuthentication
	case strings.Contains(msg, "knownhosts: key mismatch"),
		strings.Contains(msg, "knownhosts: key is unknown"):
		return KindUntrustedHost
	case strings.Contains(msg, "permission denied"):
		return KindPermissionDenied
	case strings.Contains(msg, "file does not exist"),
		strings.Contains(msg, "no such file"):
		return KindPathNotFound
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "network is unreachable"):
		return KindHostUnreachable
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return KindTimeout
	}

	return KindIOFailure
}

// Retryable reports whether an error of this kind may participate in an
// automatic retry loop. Authentication and trust failures always need
// fresh caller input.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindHostUnreachable, KindIOFailure:
		return true
	default:
		return false
	}
}
