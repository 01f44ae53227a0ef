package channel

import (
	"io"
	"time"
)

// FileInfo describes one remote filesystem entry.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// SecureChannel is one authenticated session to one remote host. All
// methods are safe for use by a single borrower at a time; concurrent
// borrowers must serialize through the connection manager.
type SecureChannel interface {
	// ListDir returns the entries of a remote directory.
	ListDir(path string) ([]FileInfo, error)

	// Stat returns metadata for a remote path. A missing path yields an
	// error of kind PathNotFound.
	Stat(path string) (FileInfo, error)

	// OpenRead opens a remote file for reading starting at offset.
	OpenRead(path string, offset int64) (io.ReadCloser, error)

	// OpenWrite opens a remote file for writing, creating it if needed.
	// With appendTo set the stream continues after existing content;
	// otherwise the file is truncated.
	OpenWrite(path string, appendTo bool) (io.WriteCloser, error)

	// Rename atomically moves oldPath to newPath. This is the single
	// publish point for completed transfers.
	Rename(oldPath, newPath string) error

	// Remove deletes a remote file.
	Remove(path string) error

	// MkdirAll creates a remote directory and any missing ancestors.
	MkdirAll(path string) error

	// Exec runs a command on the remote host and returns its captured
	// output and exit code. A non-zero exit code is not an error.
	Exec(cmd string) (ExecResult, error)

	// Ping performs a cheap liveness check of the session.
	Ping() error

	// Close tears down the session. Safe to call more than once.
	Close() error
}

// ExecResult is the outcome of one remote command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Credentials identify the remote account for one connection attempt.
// Password, when empty, is resolved through the SecretLookup configured
// on the dial config; the core never stores it.
type Credentials struct {
	Username string
	Password string

	// KeyPath optionally overrides the default private key candidates.
	KeyPath string
}

// SecretLookup retrieves a secret from an external store (OS keyring or
// equivalent). The account key is "user@host".
type SecretLookup interface {
	LookupSecret(service, account string) (string, error)
}

// SecretLookupFunc adapts a function to the SecretLookup interface.
type SecretLookupFunc func(service, account string) (string, error)

// LookupSecret implements SecretLookup.
func (f SecretLookupFunc) LookupSecret(service, account string) (string, error) {
	return f(service, account)
}

// HostTrust decides whether an unrecognized host identity may be
// trusted. Implementations typically prompt the user with the
// fingerprint. Returning false, or any error, aborts the handshake.
type HostTrust interface {
	ConfirmHostKey(hostname, keyType, fingerprint string) (bool, error)
}

// HostTrustFunc adapts a function to the HostTrust interface.
type HostTrustFunc func(hostname, keyType, fingerprint string) (bool, error)

// ConfirmHostKey implements HostTrust.
func (f HostTrustFunc) ConfirmHostKey(hostname, keyType, fingerprint string) (bool, error) {
	return f(hostname, keyType, fingerprint)
}
