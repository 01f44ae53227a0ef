// Package pathutil provides remote path validation and formatting
// helpers shared by the channel, connection, and transfer packages.
//
// Remote paths are always POSIX paths on the device side, regardless of
// the local operating system. Every remote path must pass
// ValidateRemotePath before it reaches the secure channel; a rejected
// path performs no I/O.
package pathutil
