// Package channel defines the secure file-transfer capability the
// deckbridge engines consume, and provides the production SFTP-backed
// implementation of it.
//
// # SecureChannel
//
// A SecureChannel is one authenticated session to one remote host,
// exposing directory listing, stat, byte-range read/write streams, and
// atomic rename. The connection manager owns the only live channel;
// other components borrow it through the manager rather than holding
// their own.
//
// # Host trust
//
// Host identity verification is mandatory before any data operation.
// An unrecognized host key is never accepted silently: Dial suspends
// the handshake and asks the configured HostTrust capability for an
// explicit decision, surfacing the key fingerprint. A declined or
// mismatched key fails with KindUntrustedHost.
//
// # Credentials
//
// Authentication uses an explicit private key file, the user's default
// key locations, or a password retrieved through the injected
// SecretLookup. Secrets are never persisted by this package.
package channel
