package deckbridge

import (
	"time"

	"github.com/opd-ai/deckbridge/channel"
	"github.com/opd-ai/deckbridge/connection"
	"github.com/opd-ai/deckbridge/transfer"
)

// Options configures a Bridge. Use NewOptions to get defaults tuned
// for a Steam Deck on a home network, then override as needed.
type Options struct {
	// Port is the SSH port used for both discovery probes and
	// connections. Discovery never contacts any other port.
	Port int

	// DirectHost is the well-known device name tried first during
	// discovery.
	DirectHost string

	// MDNSService is the mDNS service type browsed during discovery.
	MDNSService string

	// ProbeTimeout bounds a single subnet probe.
	ProbeTimeout time.Duration

	// DirectTimeout bounds the direct-name probe and the mDNS browse
	// window.
	DirectTimeout time.Duration

	// MaxProbes caps concurrent subnet probes.
	MaxProbes int64

	// SSHTimeout bounds the TCP connect plus SSH handshake.
	SSHTimeout time.Duration

	// KnownHostsPath overrides ~/.ssh/known_hosts.
	KnownHostsPath string

	// KeepaliveInterval is the connection health-check period.
	KeepaliveInterval time.Duration

	// ReconnectBaseDelay seeds the reconnect backoff, which doubles
	// per attempt.
	ReconnectBaseDelay time.Duration

	// MaxReconnectAttempts bounds one automatic reconnect cycle.
	MaxReconnectAttempts int

	// ChunkSize is the transfer copy buffer size.
	ChunkSize int

	// EventBuffer is the capacity of the event channel. When full, the
	// oldest event is dropped.
	EventBuffer int

	// Trust answers unknown-host-key prompts. With no Trust configured
	// every unknown host key is rejected.
	Trust channel.HostTrust

	// Secrets resolves passwords from an external store when the
	// credentials carry none. Secrets are never persisted here.
	Secrets channel.SecretLookup
}

// NewOptions returns the default configuration.
func NewOptions() *Options {
	return &Options{
		Port:                 channel.DefaultPort,
		DirectHost:           "steamdeck.local",
		MDNSService:          "_sftp-ssh._tcp",
		ProbeTimeout:         time.Second,
		DirectTimeout:        2 * time.Second,
		MaxProbes:            50,
		SSHTimeout:           channel.DefaultTimeout,
		KeepaliveInterval:    connection.DefaultKeepaliveInterval,
		ReconnectBaseDelay:   connection.DefaultReconnectBaseDelay,
		MaxReconnectAttempts: connection.DefaultMaxAttempts,
		ChunkSize:            transfer.DefaultChunkSize,
	}
}
