package channel

import (
	"errors"
	"net"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/opd-ai/deckbridge/bridgeerr"
)

// defaultKnownHostsPath returns ~/.ssh/known_hosts.
func defaultKnownHostsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ssh", "known_hosts"), nil
}

// ensureKnownHostsFile creates the known_hosts file and its directory
// if they do not exist, with conventional permissions.
func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

// AcceptHostKey appends the key for hostname to the known_hosts file at
// path, creating the file if needed. Called after the user approves an
// unknown host identity.
func AcceptHostKey(path, hostname string, key ssh.PublicKey) error {
	if err := ensureKnownHostsFile(path); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindIOFailure, "AcceptHostKey", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindIOFailure, "AcceptHostKey", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{hostname}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindIOFailure, "AcceptHostKey", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "AcceptHostKey",
		"hostname":    hostname,
		"key_type":    key.Type(),
		"fingerprint": ssh.FingerprintSHA256(key),
	}).Info("Host key saved to known_hosts")
	return nil
}

// hostKeyCallback builds the mandatory host verification callback. A
// key already in known_hosts passes. An unknown key is surfaced to
// cfg.Trust with its fingerprint; approval appends it to known_hosts,
// anything else fails with KindUntrustedHost. A mismatched key always
// fails: it is indistinguishable from an interception attempt.
func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	path := cfg.KnownHostsPath
	if path == "" {
		var err error
		path, err = defaultKnownHostsPath()
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindIOFailure, "hostKeyCallback", err)
		}
	}
	if err := ensureKnownHostsFile(path); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindIOFailure, "hostKeyCallback", err)
	}

	base, err := knownhosts.New(path)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindIOFailure, "hostKeyCallback", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := base(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
			logrus.WithFields(logrus.Fields{
				"function":    "hostKeyCallback",
				"hostname":    hostname,
				"fingerprint": ssh.FingerprintSHA256(key),
			}).Error("Host key mismatch")
			return bridgeerr.Wrap(bridgeerr.KindUntrustedHost, "hostKeyCallback", err)
		}

		// Unknown host: ask for an explicit trust decision.
		fingerprint := ssh.FingerprintSHA256(key)
		logrus.WithFields(logrus.Fields{
			"function":    "hostKeyCallback",
			"hostname":    hostname,
			"key_type":    key.Type(),
			"fingerprint": fingerprint,
		}).Warn("Unknown host key, requesting trust decision")

		if cfg.Trust == nil {
			return bridgeerr.New(bridgeerr.KindUntrustedHost, "hostKeyCallback",
				"host key for "+hostname+" is unknown and no trust prompt is configured")
		}
		ok, promptErr := cfg.Trust.ConfirmHostKey(hostname, key.Type(), fingerprint)
		if promptErr != nil {
			return bridgeerr.Wrap(bridgeerr.KindUntrustedHost, "hostKeyCallback", promptErr)
		}
		if !ok {
			return bridgeerr.New(bridgeerr.KindUntrustedHost, "hostKeyCallback",
				"host key for "+hostname+" declined by caller")
		}
		return AcceptHostKey(path, hostname, key)
	}, nil
}
