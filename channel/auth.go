package channel

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/opd-ai/deckbridge/bridgeerr"
)

// SecretService is the external secret-store service name the account
// password is filed under.
const SecretService = "deckbridge"

// defaultKeyCandidates returns the user's conventional private key
// locations, existing files only.
func defaultKeyCandidates() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	candidates := []string{
		filepath.Join(home, ".ssh", "id_rsa"),
		filepath.Join(home, ".ssh", "id_ed25519"),
	}
	var existing []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	return existing
}

// loadSigner parses the private key at path. Encrypted keys are skipped
// by the caller; this engine never prompts for passphrases.
func loadSigner(path string) (ssh.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(raw)
}

// buildAuthMethods assembles the authentication chain for one attempt:
// explicit key file first, then default key candidates, then password
// (direct or via the secret store). No usable method is an
// authentication failure before any network I/O.
func buildAuthMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	var signers []ssh.Signer

	keyPaths := defaultKeyCandidates()
	if cfg.Credentials.KeyPath != "" {
		keyPaths = []string{cfg.Credentials.KeyPath}
	}
	for _, p := range keyPaths {
		signer, err := loadSigner(p)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "buildAuthMethods",
				"key_path": p,
				"error":    err.Error(),
			}).Warn("Skipping unusable private key")
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	password := cfg.Credentials.Password
	if password == "" && cfg.Secrets != nil {
		account := cfg.Credentials.Username + "@" + cfg.Host
		secret, err := cfg.Secrets.LookupSecret(SecretService, account)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "buildAuthMethods",
				"account":  account,
				"error":    err.Error(),
			}).Debug("No stored secret for account")
		} else {
			password = secret
		}
	}
	if password != "" {
		methods = append(methods, ssh.Password(password))
	}

	if len(methods) == 0 {
		return nil, bridgeerr.New(bridgeerr.KindAuthentication, "buildAuthMethods",
			"no usable credentials: no private key found and no password available")
	}

	logrus.WithFields(logrus.Fields{
		"function":     "buildAuthMethods",
		"key_signers":  len(signers),
		"has_password": password != "",
	}).Debug("Authentication chain assembled")

	return methods, nil
}
