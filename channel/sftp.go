package channel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/opd-ai/deckbridge/bridgeerr"
)

// DefaultPort is the SSH port used when none is configured.
const DefaultPort = 22

// DefaultTimeout bounds the TCP connect and SSH handshake.
const DefaultTimeout = 15 * time.Second

// Config carries everything needed to establish one SFTP session.
type Config struct {
	Host        string
	Port        int
	Credentials Credentials
	Timeout     time.Duration

	// KnownHostsPath overrides ~/.ssh/known_hosts.
	KnownHostsPath string

	// Trust answers unknown-host-key prompts. With no Trust configured
	// every unknown key is rejected.
	Trust HostTrust

	// Secrets resolves the account password when Credentials.Password
	// is empty.
	Secrets SecretLookup
}

// SFTPChannel is the production SecureChannel over ssh + sftp.
type SFTPChannel struct {
	host string

	mu     sync.Mutex
	ssh    *ssh.Client
	sftp   *sftp.Client
	closed bool
}

// Dial establishes an authenticated SFTP session to cfg.Host. Host
// identity is verified against known_hosts before any data operation;
// an unknown key suspends the handshake on cfg.Trust.
func Dial(ctx context.Context, cfg Config) (*SFTPChannel, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"address":  addr,
		"username": cfg.Credentials.Username,
	}).Info("Establishing secure channel")

	auth, err := buildAuthMethods(cfg)
	if err != nil {
		return nil, err
	}

	hostKeyCB, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.Credentials.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCB,
		Timeout:         cfg.Timeout,
	}

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Classify(err), "Dial", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		_ = conn.Close()
		return nil, bridgeerr.Wrap(bridgeerr.Classify(err), "Dial", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	// Concurrent request pipelining is the single biggest throughput
	// lever for large transfers over high-latency links.
	sftpClient, err := sftp.NewClient(client,
		sftp.UseConcurrentWrites(true),
		sftp.UseConcurrentReads(true),
		sftp.MaxPacket(32768),
	)
	if err != nil {
		_ = client.Close()
		return nil, bridgeerr.Wrap(bridgeerr.Classify(err), "Dial", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"address":  addr,
	}).Info("Secure channel established")

	return &SFTPChannel{host: cfg.Host, ssh: client, sftp: sftpClient}, nil
}

// Host returns the remote host this channel is connected to.
func (c *SFTPChannel) Host() string { return c.host }

func (c *SFTPChannel) client() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.sftp == nil {
		return nil, bridgeerr.New(bridgeerr.KindIOFailure, "client", "channel is closed")
	}
	return c.sftp, nil
}

func (c *SFTPChannel) sshClient() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.ssh == nil {
		return nil, bridgeerr.New(bridgeerr.KindIOFailure, "sshClient", "channel is closed")
	}
	return c.ssh, nil
}

// Exec implements SecureChannel. Each command runs in its own SSH
// session on the established connection.
func (c *SFTPChannel) Exec(cmd string) (ExecResult, error) {
	cl, err := c.sshClient()
	if err != nil {
		return ExecResult{}, err
	}
	sess, err := cl.NewSession()
	if err != nil {
		return ExecResult{}, bridgeerr.Wrap(bridgeerr.Classify(err), "Exec", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	exitCode := 0
	if runErr := sess.Run(cmd); runErr != nil {
		var exitErr *ssh.ExitError
		if !errors.As(runErr, &exitErr) {
			return ExecResult{}, bridgeerr.Wrap(bridgeerr.Classify(runErr), "Exec", runErr)
		}
		exitCode = exitErr.ExitStatus()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Exec",
		"host":     c.host,
		"exit":     exitCode,
	}).Debug("Remote command finished")

	return ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

// ListDir implements SecureChannel.
func (c *SFTPChannel) ListDir(path string) ([]FileInfo, error) {
	cl, err := c.client()
	if err != nil {
		return nil, err
	}
	entries, err := cl.ReadDir(path)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Classify(err), "ListDir", err)
	}
	infos := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, FileInfo{
			Name:    e.Name(),
			Size:    e.Size(),
			ModTime: e.ModTime(),
			IsDir:   e.IsDir(),
		})
	}
	logrus.WithFields(logrus.Fields{
		"function": "ListDir",
		"path":     path,
		"entries":  len(infos),
	}).Debug("Listed remote directory")
	return infos, nil
}

// Stat implements SecureChannel.
func (c *SFTPChannel) Stat(path string) (FileInfo, error) {
	cl, err := c.client()
	if err != nil {
		return FileInfo{}, err
	}
	fi, err := cl.Stat(path)
	if err != nil {
		return FileInfo{}, bridgeerr.Wrap(bridgeerr.Classify(err), "Stat", err)
	}
	return FileInfo{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}, nil
}

// OpenRead implements SecureChannel.
func (c *SFTPChannel) OpenRead(path string, offset int64) (io.ReadCloser, error) {
	cl, err := c.client()
	if err != nil {
		return nil, err
	}
	f, err := cl.Open(path)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Classify(err), "OpenRead", err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, bridgeerr.Wrap(bridgeerr.KindIOFailure, "OpenRead", err)
		}
	}
	return f, nil
}

// OpenWrite implements SecureChannel.
func (c *SFTPChannel) OpenWrite(path string, appendTo bool) (io.WriteCloser, error) {
	cl, err := c.client()
	if err != nil {
		return nil, err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if appendTo {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := cl.OpenFile(path, flags)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Classify(err), "OpenWrite", err)
	}
	return f, nil
}

// Rename implements SecureChannel. Some SFTP servers refuse to rename
// over an existing file; retry once after removing the target.
func (c *SFTPChannel) Rename(oldPath, newPath string) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	if err := cl.PosixRename(oldPath, newPath); err == nil {
		return nil
	}
	if err := cl.Rename(oldPath, newPath); err != nil {
		if rmErr := cl.Remove(newPath); rmErr == nil {
			if err2 := cl.Rename(oldPath, newPath); err2 == nil {
				return nil
			}
		}
		return bridgeerr.Wrap(bridgeerr.Classify(err), "Rename", err)
	}
	return nil
}

// Remove implements SecureChannel.
func (c *SFTPChannel) Remove(path string) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	if err := cl.Remove(path); err != nil {
		return bridgeerr.Wrap(bridgeerr.Classify(err), "Remove", err)
	}
	return nil
}

// MkdirAll implements SecureChannel.
func (c *SFTPChannel) MkdirAll(path string) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	if err := cl.MkdirAll(path); err != nil {
		return bridgeerr.Wrap(bridgeerr.Classify(err), "MkdirAll", err)
	}
	return nil
}

// Ping implements SecureChannel. A stat of the session root doubles as
// the keepalive health check.
func (c *SFTPChannel) Ping() error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	if _, err := cl.Stat("."); err != nil {
		return bridgeerr.Wrap(bridgeerr.Classify(err), "Ping", err)
	}
	return nil
}

// Close implements SecureChannel. Safe to call more than once.
func (c *SFTPChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var first error
	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			first = err
		}
		c.sftp = nil
	}
	if c.ssh != nil {
		if err := c.ssh.Close(); err != nil && first == nil {
			first = err
		}
		c.ssh = nil
	}
	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"host":     c.host,
	}).Info("Secure channel closed")
	return first
}
