package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/deckbridge/bridgeerr"
	"github.com/opd-ai/deckbridge/channel"
	"github.com/opd-ai/deckbridge/discovery"
	"github.com/opd-ai/deckbridge/pathutil"
)

// ErrNotConnected indicates a channel operation was attempted without a
// healthy session.
var ErrNotConnected = errors.New("not connected")

// ErrAlreadyActive indicates Connect was called while a session is
// being established or is already up.
var ErrAlreadyActive = errors.New("connection already active")

// DefaultKeepaliveInterval is the health-check period while connected.
const DefaultKeepaliveInterval = 30 * time.Second

// DefaultReconnectBaseDelay seeds the exponential backoff.
const DefaultReconnectBaseDelay = 2 * time.Second

// DefaultMaxAttempts bounds one automatic attempt cycle.
const DefaultMaxAttempts = 3

// Dialer establishes one authenticated channel to a device. The
// production dialer wraps channel.Dial; tests substitute fakes.
type Dialer func(ctx context.Context, device discovery.Device, creds channel.Credentials) (channel.SecureChannel, error)

// Listener observes state transitions. Callbacks are dispatched from a
// dedicated goroutine in generation order and must not be assumed to
// run on any particular thread.
type Listener func(old, new State, reason string)

// Config tunes a Manager. Zero values select the defaults above.
type Config struct {
	Dialer             Dialer
	KeepaliveInterval  time.Duration
	ReconnectBaseDelay time.Duration
	MaxAttempts        int

	// Sleep waits between attempts; injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *Config) applyDefaults() {
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type stateChange struct {
	old    State
	new    State
	reason string
}

// Manager owns the lifecycle of the single active channel.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	state     State
	ch        channel.SecureChannel
	device    discovery.Device
	creds     channel.Credentials
	gen       uint64
	runCancel context.CancelFunc

	// borrowMu serializes all channel use: keepalive pings, directory
	// listings, and transfer chunk I/O are mutually exclusive.
	borrowMu sync.Mutex

	lmu       sync.Mutex
	listeners []Listener

	notify    chan stateChange
	quit      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a manager in StateDisconnected.
func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:    cfg,
		state:  StateDisconnected,
		notify: make(chan stateChange, 128),
		quit:   make(chan struct{}),
	}
	go m.dispatch()
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether a channel is available to borrow.
func (m *Manager) Ready() bool {
	return m.State() == StateConnected
}

// Device returns the target of the current or last session.
func (m *Manager) Device() discovery.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// Subscribe registers a transition listener.
func (m *Manager) Subscribe(l Listener) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Connect establishes a session to device. Transient failures retry
// with exponential backoff up to the configured attempt limit;
// authentication and host-trust failures fail immediately. Calling
// Connect from StateError starts a fresh attempt cycle. The session
// (including its keepalive) lives until ctx is cancelled or Disconnect
// is called.
func (m *Manager) Connect(ctx context.Context, device discovery.Device, creds channel.Credentials) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Connect",
			"state":    m.State().String(),
		}).Debug("Connect called while session active")
		return ErrAlreadyActive
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	m.gen++
	gen := m.gen
	m.runCancel = cancel
	m.device = device
	m.creds = creds
	m.setStateLocked(StateConnecting, "connect requested")
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"host":     device.Host,
		"address":  device.Address,
	}).Info("Connecting to device")

	return m.establish(sessionCtx, gen, device, creds)
}

// Disconnect tears down the session from any state. The keepalive and
// any in-flight reconnect attempt are cancelled; no automatic attempt
// fires afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	if m.runCancel != nil {
		m.runCancel()
		m.runCancel = nil
	}
	ch := m.ch
	m.ch = nil
	m.setStateLocked(StateDisconnected, "disconnect requested")
	m.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	logrus.WithFields(logrus.Fields{
		"function": "Disconnect",
		"host":     m.Device().Host,
	}).Info("Disconnected")
}

// Borrow runs fn with exclusive access to the active channel. The
// channel is held only for the duration of fn; callers stream transfers
// by borrowing once per chunk, never across a wait on external input.
func (m *Manager) Borrow(fn func(channel.SecureChannel) error) error {
	m.mu.Lock()
	if m.state != StateConnected || m.ch == nil {
		m.mu.Unlock()
		return bridgeerr.Wrap(bridgeerr.KindHostUnreachable, "Borrow", ErrNotConnected)
	}
	ch := m.ch
	m.mu.Unlock()

	m.borrowMu.Lock()
	defer m.borrowMu.Unlock()
	return fn(ch)
}

// ListDirectory lists a remote directory through the active channel,
// validating the path first.
func (m *Manager) ListDirectory(path string) ([]channel.FileInfo, error) {
	if err := pathutil.ValidateRemotePath(path); err != nil {
		return nil, err
	}
	var entries []channel.FileInfo
	err := m.Borrow(func(ch channel.SecureChannel) error {
		var listErr error
		entries, listErr = ch.ListDir(path)
		return listErr
	})
	return entries, err
}

// Exec runs a command on the connected device through the active
// channel.
func (m *Manager) Exec(cmd string) (channel.ExecResult, error) {
	var result channel.ExecResult
	err := m.Borrow(func(ch channel.SecureChannel) error {
		var execErr error
		result, execErr = ch.Exec(cmd)
		return execErr
	})
	return result, err
}

// Close releases the manager: disconnects and stops listener dispatch.
func (m *Manager) Close() {
	m.Disconnect()
	m.closeOnce.Do(func() { close(m.quit) })
}

// establish runs one bounded attempt cycle for the given session
// generation. The target device and credentials travel as parameters,
// captured under the lock by the caller, so a stale cycle never reads
// fields a newer Connect is rewriting. Generation checks make a
// concurrent Disconnect win every race: a stale cycle never mutates
// state.
func (m *Manager) establish(ctx context.Context, gen uint64, device discovery.Device, creds channel.Credentials) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.ReconnectBaseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return bridgeerr.Wrap(bridgeerr.KindCancelled, "Connect", err)
		}

		ch, err := m.cfg.Dialer(ctx, device, creds)
		if err == nil {
			m.mu.Lock()
			if m.gen != gen {
				m.mu.Unlock()
				_ = ch.Close()
				return bridgeerr.Wrap(bridgeerr.KindCancelled, "Connect", context.Canceled)
			}
			m.ch = ch
			m.setStateLocked(StateConnected, fmt.Sprintf("connected to %s (attempt %d)", device.Address, attempt))
			m.mu.Unlock()

			logrus.WithFields(logrus.Fields{
				"function": "establish",
				"address":  device.Address,
				"attempt":  attempt,
			}).Info("Session established")

			go m.keepalive(ctx, gen)
			return nil
		}

		kind := bridgeerr.KindOf(err)
		logrus.WithFields(logrus.Fields{
			"function": "establish",
			"address":  device.Address,
			"attempt":  attempt,
			"kind":     kind.String(),
			"error":    err.Error(),
		}).Warn("Connection attempt failed")

		if !kind.Retryable() {
			m.fail(gen, err.Error())
			return err
		}
		lastErr = err

		if attempt == m.cfg.MaxAttempts {
			break
		}
		delay := bo.NextBackOff()
		m.mu.Lock()
		if m.gen == gen {
			m.setStateLocked(StateConnecting,
				fmt.Sprintf("retry %d/%d in %s", attempt+1, m.cfg.MaxAttempts, delay))
		}
		m.mu.Unlock()
		if err := m.cfg.Sleep(ctx, delay); err != nil {
			return bridgeerr.Wrap(bridgeerr.KindCancelled, "Connect", err)
		}
	}

	m.fail(gen, fmt.Sprintf("could not connect to %s after %d attempts", device.Address, m.cfg.MaxAttempts))
	logrus.WithFields(logrus.Fields{
		"function": "establish",
		"address":  device.Address,
		"attempts": m.cfg.MaxAttempts,
	}).Error("All connection attempts exhausted")
	return lastErr
}

func (m *Manager) fail(gen uint64, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen {
		m.setStateLocked(StateError, reason)
	}
}

// keepalive monitors channel health for the lifetime of one CONNECTED
// session. Ping failure is what detects silent drops; it hands off to
// a fresh establish cycle and exits.
func (m *Manager) keepalive(ctx context.Context, gen uint64) {
	logrus.WithFields(logrus.Fields{
		"function": "keepalive",
		"host":     m.Device().Host,
		"interval": m.cfg.KeepaliveInterval,
	}).Debug("Keepalive started")

	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if m.gen != gen || m.state != StateConnected || m.ch == nil {
			m.mu.Unlock()
			return
		}
		ch := m.ch
		m.mu.Unlock()

		m.borrowMu.Lock()
		err := ch.Ping()
		m.borrowMu.Unlock()
		if err == nil {
			continue
		}

		logrus.WithFields(logrus.Fields{
			"function": "keepalive",
			"host":     m.Device().Host,
			"error":    err.Error(),
		}).Warn("Keepalive failed, initiating reconnect")

		m.mu.Lock()
		if m.gen != gen || m.state != StateConnected {
			m.mu.Unlock()
			return
		}
		_ = m.ch.Close()
		m.ch = nil
		device := m.device
		creds := m.creds
		m.setStateLocked(StateConnecting, "keepalive failed: "+err.Error())
		m.mu.Unlock()

		// A successful reconnect spawns its own keepalive.
		_ = m.establish(ctx, gen, device, creds)
		return
	}
}

// setStateLocked applies a transition while m.mu is held. Transitions
// outside the table are rejected and logged, not applied.
func (m *Manager) setStateLocked(next State, reason string) {
	if !CanTransition(m.state, next) {
		logrus.WithFields(logrus.Fields{
			"function": "setStateLocked",
			"from":     m.state.String(),
			"to":       next.String(),
			"reason":   reason,
		}).Error("Rejected invalid state transition")
		return
	}
	old := m.state
	m.state = next

	logrus.WithFields(logrus.Fields{
		"function": "setStateLocked",
		"from":     old.String(),
		"to":       next.String(),
		"reason":   reason,
	}).Info("Connection state changed")

	chg := stateChange{old: old, new: next, reason: reason}
	for {
		select {
		case m.notify <- chg:
			return
		default:
		}
		// Keep the newest transitions: drop the oldest queued one.
		select {
		case <-m.notify:
		default:
		}
	}
}

// dispatch delivers transitions to subscribers in order, off the
// transition path.
func (m *Manager) dispatch() {
	for {
		select {
		case <-m.quit:
			return
		case chg := <-m.notify:
			m.lmu.Lock()
			listeners := append([]Listener(nil), m.listeners...)
			m.lmu.Unlock()
			for _, l := range listeners {
				m.invoke(l, chg)
			}
		}
	}
}

func (m *Manager) invoke(l Listener, chg stateChange) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "invoke",
				"panic":    r,
			}).Error("Panic in state-change listener")
		}
	}()
	l(chg.old, chg.new, chg.reason)
}
