package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/deckbridge/bridgeerr"
	"github.com/opd-ai/deckbridge/channel"
	"github.com/opd-ai/deckbridge/discovery"
)

func transientErr() error {
	return bridgeerr.New(bridgeerr.KindHostUnreachable, "dial", "connection refused")
}

func authErr() error {
	return bridgeerr.New(bridgeerr.KindAuthentication, "dial", "permission denied (publickey,password)")
}

func newTestManager(dialer *scriptedDialer, sleep *recordingSleep) *Manager {
	cfg := Config{
		Dialer:             dialer.dial,
		KeepaliveInterval:  20 * time.Millisecond,
		ReconnectBaseDelay: 2 * time.Second,
		MaxAttempts:        3,
	}
	if sleep != nil {
		cfg.Sleep = sleep.sleep
	} else {
		cfg.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	}
	return NewManager(cfg)
}

func TestConnectSuccess(t *testing.T) {
	dialer := newScriptedDialer(dialOutcome{})
	m := newTestManager(dialer, nil)
	defer m.Close()

	rec := &transitionRecorder{}
	m.Subscribe(rec.listen)

	err := m.Connect(context.Background(), testDevice(), testCreds())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, m.State())
	assert.True(t, m.Ready())
	assert.Equal(t, 1, dialer.dialCount())

	require.True(t, rec.waitFor(StateConnected, time.Second))
	states := rec.states()
	assert.Equal(t, StateConnecting, states[0])
	assert.Equal(t, StateConnected, states[len(states)-1])
}

func TestConnectAuthFailureNoRetry(t *testing.T) {
	dialer := newScriptedDialer(dialOutcome{err: authErr()})
	sleep := &recordingSleep{}
	m := newTestManager(dialer, sleep)
	defer m.Close()

	err := m.Connect(context.Background(), testDevice(), testCreds())
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindAuthentication, bridgeerr.KindOf(err))
	assert.Equal(t, StateError, m.State())

	// Credential failures must not burn retry attempts.
	assert.Equal(t, 1, dialer.dialCount())
	assert.Empty(t, sleep.recorded())
}

func TestConnectTransientRetriesThenError(t *testing.T) {
	dialer := newScriptedDialer(dialOutcome{err: transientErr()})
	sleep := &recordingSleep{}
	m := newTestManager(dialer, sleep)
	defer m.Close()

	err := m.Connect(context.Background(), testDevice(), testCreds())
	require.Error(t, err)
	assert.Equal(t, StateError, m.State())
	assert.Equal(t, 3, dialer.dialCount())

	delays := sleep.recorded()
	require.Len(t, delays, 2)
	assert.Equal(t, 2*time.Second, delays[0])
	assert.Equal(t, 4*time.Second, delays[1])
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}
}

func TestConnectFromErrorResetsCycle(t *testing.T) {
	dialer := newScriptedDialer(
		dialOutcome{err: transientErr()},
		dialOutcome{err: transientErr()},
		dialOutcome{err: transientErr()},
		dialOutcome{},
	)
	sleep := &recordingSleep{}
	m := newTestManager(dialer, sleep)
	defer m.Close()

	require.Error(t, m.Connect(context.Background(), testDevice(), testCreds()))
	require.Equal(t, StateError, m.State())

	// A manual Connect from StateError starts a fresh attempt budget.
	err := m.Connect(context.Background(), testDevice(), testCreds())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 4, dialer.dialCount())

	// The fresh cycle restarts the backoff schedule too.
	delays := sleep.recorded()
	require.Len(t, delays, 2)
	assert.Equal(t, 2*time.Second, delays[0])
}

func TestConnectWhileActiveRejected(t *testing.T) {
	dialer := newScriptedDialer(dialOutcome{})
	m := newTestManager(dialer, nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background(), testDevice(), testCreds()))
	err := m.Connect(context.Background(), testDevice(), testCreds())
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestKeepaliveFailureTriggersReconnect(t *testing.T) {
	dialer := newScriptedDialer(dialOutcome{}, dialOutcome{})
	m := newTestManager(dialer, nil)
	defer m.Close()

	rec := &transitionRecorder{}
	m.Subscribe(rec.listen)

	require.NoError(t, m.Connect(context.Background(), testDevice(), testCreds()))
	first := dialer.lastChannel()
	require.NotNil(t, first)

	// Wait for at least one healthy ping before breaking the channel.
	deadline := time.Now().Add(time.Second)
	for first.pingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Greater(t, first.pingCount(), 0, "keepalive never pinged")

	first.setPingErr(errors.New("broken pipe"))

	deadline = time.Now().Add(2 * time.Second)
	for dialer.dialCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 2, dialer.dialCount(), "expected automatic redial")

	require.True(t, rec.waitFor(StateConnected, time.Second))
	assert.Equal(t, StateConnected, m.State())
	assert.True(t, first.isClosed())
}

func TestDisconnectStopsKeepalive(t *testing.T) {
	dialer := newScriptedDialer(dialOutcome{})
	m := newTestManager(dialer, nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background(), testDevice(), testCreds()))
	ch := dialer.lastChannel()
	require.NotNil(t, ch)

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
	assert.True(t, ch.isClosed())

	pings := ch.pingCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, pings, ch.pingCount(), "keepalive kept pinging after disconnect")
	assert.Equal(t, 1, dialer.dialCount(), "disconnect must not trigger a redial")
}

func TestDisconnectWhileDisconnectedIsNoop(t *testing.T) {
	m := newTestManager(newScriptedDialer(dialOutcome{}), nil)
	defer m.Close()

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
}

func TestBorrowRequiresConnection(t *testing.T) {
	m := newTestManager(newScriptedDialer(dialOutcome{}), nil)
	defer m.Close()

	err := m.Borrow(func(ch channel.SecureChannel) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, bridgeerr.KindHostUnreachable, bridgeerr.KindOf(err))
}

func TestBorrowSerialized(t *testing.T) {
	dialer := newScriptedDialer(dialOutcome{})
	m := newTestManager(dialer, nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background(), testDevice(), testCreds()))

	var active, peak int
	done := make(chan struct{})
	var mu = make(chan struct{}, 1)
	mu <- struct{}{}

	for i := 0; i < 8; i++ {
		go func() {
			_ = m.Borrow(func(ch channel.SecureChannel) error {
				<-mu
				active++
				if active > peak {
					peak = active
				}
				mu <- struct{}{}
				time.Sleep(2 * time.Millisecond)
				<-mu
				active--
				mu <- struct{}{}
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, 1, peak, "borrowed channel shared concurrently")
}

func TestListDirectory(t *testing.T) {
	dialer := newScriptedDialer(dialOutcome{})
	m := newTestManager(dialer, nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background(), testDevice(), testCreds()))
	ch := dialer.lastChannel()
	ch.mu.Lock()
	ch.listings["/home/deck"] = []channel.FileInfo{
		{Name: "Downloads", IsDir: true},
		{Name: "save.dat", Size: 4096},
	}
	ch.mu.Unlock()

	entries, err := m.ListDirectory("/home/deck")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Downloads", entries[0].Name)

	_, err = m.ListDirectory("/home/deck/../../etc")
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindPathTraversalRejected, bridgeerr.KindOf(err))
	assert.Equal(t, 1, dialer.dialCount())
}

func TestStaleReconnectCycleIgnoresNewTarget(t *testing.T) {
	dialer := newScriptedDialer(
		dialOutcome{},                    // initial connect to A
		dialOutcome{err: transientErr()}, // stale reconnect attempt
		dialOutcome{},                    // fresh connect to B
	)

	// The first backoff sleep parks the stale cycle until released.
	gate := make(chan struct{})
	var once sync.Once
	cfg := Config{
		Dialer:             dialer.dial,
		KeepaliveInterval:  10 * time.Millisecond,
		ReconnectBaseDelay: 2 * time.Second,
		MaxAttempts:        3,
		Sleep: func(ctx context.Context, d time.Duration) error {
			parked := false
			once.Do(func() { parked = true })
			if parked {
				<-gate
			}
			return ctx.Err()
		},
	}
	m := NewManager(cfg)
	defer m.Close()

	deviceA := testDevice()
	deviceB := discovery.Device{Host: "other.local", Address: "192.168.1.77"}

	require.NoError(t, m.Connect(context.Background(), deviceA, testCreds()))
	dialer.lastChannel().setPingErr(errors.New("broken pipe"))

	// Wait for the stale cycle's failed redial; it is now parked in the
	// backoff sleep.
	deadline := time.Now().Add(2 * time.Second)
	for dialer.dialCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 2, dialer.dialCount())

	m.Disconnect()
	require.NoError(t, m.Connect(context.Background(), deviceB, testCreds()))
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, deviceB.Address, m.Device().Address)

	close(gate)
	time.Sleep(50 * time.Millisecond)

	// The superseded cycle must die quietly: no extra dials, no dial
	// ever mixing generations, and the session to B intact.
	assert.Equal(t, StateConnected, m.State())
	devices := dialer.dialedDevices()
	require.Len(t, devices, 3)
	assert.Equal(t, deviceA.Address, devices[0].Address)
	assert.Equal(t, deviceA.Address, devices[1].Address)
	assert.Equal(t, deviceB.Address, devices[2].Address)
}

func TestExec(t *testing.T) {
	dialer := newScriptedDialer(dialOutcome{})
	m := newTestManager(dialer, nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background(), testDevice(), testCreds()))
	ch := dialer.lastChannel()
	ch.mu.Lock()
	ch.execs["uname -r"] = channel.ExecResult{Stdout: "6.5.0-valve1\n", ExitCode: 0}
	ch.execs["false"] = channel.ExecResult{ExitCode: 1}
	ch.mu.Unlock()

	res, err := m.Exec("uname -r")
	require.NoError(t, err)
	assert.Equal(t, "6.5.0-valve1\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)

	// A non-zero exit code is a result, not an error.
	res, err = m.Exec("false")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
}

func TestExecRequiresConnection(t *testing.T) {
	m := newTestManager(newScriptedDialer(dialOutcome{}), nil)
	defer m.Close()

	_, err := m.Exec("uname -r")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestContextCancelAbortsRetryCycle(t *testing.T) {
	dialer := newScriptedDialer(dialOutcome{err: transientErr()})
	ctx, cancel := context.WithCancel(context.Background())

	cfg := Config{
		Dialer:             dialer.dial,
		ReconnectBaseDelay: 2 * time.Second,
		MaxAttempts:        3,
		Sleep: func(sctx context.Context, d time.Duration) error {
			cancel()
			return sctx.Err()
		},
	}
	m := NewManager(cfg)
	defer m.Close()

	err := m.Connect(ctx, testDevice(), testCreds())
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindCancelled, bridgeerr.KindOf(err))
	assert.Equal(t, 1, dialer.dialCount())
}

func TestStateTransitionTable(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateConnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateConnecting, true},
		{StateConnecting, StateError, true},
		{StateConnecting, StateDisconnected, true},
		{StateConnected, StateConnecting, true},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateError, false},
		{StateError, StateConnecting, true},
		{StateError, StateDisconnected, true},
		{StateError, StateConnected, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "DISCONNECTED", StateDisconnected.String())
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "ERROR", StateError.String())
}
