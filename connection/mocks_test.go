package connection

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/opd-ai/deckbridge/bridgeerr"
	"github.com/opd-ai/deckbridge/channel"
	"github.com/opd-ai/deckbridge/discovery"
)

// fakeChannel is a SecureChannel whose Ping can be made to fail on
// demand. Other operations return canned data.
type fakeChannel struct {
	mu       sync.Mutex
	pingErr  error
	pings    int
	closed   bool
	listings map[string][]channel.FileInfo
	execs    map[string]channel.ExecResult
	execErr  error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		listings: make(map[string][]channel.FileInfo),
		execs:    make(map[string]channel.ExecResult),
	}
}

func (f *fakeChannel) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeChannel) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) ListDir(path string) ([]channel.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, ok := f.listings[path]
	if !ok {
		return nil, bridgeerr.New(bridgeerr.KindPathNotFound, "ListDir", path)
	}
	return entries, nil
}

func (f *fakeChannel) Stat(path string) (channel.FileInfo, error) {
	return channel.FileInfo{}, bridgeerr.New(bridgeerr.KindPathNotFound, "Stat", path)
}

func (f *fakeChannel) OpenRead(path string, offset int64) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChannel) OpenWrite(path string, appendTo bool) (io.WriteCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChannel) Rename(oldPath, newPath string) error { return nil }

func (f *fakeChannel) Remove(path string) error { return nil }

func (f *fakeChannel) MkdirAll(path string) error { return nil }

func (f *fakeChannel) Exec(cmd string) (channel.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return channel.ExecResult{}, f.execErr
	}
	if res, ok := f.execs[cmd]; ok {
		return res, nil
	}
	return channel.ExecResult{ExitCode: 127, Stderr: "command not found"}, nil
}

func (f *fakeChannel) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// scriptedDialer returns the scripted outcomes in order; once the
// script is exhausted it repeats the last entry.
type scriptedDialer struct {
	mu      sync.Mutex
	script  []dialOutcome
	calls   int
	dialed  []time.Time
	devices []discovery.Device
	channel []*fakeChannel
}

type dialOutcome struct {
	err error
}

func newScriptedDialer(outcomes ...dialOutcome) *scriptedDialer {
	return &scriptedDialer{script: outcomes}
}

func (d *scriptedDialer) dial(ctx context.Context, device discovery.Device, creds channel.Credentials) (channel.SecureChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.calls
	if idx >= len(d.script) {
		idx = len(d.script) - 1
	}
	d.calls++
	d.dialed = append(d.dialed, time.Now())
	d.devices = append(d.devices, device)
	out := d.script[idx]
	if out.err != nil {
		return nil, out.err
	}
	ch := newFakeChannel()
	d.channel = append(d.channel, ch)
	return ch, nil
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *scriptedDialer) dialedDevices() []discovery.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]discovery.Device, len(d.devices))
	copy(out, d.devices)
	return out
}

func (d *scriptedDialer) lastChannel() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channel) == 0 {
		return nil
	}
	return d.channel[len(d.channel)-1]
}

// transitionRecorder captures listener callbacks for assertions.
type transitionRecorder struct {
	mu      sync.Mutex
	changes []stateChange
}

func (r *transitionRecorder) listen(old, new State, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, stateChange{old: old, new: new, reason: reason})
}

func (r *transitionRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.new
	}
	return out
}

func (r *transitionRecorder) waitFor(state State, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, s := range r.states() {
			if s == state {
				return true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// recordingSleep records requested delays without actually sleeping.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (s *recordingSleep) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

func testDevice() discovery.Device {
	return discovery.Device{
		Host:    "steamdeck.local",
		Address: "192.168.1.50",
		Via:     discovery.SourceMDNS,
	}
}

func testCreds() channel.Credentials {
	return channel.Credentials{Username: "deck", Password: "hunter2"}
}
