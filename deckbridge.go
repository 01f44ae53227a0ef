package deckbridge

import (
	"context"
	"errors"
	"sync"

	"github.com/opd-ai/deckbridge/bridgeerr"
	"github.com/opd-ai/deckbridge/channel"
	"github.com/opd-ai/deckbridge/connection"
	"github.com/opd-ai/deckbridge/discovery"
	"github.com/opd-ai/deckbridge/event"
	"github.com/opd-ai/deckbridge/transfer"
)

// ErrDiscoveryRunning indicates StartDiscovery was called while a run
// is still in flight.
var ErrDiscoveryRunning = errors.New("discovery already running")

// Bridge is the top-level facade tying discovery, the connection
// manager, and the transfer queue together behind a single event
// stream. All methods are safe for concurrent use.
type Bridge struct {
	opts *Options
	bus  *event.Bus
	mgr  *connection.Manager
	eng  *transfer.Engine

	ctx    context.Context
	cancel context.CancelFunc

	discMu sync.Mutex
	disc   *discovery.Engine

	closeOnce sync.Once
}

// New creates a Bridge. A nil options means defaults.
//
//	bridge, err := deckbridge.New(nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer bridge.Close()
//	go func() {
//		for ev := range bridge.Events() {
//			// drive the UI
//		}
//	}()
func New(opts *Options) (*Bridge, error) {
	if opts == nil {
		opts = NewOptions()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		opts:   opts,
		bus:    event.NewBus(opts.EventBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	b.mgr = connection.NewManager(connection.Config{
		Dialer:             b.dial,
		KeepaliveInterval:  opts.KeepaliveInterval,
		ReconnectBaseDelay: opts.ReconnectBaseDelay,
		MaxAttempts:        opts.MaxReconnectAttempts,
	})
	b.mgr.Subscribe(func(old, new connection.State, reason string) {
		b.bus.Publish(event.StateChanged{
			Old:    old.String(),
			New:    new.String(),
			Reason: reason,
		})
	})

	b.eng = transfer.NewEngine(transfer.Config{
		Provider:  b.mgr,
		ChunkSize: opts.ChunkSize,
	})
	b.eng.OnJobQueued(func(j transfer.Job) {
		b.bus.Publish(event.JobQueued{
			JobID:      j.ID,
			SourcePath: j.SourcePath,
			DestPath:   j.DestPath,
			TotalBytes: j.TotalBytes,
		})
	})
	b.eng.OnProgress(func(j transfer.Job) {
		b.bus.Publish(event.JobProgress{
			JobID:            j.ID,
			BytesTransferred: j.BytesTransferred,
			TotalBytes:       j.TotalBytes,
			Speed:            j.Speed,
			ETA:              j.ETA,
		})
	})
	b.eng.OnTerminal(func(j transfer.Job) {
		b.bus.Publish(event.JobTerminal{
			JobID:  j.ID,
			Status: j.Status.String(),
			Kind:   j.Kind,
		})
	})
	b.eng.OnOverwriteDecision(func(jobID, destPath string) {
		b.bus.Publish(event.OverwriteDecisionNeeded{JobID: jobID, Path: destPath})
	})

	return b, nil
}

// Events returns the stream of discovery, connection, and transfer
// events.
func (b *Bridge) Events() <-chan event.Event {
	return b.bus.Events()
}

// StartDiscovery launches one discovery run. Results stream through
// Events as they arrive.
func (b *Bridge) StartDiscovery() error {
	b.discMu.Lock()
	defer b.discMu.Unlock()

	if b.disc != nil {
		select {
		case <-b.disc.Done():
		default:
			return ErrDiscoveryRunning
		}
	}

	eng := discovery.New(discovery.Config{
		Port:          b.opts.Port,
		DirectHost:    b.opts.DirectHost,
		Service:       b.opts.MDNSService,
		ProbeTimeout:  b.opts.ProbeTimeout,
		DirectTimeout: b.opts.DirectTimeout,
		MaxProbes:     b.opts.MaxProbes,
	})
	eng.OnDeviceFound(func(d discovery.Device) {
		b.bus.Publish(event.DeviceFound{
			Host:         d.Host,
			Address:      d.Address,
			ResponseTime: d.ResponseTime,
			ViaMDNS:      d.Via == discovery.SourceMDNS,
		})
	})
	eng.OnComplete(func(found int) {
		b.bus.Publish(event.DiscoveryComplete{Found: found})
	})
	eng.OnError(func(err error) {
		b.bus.Publish(event.DiscoveryError{
			Kind:    bridgeerr.KindOf(err),
			Message: err.Error(),
		})
	})

	if err := eng.Start(b.ctx); err != nil {
		return err
	}
	b.disc = eng
	return nil
}

// CancelDiscovery stops the current discovery run, if any.
func (b *Bridge) CancelDiscovery() {
	b.discMu.Lock()
	defer b.discMu.Unlock()
	if b.disc != nil {
		b.disc.Cancel()
	}
}

// Connect establishes a session to device. The call blocks through the
// attempt cycle; state transitions stream through Events either way.
func (b *Bridge) Connect(device discovery.Device, creds channel.Credentials) error {
	return b.mgr.Connect(b.ctx, device, creds)
}

// Disconnect tears down the current session.
func (b *Bridge) Disconnect() {
	b.mgr.Disconnect()
}

// ConnectionState returns the current connection state.
func (b *Bridge) ConnectionState() connection.State {
	return b.mgr.State()
}

// ListDirectory lists a remote directory over the active session.
func (b *Bridge) ListDirectory(path string) ([]channel.FileInfo, error) {
	return b.mgr.ListDirectory(path)
}

// Exec runs a command on the connected device, returning its captured
// output and exit code.
func (b *Bridge) Exec(cmd string) (channel.ExecResult, error) {
	return b.mgr.Exec(cmd)
}

// Enqueue adds a transfer job to the queue.
func (b *Bridge) Enqueue(spec transfer.Spec) (transfer.Job, error) {
	return b.eng.Enqueue(spec)
}

// CancelTransfer cancels a queued or active job.
func (b *Bridge) CancelTransfer(jobID string) error {
	return b.eng.Cancel(jobID)
}

// CancelAllTransfers cancels every queued and active job.
func (b *Bridge) CancelAllTransfers() {
	b.eng.CancelAll()
}

// AnswerOverwrite resolves a pending overwrite decision.
func (b *Bridge) AnswerOverwrite(jobID string, allow bool) error {
	return b.eng.AnswerOverwrite(jobID, allow)
}

// Transfers returns the active job followed by the queue.
func (b *Bridge) Transfers() []transfer.Job {
	return b.eng.Jobs()
}

// TransferHistory returns finished jobs, oldest first.
func (b *Bridge) TransferHistory() []transfer.Job {
	return b.eng.History()
}

// ClearTransferHistory drops all finished jobs.
func (b *Bridge) ClearTransferHistory() {
	b.eng.ClearHistory()
}

// Close shuts everything down: discovery, the transfer queue, the
// connection, and finally the event stream.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.cancel()
		b.CancelDiscovery()
		b.eng.Close()
		b.mgr.Close()
		b.bus.Close()
	})
}

func (b *Bridge) dial(ctx context.Context, device discovery.Device, creds channel.Credentials) (channel.SecureChannel, error) {
	ch, err := channel.Dial(ctx, channel.Config{
		Host:           device.Address,
		Port:           b.opts.Port,
		Credentials:    creds,
		Timeout:        b.opts.SSHTimeout,
		KnownHostsPath: b.opts.KnownHostsPath,
		Trust:          b.opts.Trust,
		Secrets:        b.opts.Secrets,
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}
