package discovery

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/opd-ai/deckbridge/bridgeerr"
)

// Source records which discovery path produced a device.
type Source uint8

const (
	// SourceScan marks a device found by the subnet port scan.
	SourceScan Source = iota
	// SourceMDNS marks a device found via mDNS (direct name probe or
	// service browse).
	SourceMDNS
)

// Device is one network endpoint answering on the protocol port.
// Address uniquely identifies a device within a discovery run.
type Device struct {
	Host         string
	Address      string
	ResponseTime time.Duration
	Via          Source
}

// Prober connects to address (host:port) and returns the measured
// latency. Failure means "nothing there", which is the expected outcome
// for most subnet addresses.
type Prober func(ctx context.Context, address string) (time.Duration, error)

// Browser runs an mDNS service browse until ctx is done, calling found
// for each responding instance.
type Browser func(ctx context.Context, service string, found func(host, address string)) error

// Resolver resolves a host name to an IP address string.
type Resolver func(ctx context.Context, host string) (string, error)

// Config tunes a discovery engine. Zero values select the defaults
// below; the injectable functions exist for tests.
type Config struct {
	// Port is the single fixed port probed. No other port is ever
	// contacted by this engine.
	Port int

	// DirectHost is the well-known device name probed on the fast path.
	DirectHost string

	// Service is the mDNS service type browsed.
	Service string

	// ProbeTimeout bounds one subnet probe.
	ProbeTimeout time.Duration

	// DirectTimeout bounds the direct-name path and the mDNS browse
	// window.
	DirectTimeout time.Duration

	// MaxProbes caps concurrent subnet probes.
	MaxProbes int64

	Prober  Prober
	Browser Browser
	Resolve Resolver

	// LocalIP determines the local interface address the subnet is
	// derived from.
	LocalIP func() (net.IP, error)
}

const (
	defaultPort          = 22
	defaultDirectHost    = "steamdeck.local"
	defaultService       = "_sftp-ssh._tcp"
	defaultProbeTimeout  = time.Second
	defaultDirectTimeout = 2 * time.Second
	defaultMaxProbes     = 50
)

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DirectHost == "" {
		c.DirectHost = defaultDirectHost
	}
	if c.Service == "" {
		c.Service = defaultService
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.DirectTimeout == 0 {
		c.DirectTimeout = defaultDirectTimeout
	}
	if c.MaxProbes == 0 {
		c.MaxProbes = defaultMaxProbes
	}
	if c.Prober == nil {
		c.Prober = tcpProbe(c.ProbeTimeout)
	}
	if c.Browser == nil {
		c.Browser = zeroconfBrowse
	}
	if c.Resolve == nil {
		c.Resolve = resolveHost
	}
	if c.LocalIP == nil {
		c.LocalIP = outboundIP
	}
}

// Engine runs discovery. One run at a time; results stream through the
// registered callbacks from worker goroutines.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	found   map[string]Source
	count   int

	onDevice   func(Device)
	onComplete func(found int)
	onError    func(error)
}

// New creates a discovery engine.
func New(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{cfg: cfg}
}

// OnDeviceFound registers the per-device callback. Called from worker
// goroutines; the callback must not block.
func (e *Engine) OnDeviceFound(fn func(Device)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDevice = fn
}

// OnComplete registers the end-of-run callback. It is not invoked for
// cancelled runs.
func (e *Engine) OnComplete(fn func(found int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onComplete = fn
}

// OnError registers the run-level error callback. Zero results is not
// an error; an unresolvable local interface is.
func (e *Engine) OnError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = fn
}

// Start begins a discovery run. It returns immediately; results arrive
// via callbacks. Starting while a run is active is an error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return bridgeerr.New(bridgeerr.KindIOFailure, "Start", "discovery already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	e.found = make(map[string]Source)
	e.count = 0

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"port":     e.cfg.Port,
	}).Info("Discovery started")

	go e.run(runCtx)
	return nil
}

// Cancel aborts the current run. Outstanding probes are abandoned; the
// run winds down within one probe timeout. Safe to call when idle.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done returns a channel closed when the current run has finished. A
// nil receiver channel is returned when no run was ever started.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func (e *Engine) run(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		done := e.done
		e.mu.Unlock()
		close(done)
	}()

	start := time.Now()
	var wg sync.WaitGroup

	// The direct-name path and the mDNS browse share one bounded
	// window and run concurrently with the subnet scan.
	mdnsCtx, mdnsCancel := context.WithTimeout(ctx, e.cfg.DirectTimeout)
	defer mdnsCancel()

	wg.Add(3)
	go func() {
		defer wg.Done()
		e.probeDirectName(mdnsCtx)
	}()
	go func() {
		defer wg.Done()
		e.browseMDNS(mdnsCtx, start)
	}()
	go func() {
		defer wg.Done()
		e.scanSubnet(ctx)
	}()
	wg.Wait()

	if ctx.Err() != nil {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"found":    e.foundCount(),
		}).Info("Discovery cancelled")
		return
	}

	found := e.foundCount()
	logrus.WithFields(logrus.Fields{
		"function": "run",
		"found":    found,
		"elapsed":  time.Since(start),
	}).Info("Discovery complete")

	e.mu.Lock()
	complete := e.onComplete
	e.mu.Unlock()
	if complete != nil {
		complete(found)
	}
}

func (e *Engine) foundCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// emit records and publishes a device, de-duplicating by address.
// First claim per address wins, with one exception: an mDNS result for
// an address the scan already published re-emits the device carrying
// the mDNS name, so subscribers end up with the preferred identity.
// The address still counts once per run.
func (e *Engine) emit(dev Device) {
	e.mu.Lock()
	if prior, seen := e.found[dev.Address]; seen {
		if prior != SourceScan || dev.Via != SourceMDNS {
			e.mu.Unlock()
			return
		}
		e.found[dev.Address] = SourceMDNS
		onDevice := e.onDevice
		e.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "emit",
			"host":     dev.Host,
			"address":  dev.Address,
		}).Debug("Device name upgraded via mDNS")

		if onDevice != nil {
			onDevice(dev)
		}
		return
	}
	e.found[dev.Address] = dev.Via
	e.count++
	onDevice := e.onDevice
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "emit",
		"host":        dev.Host,
		"address":     dev.Address,
		"response_ms": dev.ResponseTime.Milliseconds(),
		"via_mdns":    dev.Via == SourceMDNS,
	}).Debug("Device found")

	if onDevice != nil {
		onDevice(dev)
	}
}

func (e *Engine) emitError(err error) {
	e.mu.Lock()
	onError := e.onError
	e.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

// probeDirectName resolves the well-known device name and probes the
// protocol port. Failure is silent: absence of the name is expected on
// most networks.
func (e *Engine) probeDirectName(ctx context.Context) {
	ip, err := e.cfg.Resolve(ctx, e.cfg.DirectHost)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "probeDirectName",
			"host":     e.cfg.DirectHost,
			"error":    err.Error(),
		}).Debug("Direct name did not resolve")
		return
	}
	latency, err := e.cfg.Prober(ctx, net.JoinHostPort(ip, strconv.Itoa(e.cfg.Port)))
	if err != nil {
		return
	}
	e.emit(Device{Host: e.cfg.DirectHost, Address: ip, ResponseTime: latency, Via: SourceMDNS})
}

// browseMDNS runs the service browse for the mDNS window.
func (e *Engine) browseMDNS(ctx context.Context, start time.Time) {
	err := e.cfg.Browser(ctx, e.cfg.Service, func(host, address string) {
		e.emit(Device{
			Host:         host,
			Address:      address,
			ResponseTime: time.Since(start),
			Via:          SourceMDNS,
		})
	})
	if err != nil && ctx.Err() == nil {
		logrus.WithFields(logrus.Fields{
			"function": "browseMDNS",
			"service":  e.cfg.Service,
			"error":    err.Error(),
		}).Debug("mDNS browse unavailable")
	}
}

// scanSubnet probes every host of the local /24 on the protocol port,
// at most MaxProbes in flight.
func (e *Engine) scanSubnet(ctx context.Context) {
	localIP, err := e.cfg.LocalIP()
	if err != nil {
		e.emitError(bridgeerr.Wrap(bridgeerr.KindHostUnreachable, "scanSubnet", err))
		return
	}
	v4 := localIP.To4()
	if v4 == nil {
		e.emitError(bridgeerr.New(bridgeerr.KindHostUnreachable, "scanSubnet",
			"no usable IPv4 interface"))
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "scanSubnet",
		"subnet":   net.IPv4(v4[0], v4[1], v4[2], 0).String() + "/24",
	}).Info("Starting subnet scan")

	sem := semaphore.NewWeighted(e.cfg.MaxProbes)
	var wg sync.WaitGroup
	for octet := 1; octet <= 254; octet++ {
		if ctx.Err() != nil {
			break
		}
		ip := net.IPv4(v4[0], v4[1], v4[2], byte(octet)).String()
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			defer sem.Release(1)
			addr := net.JoinHostPort(ip, strconv.Itoa(e.cfg.Port))
			latency, err := e.cfg.Prober(ctx, addr)
			if err != nil {
				return
			}
			e.emit(Device{Host: ip, Address: ip, ResponseTime: latency, Via: SourceScan})
		}(ip)
	}
	wg.Wait()
}
