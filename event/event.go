package event

import (
	"time"

	"github.com/opd-ai/deckbridge/bridgeerr"
)

// Event is implemented by every value the bus carries.
type Event interface {
	// Component names the engine that produced the event:
	// "discovery", "connection", or "transfer".
	Component() string
}

// DeviceFound reports one device discovered during the current run.
type DeviceFound struct {
	Host         string
	Address      string
	ResponseTime time.Duration
	ViaMDNS      bool
}

// Component implements Event.
func (DeviceFound) Component() string { return "discovery" }

// DiscoveryComplete reports the end of a discovery run.
type DiscoveryComplete struct {
	Found int
}

// Component implements Event.
func (DiscoveryComplete) Component() string { return "discovery" }

// DiscoveryError reports a run-level discovery failure, such as no
// usable local network interface. Absence of devices is not an error.
type DiscoveryError struct {
	Kind    bridgeerr.Kind
	Message string
}

// Component implements Event.
func (DiscoveryError) Component() string { return "discovery" }

// StateChanged reports a connection state transition.
type StateChanged struct {
	Old    string
	New    string
	Reason string
}

// Component implements Event.
func (StateChanged) Component() string { return "connection" }

// JobQueued reports a transfer job accepted into the queue.
type JobQueued struct {
	JobID      string
	SourcePath string
	DestPath   string
	TotalBytes int64
}

// Component implements Event.
func (JobQueued) Component() string { return "transfer" }

// JobProgress reports chunk-granularity progress for the active job.
// Speed is bytes per second from a sliding window; ETA is zero when
// total size or speed is unknown (indeterminate).
type JobProgress struct {
	JobID            string
	BytesTransferred int64
	TotalBytes       int64
	Speed            float64
	ETA              time.Duration
}

// Component implements Event.
func (JobProgress) Component() string { return "transfer" }

// JobTerminal is always the last event for a job.
type JobTerminal struct {
	JobID  string
	Status string
	Kind   bridgeerr.Kind
}

// Component implements Event.
func (JobTerminal) Component() string { return "transfer" }

// OverwriteDecisionNeeded asks the caller whether the existing
// destination may be replaced. The job is suspended until answered.
type OverwriteDecisionNeeded struct {
	JobID string
	Path  string
}

// Component implements Event.
func (OverwriteDecisionNeeded) Component() string { return "transfer" }
