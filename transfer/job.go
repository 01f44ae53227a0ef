package transfer

import (
	"time"

	"github.com/opd-ai/deckbridge/bridgeerr"
)

// Direction indicates which way a job moves data.
type Direction int

const (
	// DirectionUpload moves a local file to the device.
	DirectionUpload Direction = iota
	// DirectionDownload moves a remote file to this machine.
	DirectionDownload
)

// String returns a human-readable direction name.
func (d Direction) String() string {
	switch d {
	case DirectionUpload:
		return "upload"
	case DirectionDownload:
		return "download"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a job.
type Status int

const (
	// StatusQueued means the job is waiting its turn.
	StatusQueued Status = iota
	// StatusActive means the job is currently moving bytes.
	StatusActive
	// StatusAwaitingDecision means the job is parked on an overwrite
	// prompt.
	StatusAwaitingDecision
	// StatusCompleted means the destination now holds the full content.
	StatusCompleted
	// StatusFailed means the job stopped on an error; partial progress
	// is preserved in the temporary file.
	StatusFailed
	// StatusCancelled means the job was cancelled by request; partial
	// progress is preserved in the temporary file.
	StatusCancelled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "QUEUED"
	case StatusActive:
		return "ACTIVE"
	case StatusAwaitingDecision:
		return "AWAITING_DECISION"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further state changes can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// OverwritePolicy controls what happens when the destination exists.
type OverwritePolicy int

const (
	// OverwriteAsk parks the job and requests a decision.
	OverwriteAsk OverwritePolicy = iota
	// OverwriteAllow replaces the destination without asking.
	OverwriteAllow
	// OverwriteDeny cancels the job if the destination exists.
	OverwriteDeny
)

// Spec describes a transfer to enqueue.
type Spec struct {
	Direction  Direction
	SourcePath string
	DestPath   string
	Overwrite  OverwritePolicy
}

// Job is an immutable snapshot of a transfer's state. Engine methods
// return copies; mutating a Job has no effect on the queue.
type Job struct {
	ID         string
	Direction  Direction
	SourcePath string
	DestPath   string
	Status     Status

	TotalBytes       int64
	BytesTransferred int64
	Speed            float64
	ETA              time.Duration

	// Kind and Message describe the failure for StatusFailed jobs.
	Kind    bridgeerr.Kind
	Message string

	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// jobState is the engine's mutable record behind each Job snapshot.
type jobState struct {
	Job
	policy   OverwritePolicy
	inDir    bool
	cancel   chan struct{}
	decision chan bool
}

func (j *jobState) snapshot() Job {
	return j.Job
}
