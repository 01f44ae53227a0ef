// Package transfer implements the resumable file transfer queue.
//
// # Overview
//
// Jobs are enqueued with a direction (upload or download), a source
// path, a destination path, and an overwrite policy, then executed
// strictly one at a time by a single worker. At most one job is ever
// ACTIVE; the rest wait in FIFO order. A job queued while the channel
// is down simply waits and starts once a channel becomes available.
//
// # Resumption
//
// Every transfer writes to a temporary sibling of the destination
// (destination plus ".tmp"). On success the temporary file is renamed
// over the destination in one step, so the destination path only ever
// holds complete content. On failure or cancellation the temporary
// file is left in place, and the next attempt for the same destination
// resumes from its size instead of starting over.
//
// # Overwrite decisions
//
// When the destination already exists and the job's policy is
// OverwriteAsk, the job parks in StatusAwaitingDecision and the
// OnOverwriteDecision callback fires. AnswerOverwrite resolves the
// job; cancelling or closing the engine while a decision is pending
// resolves it as CANCELLED.
//
// # Example
//
//	eng := transfer.NewEngine(transfer.Config{Provider: mgr})
//	eng.OnTerminal(func(job transfer.Job) {
//		log.Printf("%s finished: %s", job.ID, job.Status)
//	})
//	job, err := eng.Enqueue(transfer.Spec{
//		Direction:  transfer.DirectionUpload,
//		SourcePath: "/home/user/game.iso",
//		DestPath:   "/home/deck/Downloads/game.iso",
//	})
package transfer
