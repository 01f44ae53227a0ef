package transfer

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/deckbridge/bridgeerr"
	"github.com/opd-ai/deckbridge/channel"
	"github.com/opd-ai/deckbridge/pathutil"
)

// DefaultChunkSize is the copy buffer size per borrowed channel call.
const DefaultChunkSize = 256 * 1024

// defaultPollInterval is how often a waiting job re-checks channel
// readiness.
const defaultPollInterval = 200 * time.Millisecond

// ErrUnknownJob indicates the job ID is not tracked by the engine.
var ErrUnknownJob = errors.New("unknown job")

// ErrNoDecisionPending indicates AnswerOverwrite was called for a job
// that is not awaiting one.
var ErrNoDecisionPending = errors.New("no overwrite decision pending")

var (
	errCancelled = errors.New("transfer cancelled")
	errDeclined  = errors.New("destination exists")
)

// ChannelProvider supplies serialized access to the active channel.
// connection.Manager satisfies it.
type ChannelProvider interface {
	Borrow(fn func(channel.SecureChannel) error) error
	Ready() bool
}

// Config tunes an Engine.
type Config struct {
	Provider     ChannelProvider
	ChunkSize    int
	PollInterval time.Duration
	Time         TimeProvider
}

func (c *Config) applyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Time == nil {
		c.Time = DefaultTimeProvider{}
	}
}

// Engine runs the transfer queue. One worker executes jobs in FIFO
// order; all public methods are safe for concurrent use.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	queue   []*jobState
	active  *jobState
	history []*jobState
	byID    map[string]*jobState

	cbMu       sync.Mutex
	onQueued   func(Job)
	onProgress func(Job)
	onTerminal func(Job)
	onDecision func(jobID, destPath string)

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewEngine creates an engine and starts its worker.
func NewEngine(cfg Config) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:  cfg,
		byID: make(map[string]*jobState),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go e.worker()
	return e
}

// OnJobQueued registers a callback fired when a job enters the queue.
func (e *Engine) OnJobQueued(fn func(Job)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onQueued = fn
}

// OnProgress registers a callback fired as bytes move. Callbacks run
// on the worker goroutine and must not block.
func (e *Engine) OnProgress(fn func(Job)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onProgress = fn
}

// OnTerminal registers a callback fired when a job reaches a terminal
// status.
func (e *Engine) OnTerminal(fn func(Job)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onTerminal = fn
}

// OnOverwriteDecision registers a callback fired when a job needs an
// overwrite decision. Resolve it with AnswerOverwrite.
func (e *Engine) OnOverwriteDecision(fn func(jobID, destPath string)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onDecision = fn
}

// Enqueue validates spec and adds a job to the queue. The remote path
// is validated here, before any I/O; for uploads the local source must
// exist.
func (e *Engine) Enqueue(spec Spec) (Job, error) {
	var remote string
	if spec.Direction == DirectionUpload {
		remote = spec.DestPath
	} else {
		remote = spec.SourcePath
	}
	if err := pathutil.ValidateRemotePath(remote); err != nil {
		return Job{}, err
	}

	var total int64
	if spec.Direction == DirectionUpload {
		fi, err := os.Stat(spec.SourcePath)
		if err != nil {
			return Job{}, bridgeerr.Wrap(bridgeerr.KindPathNotFound, "Enqueue", err)
		}
		if !fi.IsDir() {
			total = fi.Size()
		}
	}

	j := &jobState{
		Job: Job{
			ID:         uuid.New().String(),
			Direction:  spec.Direction,
			SourcePath: spec.SourcePath,
			DestPath:   spec.DestPath,
			Status:     StatusQueued,
			TotalBytes: total,
			EnqueuedAt: e.cfg.Time.Now(),
		},
		policy:   spec.Overwrite,
		cancel:   make(chan struct{}),
		decision: make(chan bool, 1),
	}

	e.mu.Lock()
	e.queue = append(e.queue, j)
	e.byID[j.ID] = j
	snap := j.snapshot()
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Enqueue",
		"job":       j.ID,
		"direction": spec.Direction.String(),
		"source":    spec.SourcePath,
		"dest":      spec.DestPath,
	}).Info("Job queued")

	e.fire(e.queuedCb(), snap)
	e.signal()
	return snap, nil
}

// Cancel requests cancellation of a queued or active job. Cancelling a
// job that already finished is a no-op.
func (e *Engine) Cancel(jobID string) error {
	e.mu.Lock()
	j, ok := e.byID[jobID]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownJob
	}
	if j.Status.Terminal() {
		e.mu.Unlock()
		return nil
	}
	if e.active != j {
		// Still in the queue: the worker never saw it, finalize here.
		e.removeQueuedLocked(j)
		e.finalizeLocked(j, StatusCancelled, bridgeerr.KindCancelled, "cancelled while queued")
		snap := j.snapshot()
		e.mu.Unlock()
		e.fire(e.terminalCb(), snap)
		return nil
	}
	// The worker owns it: it observes the cancel channel at the next
	// chunk boundary or wait point.
	select {
	case <-j.cancel:
	default:
		close(j.cancel)
	}
	e.mu.Unlock()
	return nil
}

// CancelAll cancels every queued and active job.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.queue)+1)
	for _, j := range e.queue {
		ids = append(ids, j.ID)
	}
	if e.active != nil {
		ids = append(ids, e.active.ID)
	}
	e.mu.Unlock()
	for _, id := range ids {
		_ = e.Cancel(id)
	}
}

// AnswerOverwrite resolves a pending overwrite decision.
func (e *Engine) AnswerOverwrite(jobID string, allow bool) error {
	e.mu.Lock()
	j, ok := e.byID[jobID]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownJob
	}
	if j.Status != StatusAwaitingDecision {
		e.mu.Unlock()
		return ErrNoDecisionPending
	}
	e.mu.Unlock()

	select {
	case j.decision <- allow:
		return nil
	default:
		return ErrNoDecisionPending
	}
}

// Jobs returns snapshots of the active job followed by the queue.
func (e *Engine) Jobs() []Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Job, 0, len(e.queue)+1)
	if e.active != nil {
		out = append(out, e.active.snapshot())
	}
	for _, j := range e.queue {
		out = append(out, j.snapshot())
	}
	return out
}

// History returns terminal jobs, oldest first.
func (e *Engine) History() []Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Job, len(e.history))
	for i, j := range e.history {
		out[i] = j.snapshot()
	}
	return out
}

// ClearHistory drops all terminal jobs.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range e.history {
		delete(e.byID, j.ID)
	}
	e.history = nil
}

// Close stops the worker. The active job is cancelled at its next
// chunk boundary; queued jobs finish as CANCELLED.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.quit) })
	<-e.done

	e.mu.Lock()
	pending := e.queue
	e.queue = nil
	var snaps []Job
	for _, j := range pending {
		e.finalizeLocked(j, StatusCancelled, bridgeerr.KindCancelled, "engine closed")
		snaps = append(snaps, j.snapshot())
	}
	e.mu.Unlock()
	for _, s := range snaps {
		e.fire(e.terminalCb(), s)
	}
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) queuedCb() func(Job) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	return e.onQueued
}

func (e *Engine) progressCb() func(Job) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	return e.onProgress
}

func (e *Engine) terminalCb() func(Job) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	return e.onTerminal
}

func (e *Engine) decisionCb() func(string, string) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	return e.onDecision
}

func (e *Engine) fire(fn func(Job), job Job) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "fire",
				"job":      job.ID,
				"panic":    r,
			}).Error("Panic in transfer callback")
		}
	}()
	fn(job)
}

// worker is the single queue executor.
func (e *Engine) worker() {
	defer close(e.done)
	for {
		j := e.next()
		if j == nil {
			return
		}
		if !e.waitReady(j) {
			continue
		}
		e.run(j)
	}
}

// next blocks until a job is available or the engine quits.
func (e *Engine) next() *jobState {
	for {
		e.mu.Lock()
		if len(e.queue) > 0 {
			j := e.queue[0]
			e.queue = e.queue[1:]
			e.active = j
			e.mu.Unlock()
			return j
		}
		e.mu.Unlock()
		select {
		case <-e.quit:
			return nil
		case <-e.wake:
		}
	}
}

// waitReady parks the job until a channel is available. Returns false
// if the job was finalized while waiting.
func (e *Engine) waitReady(j *jobState) bool {
	for !e.cfg.Provider.Ready() {
		select {
		case <-e.quit:
			e.terminate(j, StatusCancelled, bridgeerr.KindCancelled, "engine closed")
			return false
		case <-j.cancel:
			e.terminate(j, StatusCancelled, bridgeerr.KindCancelled, "cancelled while waiting for connection")
			return false
		case <-time.After(e.cfg.PollInterval):
		}
	}
	return true
}

// run executes one job end to end.
func (e *Engine) run(j *jobState) {
	e.mu.Lock()
	j.Status = StatusActive
	j.StartedAt = e.cfg.Time.Now()
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "run",
		"job":       j.ID,
		"direction": j.Direction.String(),
	}).Info("Job started")

	var err error
	switch j.Direction {
	case DirectionUpload:
		err = e.runUpload(j)
	case DirectionDownload:
		err = e.runDownload(j)
	default:
		err = bridgeerr.New(bridgeerr.KindUnknown, "run", "invalid direction")
	}

	switch {
	case err == nil:
		e.terminate(j, StatusCompleted, bridgeerr.KindUnknown, "")
	case errors.Is(err, errCancelled):
		e.terminate(j, StatusCancelled, bridgeerr.KindCancelled, "cancelled")
	case errors.Is(err, errDeclined):
		e.terminate(j, StatusCancelled, bridgeerr.KindCancelled, errDeclined.Error())
	default:
		e.terminate(j, StatusFailed, bridgeerr.KindOf(err), err.Error())
	}
}

// terminate finalizes a job and fires the terminal callback.
func (e *Engine) terminate(j *jobState, status Status, kind bridgeerr.Kind, msg string) {
	e.mu.Lock()
	e.finalizeLocked(j, status, kind, msg)
	if e.active == j {
		e.active = nil
	}
	snap := j.snapshot()
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "terminate",
		"job":         j.ID,
		"status":      status.String(),
		"transferred": pathutil.HumanSize(snap.BytesTransferred),
		"message":     msg,
	}).Info("Job finished")

	e.fire(e.terminalCb(), snap)
}

func (e *Engine) finalizeLocked(j *jobState, status Status, kind bridgeerr.Kind, msg string) {
	if j.Status.Terminal() {
		return
	}
	j.Status = status
	j.FinishedAt = e.cfg.Time.Now()
	if status == StatusFailed || status == StatusCancelled {
		j.Kind = kind
		j.Message = msg
	}
	e.history = append(e.history, j)
}

func (e *Engine) removeQueuedLocked(target *jobState) {
	for i, j := range e.queue {
		if j == target {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

// checkCancelled reports job or engine cancellation. Called at every
// chunk boundary.
func (e *Engine) checkCancelled(j *jobState) error {
	select {
	case <-j.cancel:
		return errCancelled
	case <-e.quit:
		return errCancelled
	default:
		return nil
	}
}

// resolveOverwrite applies the job's policy against an existing
// destination. Returns errDeclined when the transfer should not
// replace it.
func (e *Engine) resolveOverwrite(j *jobState, destPath string) error {
	switch j.policy {
	case OverwriteAllow:
		return nil
	case OverwriteDeny:
		return errDeclined
	}

	e.mu.Lock()
	j.Status = StatusAwaitingDecision
	e.mu.Unlock()
	e.fireDecision(j.ID, destPath)

	logrus.WithFields(logrus.Fields{
		"function": "resolveOverwrite",
		"job":      j.ID,
		"dest":     destPath,
	}).Info("Awaiting overwrite decision")

	var allow bool
	select {
	case allow = <-j.decision:
	case <-j.cancel:
		return errCancelled
	case <-e.quit:
		return errCancelled
	}

	e.mu.Lock()
	j.Status = StatusActive
	e.mu.Unlock()
	if !allow {
		return errDeclined
	}
	return nil
}

func (e *Engine) fireDecision(jobID, destPath string) {
	fn := e.decisionCb()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "fireDecision",
				"job":      jobID,
				"panic":    r,
			}).Error("Panic in overwrite decision callback")
		}
	}()
	fn(jobID, destPath)
}

// progress updates the job's counters and fires the progress callback.
func (e *Engine) progress(j *jobState, meter *rateMeter, transferred int64) {
	meter.add(transferred)
	e.mu.Lock()
	j.BytesTransferred = transferred
	j.Speed = meter.rate()
	j.ETA = meter.eta(transferred, j.TotalBytes)
	snap := j.snapshot()
	e.mu.Unlock()
	e.fire(e.progressCb(), snap)
}

// runUpload moves a local file or directory tree to the device.
func (e *Engine) runUpload(j *jobState) error {
	fi, err := os.Stat(j.SourcePath)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindPathNotFound, "runUpload", err)
	}
	if !fi.IsDir() {
		return e.uploadFile(j, j.SourcePath, j.DestPath, newRateMeter(e.cfg.Time), 0)
	}

	files, total, err := collectLocal(j.SourcePath)
	if err != nil {
		return err
	}
	e.mu.Lock()
	j.TotalBytes = total
	e.mu.Unlock()

	if err := e.resolveDirOverwrite(j, j.DestPath, true); err != nil {
		return err
	}

	meter := newRateMeter(e.cfg.Time)
	var done int64
	for _, lf := range files {
		src := filepath.Join(j.SourcePath, filepath.FromSlash(lf.rel))
		dst := pathutil.PosixJoin(j.DestPath, lf.rel)
		if err := e.uploadFile(j, src, dst, meter, done); err != nil {
			return err
		}
		done += lf.size
	}
	return nil
}

// uploadFile copies one local file to a remote path, resuming from the
// temporary file if one is present. base is the byte count already
// attributed to earlier files of the same job.
func (e *Engine) uploadFile(j *jobState, src, dst string, meter *rateMeter, base int64) error {
	sfi, err := os.Stat(src)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindPathNotFound, "uploadFile", err)
	}
	size := sfi.Size()

	exists := false
	err = e.cfg.Provider.Borrow(func(ch channel.SecureChannel) error {
		if _, statErr := ch.Stat(dst); statErr == nil {
			exists = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if exists && base == 0 {
		// Directory jobs resolve overwrite once at the root.
		if !j.inDir {
			if err := e.resolveOverwrite(j, dst); err != nil {
				return err
			}
		}
	}

	tmp := pathutil.TempPath(dst)
	var offset int64
	err = e.cfg.Provider.Borrow(func(ch channel.SecureChannel) error {
		if tfi, statErr := ch.Stat(tmp); statErr == nil && tfi.Size > 0 && tfi.Size < size {
			offset = tfi.Size
		}
		return nil
	})
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.Classify(err), "uploadFile", err)
	}
	defer f.Close()
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return bridgeerr.Wrap(bridgeerr.KindIOFailure, "uploadFile", err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "uploadFile",
			"job":      j.ID,
			"dest":     dst,
			"offset":   offset,
		}).Info("Resuming partial upload")
	}

	var w io.WriteCloser
	err = e.cfg.Provider.Borrow(func(ch channel.SecureChannel) error {
		if mkErr := ch.MkdirAll(path.Dir(dst)); mkErr != nil {
			return mkErr
		}
		var openErr error
		w, openErr = ch.OpenWrite(tmp, offset > 0)
		return openErr
	})
	if err != nil {
		return err
	}

	transferred := offset
	buf := make([]byte, e.cfg.ChunkSize)
	for {
		if cerr := e.checkCancelled(j); cerr != nil {
			e.closeRemote(w)
			return cerr
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			werr := e.cfg.Provider.Borrow(func(ch channel.SecureChannel) error {
				_, wErr := w.Write(buf[:n])
				return wErr
			})
			if werr != nil {
				e.closeRemote(w)
				return bridgeerr.Wrap(bridgeerr.Classify(werr), "uploadFile", werr)
			}
			transferred += int64(n)
			e.progress(j, meter, base+transferred)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			e.closeRemote(w)
			return bridgeerr.Wrap(bridgeerr.KindIOFailure, "uploadFile", rerr)
		}
	}

	// Publish: close the handle, then rename over the destination.
	return e.cfg.Provider.Borrow(func(ch channel.SecureChannel) error {
		if cErr := w.Close(); cErr != nil {
			return bridgeerr.Wrap(bridgeerr.Classify(cErr), "uploadFile", cErr)
		}
		if rErr := ch.Rename(tmp, dst); rErr != nil {
			return rErr
		}
		return nil
	})
}

// runDownload moves a remote file or directory tree to this machine.
func (e *Engine) runDownload(j *jobState) error {
	var fi channel.FileInfo
	err := e.cfg.Provider.Borrow(func(ch channel.SecureChannel) error {
		var statErr error
		fi, statErr = ch.Stat(j.SourcePath)
		return statErr
	})
	if err != nil {
		return err
	}

	if !fi.IsDir {
		e.mu.Lock()
		j.TotalBytes = fi.Size
		e.mu.Unlock()
		return e.downloadFile(j, j.SourcePath, j.DestPath, fi.Size, newRateMeter(e.cfg.Time), 0)
	}

	files, total, err := e.collectRemote(j.SourcePath)
	if err != nil {
		return err
	}
	e.mu.Lock()
	j.TotalBytes = total
	e.mu.Unlock()

	if err := e.resolveDirOverwrite(j, j.DestPath, false); err != nil {
		return err
	}

	meter := newRateMeter(e.cfg.Time)
	var done int64
	for _, rf := range files {
		src := pathutil.PosixJoin(j.SourcePath, rf.rel)
		dst := filepath.Join(j.DestPath, filepath.FromSlash(rf.rel))
		if err := e.downloadFile(j, src, dst, rf.size, meter, done); err != nil {
			return err
		}
		done += rf.size
	}
	return nil
}

// downloadFile copies one remote file to a local path, resuming from
// the local temporary file if present.
func (e *Engine) downloadFile(j *jobState, src, dst string, size int64, meter *rateMeter, base int64) error {
	if _, statErr := os.Stat(dst); statErr == nil && base == 0 && !j.inDir {
		if err := e.resolveOverwrite(j, dst); err != nil {
			return err
		}
	}

	tmp := pathutil.TempPath(dst)
	var offset int64
	if tfi, statErr := os.Stat(tmp); statErr == nil && tfi.Size() > 0 && tfi.Size() < size {
		offset = tfi.Size()
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindIOFailure, "downloadFile", err)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if offset > 0 {
		flags |= os.O_APPEND
		logrus.WithFields(logrus.Fields{
			"function": "downloadFile",
			"job":      j.ID,
			"dest":     dst,
			"offset":   offset,
		}).Info("Resuming partial download")
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(tmp, flags, 0o644)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.Classify(err), "downloadFile", err)
	}

	var r io.ReadCloser
	err = e.cfg.Provider.Borrow(func(ch channel.SecureChannel) error {
		var openErr error
		r, openErr = ch.OpenRead(src, offset)
		return openErr
	})
	if err != nil {
		out.Close()
		return err
	}

	transferred := offset
	buf := make([]byte, e.cfg.ChunkSize)
	for {
		if cerr := e.checkCancelled(j); cerr != nil {
			e.closeRemote(r)
			out.Close()
			return cerr
		}
		var n int
		var rerr error
		berr := e.cfg.Provider.Borrow(func(ch channel.SecureChannel) error {
			n, rerr = r.Read(buf)
			return nil
		})
		if berr != nil {
			e.closeRemote(r)
			out.Close()
			return berr
		}
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				e.closeRemote(r)
				out.Close()
				return bridgeerr.Wrap(bridgeerr.KindIOFailure, "downloadFile", werr)
			}
			transferred += int64(n)
			e.progress(j, meter, base+transferred)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			e.closeRemote(r)
			out.Close()
			return bridgeerr.Wrap(bridgeerr.Classify(rerr), "downloadFile", rerr)
		}
	}
	e.closeRemote(r)

	if err := out.Close(); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindIOFailure, "downloadFile", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindIOFailure, "downloadFile", err)
	}
	return nil
}

// resolveDirOverwrite applies the policy once at a directory job's
// destination root, then marks the job so per-file checks are skipped.
func (e *Engine) resolveDirOverwrite(j *jobState, destRoot string, remote bool) error {
	exists := false
	if remote {
		err := e.cfg.Provider.Borrow(func(ch channel.SecureChannel) error {
			if _, statErr := ch.Stat(destRoot); statErr == nil {
				exists = true
			}
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if _, statErr := os.Stat(destRoot); statErr == nil {
			exists = true
		}
	}
	if exists {
		if err := e.resolveOverwrite(j, destRoot); err != nil {
			return err
		}
	}
	j.inDir = true
	return nil
}

// closeRemote closes a remote handle through the provider so the close
// round-trip is serialized like any other channel call.
func (e *Engine) closeRemote(c io.Closer) {
	_ = e.cfg.Provider.Borrow(func(ch channel.SecureChannel) error {
		return c.Close()
	})
}

type remoteFile struct {
	rel  string
	size int64
}

type localFile struct {
	rel  string
	size int64
}

// collectLocal walks a local directory, returning slash-separated
// relative file paths with their sizes and the total byte count. The
// sizes drive per-job progress, so the walk is the single point of
// measurement for the whole job.
func collectLocal(root string) ([]localFile, int64, error) {
	var files []localFile
	var total int64
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		files = append(files, localFile{rel: filepath.ToSlash(rel), size: info.Size()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, bridgeerr.Wrap(bridgeerr.KindIOFailure, "collectLocal", err)
	}
	return files, total, nil
}

// collectRemote walks a remote directory tree through the channel.
func (e *Engine) collectRemote(root string) ([]remoteFile, int64, error) {
	var files []remoteFile
	var total int64

	var walk func(dir, rel string) error
	walk = func(dir, rel string) error {
		var entries []channel.FileInfo
		err := e.cfg.Provider.Borrow(func(ch channel.SecureChannel) error {
			var listErr error
			entries, listErr = ch.ListDir(dir)
			return listErr
		})
		if err != nil {
			return err
		}
		for _, entry := range entries {
			childRel := entry.Name
			if rel != "" {
				childRel = rel + "/" + entry.Name
			}
			if entry.IsDir {
				if err := walk(pathutil.PosixJoin(dir, entry.Name), childRel); err != nil {
					return err
				}
				continue
			}
			files = append(files, remoteFile{rel: childRel, size: entry.Size})
			total += entry.Size
		}
		return nil
	}
	if err := walk(root, ""); err != nil {
		return nil, 0, err
	}
	return files, total, nil
}
