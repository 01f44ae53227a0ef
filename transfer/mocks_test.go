package transfer

import (
	"bytes"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/deckbridge/bridgeerr"
	"github.com/opd-ai/deckbridge/channel"
)

// memChannel is an in-memory SecureChannel backed by a flat path map.
type memChannel struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	ops   []string

	// writeDelay slows each write so tests can cancel mid-transfer.
	writeDelay time.Duration
	// failWriteAfter makes the Nth write fail (0 disables).
	failWriteAfter int
	writes         int
}

func newMemChannel() *memChannel {
	return &memChannel{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/": true},
	}
}

func (m *memChannel) record(op string) {
	m.ops = append(m.ops, op)
}

func (m *memChannel) opLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ops))
	copy(out, m.ops)
	return out
}

func (m *memChannel) put(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = append([]byte(nil), data...)
}

func (m *memChannel) get(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (m *memChannel) ListDir(dir string) ([]channel.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list " + dir)
	prefix := strings.TrimSuffix(dir, "/") + "/"
	seen := make(map[string]channel.FileInfo)
	for p, data := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name := rest[:i]
			seen[name] = channel.FileInfo{Name: name, IsDir: true}
		} else {
			seen[rest] = channel.FileInfo{Name: rest, Size: int64(len(data))}
		}
	}
	for d := range m.dirs {
		if !strings.HasPrefix(d, prefix) || d == dir {
			continue
		}
		rest := strings.TrimPrefix(d, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		if rest != "" {
			seen[rest] = channel.FileInfo{Name: rest, IsDir: true}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]channel.FileInfo, len(names))
	for i, n := range names {
		out[i] = seen[n]
	}
	return out, nil
}

func (m *memChannel) Stat(p string) (channel.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stat " + p)
	if data, ok := m.files[p]; ok {
		return channel.FileInfo{Name: path.Base(p), Size: int64(len(data))}, nil
	}
	if m.dirs[p] {
		return channel.FileInfo{Name: path.Base(p), IsDir: true}, nil
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	for fp := range m.files {
		if strings.HasPrefix(fp, prefix) {
			return channel.FileInfo{Name: path.Base(p), IsDir: true}, nil
		}
	}
	return channel.FileInfo{}, bridgeerr.New(bridgeerr.KindPathNotFound, "Stat", p)
}

func (m *memChannel) OpenRead(p string, offset int64) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("read " + p)
	data, ok := m.files[p]
	if !ok {
		return nil, bridgeerr.New(bridgeerr.KindPathNotFound, "OpenRead", p)
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[offset:])), nil
}

func (m *memChannel) OpenWrite(p string, appendTo bool) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if appendTo {
		m.record("append " + p)
	} else {
		m.record("write " + p)
		m.files[p] = nil
	}
	if _, ok := m.files[p]; !ok {
		m.files[p] = nil
	}
	return &memWriter{ch: m, path: p}, nil
}

func (m *memChannel) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("rename " + oldPath + " " + newPath)
	data, ok := m.files[oldPath]
	if !ok {
		return bridgeerr.New(bridgeerr.KindPathNotFound, "Rename", oldPath)
	}
	m.files[newPath] = data
	delete(m.files, oldPath)
	return nil
}

func (m *memChannel) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("remove " + p)
	delete(m.files, p)
	return nil
}

func (m *memChannel) MkdirAll(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[p] = true
	return nil
}

func (m *memChannel) Exec(cmd string) (channel.ExecResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("exec " + cmd)
	return channel.ExecResult{}, nil
}

func (m *memChannel) Ping() error { return nil }

func (m *memChannel) Close() error { return nil }

// memWriter appends into the backing map under the channel lock.
type memWriter struct {
	ch   *memChannel
	path string
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.ch.writeDelay > 0 {
		time.Sleep(w.ch.writeDelay)
	}
	w.ch.mu.Lock()
	defer w.ch.mu.Unlock()
	w.ch.writes++
	if w.ch.failWriteAfter > 0 && w.ch.writes >= w.ch.failWriteAfter {
		return 0, errors.New("simulated write failure")
	}
	w.ch.files[w.path] = append(w.ch.files[w.path], p...)
	return len(p), nil
}

func (w *memWriter) Close() error { return nil }

// memProvider serializes access to a memChannel and gates readiness.
type memProvider struct {
	ch       *memChannel
	borrowMu sync.Mutex

	mu    sync.Mutex
	ready bool
}

func newMemProvider(ch *memChannel) *memProvider {
	return &memProvider{ch: ch, ready: true}
}

func (p *memProvider) setReady(ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = ready
}

func (p *memProvider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *memProvider) Borrow(fn func(channel.SecureChannel) error) error {
	if !p.Ready() {
		return bridgeerr.New(bridgeerr.KindHostUnreachable, "Borrow", "not connected")
	}
	p.borrowMu.Lock()
	defer p.borrowMu.Unlock()
	return fn(p.ch)
}

// terminalWaiter collects terminal callbacks for assertions.
type terminalWaiter struct {
	mu   sync.Mutex
	jobs []Job
}

func (w *terminalWaiter) collect(job Job) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobs = append(w.jobs, job)
}

func (w *terminalWaiter) wait(jobID string, timeout time.Duration) (Job, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		for _, j := range w.jobs {
			if j.ID == jobID {
				w.mu.Unlock()
				return j, true
			}
		}
		w.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return Job{}, false
}

func (w *terminalWaiter) all() []Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Job, len(w.jobs))
	copy(out, w.jobs)
	return out
}
