package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/p-n-ai/pai-quest/internal/platform/metrics"
	"github.com/p-n-ai/pai-quest/internal/snapshot"
)

const defaultSaveDebounce = 500 * time.Millisecond

// SaveStatus is the advisory persistence state surfaced to callers.
type SaveStatus struct {
	Pending     bool      `json:"pending"`
	LastSavedAt time.Time `json:"lastSavedAt,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	Saves       int       `json:"saves"`
	Skipped     int       `json:"skipped"`
	Failures    int       `json:"failures"`
}

// Saver coalesces snapshot saves with a trailing-edge debounce. Each save is
// a whole-snapshot overwrite, so a failed write is simply superseded by the
// next one and never retried.
type Saver struct {
	store    Store
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending *snapshot.Snapshot
	seq     uint64
	status  SaveStatus

	inflight int
	idle     *sync.Cond

	writeMu sync.Mutex
	written uint64
	lastSum [blake2b.Size256]byte
	haveSum bool
}

// NewSaver creates a saver writing to store. A zero debounce uses 500ms.
func NewSaver(store Store, debounce time.Duration) *Saver {
	if debounce <= 0 {
		debounce = defaultSaveDebounce
	}
	s := &Saver{store: store, debounce: debounce}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Schedule queues snap for saving once no further Schedule call arrives
// within the debounce window. It never blocks on the store.
func (s *Saver) Schedule(snap *snapshot.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.pending = snap
	s.status.Pending = true
	if s.timer != nil {
		s.timer.Stop()
	}
	seq := s.seq
	s.timer = time.AfterFunc(s.debounce, func() {
		s.fire(seq)
	})
}

func (s *Saver) fire(seq uint64) {
	snap, ok := s.take(seq)
	if !ok {
		return
	}
	defer s.done()
	s.write(context.Background(), snap, seq)
}

// take claims the pending snapshot if it is still the one for seq.
func (s *Saver) take(seq uint64) (*snapshot.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || (seq != 0 && seq != s.seq) {
		return nil, false
	}
	snap := s.pending
	s.pending = nil
	s.timer = nil
	s.inflight++
	return snap, true
}

func (s *Saver) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if s.inflight == 0 {
		s.idle.Broadcast()
	}
}

// Flush writes any pending snapshot immediately and waits for writes the
// debounce timer already started.
func (s *Saver) Flush(ctx context.Context) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	seq := s.seq
	s.mu.Unlock()

	if snap, ok := s.take(0); ok {
		s.write(ctx, snap, seq)
		s.done()
	}

	s.mu.Lock()
	for s.inflight > 0 {
		s.idle.Wait()
	}
	s.mu.Unlock()
}

// Status returns the current advisory save status.
func (s *Saver) Status() SaveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Saver) write(ctx context.Context, snap *snapshot.Snapshot, seq uint64) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if seq <= s.written {
		return
	}

	data, err := snapshot.Encode(snap)
	if err != nil {
		s.record(seq, err, false)
		return
	}
	sum := blake2b.Sum256(data)
	if s.haveSum && sum == s.lastSum {
		s.written = seq
		s.record(seq, nil, true)
		return
	}

	start := time.Now()
	err = s.store.Save(ctx, snap)
	metrics.SnapshotSaveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("snapshot save failed", "error", err)
		s.record(seq, err, false)
		return
	}

	s.written = seq
	s.lastSum = sum
	s.haveSum = true
	s.record(seq, nil, false)
	slog.Debug("snapshot saved", "bytes", len(data))
}

func (s *Saver) record(seq uint64, err error, skipped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.Pending = s.pending != nil || seq < s.seq
	switch {
	case err != nil:
		s.status.Failures++
		s.status.LastError = err.Error()
		metrics.SnapshotSaves.WithLabelValues("error").Inc()
	case skipped:
		s.status.Skipped++
		metrics.SnapshotSaves.WithLabelValues("skipped").Inc()
	default:
		s.status.Saves++
		s.status.LastSavedAt = time.Now()
		s.status.LastError = ""
		metrics.SnapshotSaves.WithLabelValues("ok").Inc()
	}
}
