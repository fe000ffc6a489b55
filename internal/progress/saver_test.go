package progress_test

import (
	"context"
	"testing"
	"time"

	"github.com/p-n-ai/pai-quest/internal/progress"
	"github.com/p-n-ai/pai-quest/internal/snapshot"
)

func TestSaver_CoalescesBursts(t *testing.T) {
	store := progress.NewMemoryStore()
	saver := progress.NewSaver(store, 20*time.Millisecond)

	for i := 0; i < 5; i++ {
		snap := sampleSnapshot()
		snap.User.XP = 100 * (i + 1)
		saver.Schedule(snap)
	}

	deadline := time.Now().Add(2 * time.Second)
	for saver.Status().Saves == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := store.Saves(); got != 1 {
		t.Fatalf("Saves() = %d, want 1", got)
	}
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.User.XP != 500 {
		t.Errorf("saved XP = %d, want the last scheduled snapshot (500)", got.User.XP)
	}
	if status := saver.Status(); status.Pending || status.Saves != 1 {
		t.Errorf("Status() = %+v, want one save and nothing pending", status)
	}
}

func TestSaver_FlushWritesImmediately(t *testing.T) {
	store := progress.NewMemoryStore()
	saver := progress.NewSaver(store, time.Hour)

	saver.Schedule(sampleSnapshot())
	saver.Flush(context.Background())

	if got := store.Saves(); got != 1 {
		t.Fatalf("Saves() = %d, want 1", got)
	}

	// Nothing pending: flush is a no-op.
	saver.Flush(context.Background())
	if got := store.Saves(); got != 1 {
		t.Errorf("Saves() = %d after empty flush, want 1", got)
	}
}

func TestSaver_SkipsIdenticalSnapshots(t *testing.T) {
	store := progress.NewMemoryStore()
	saver := progress.NewSaver(store, time.Hour)

	saver.Schedule(sampleSnapshot())
	saver.Flush(context.Background())
	saver.Schedule(sampleSnapshot())
	saver.Flush(context.Background())

	if got := store.Saves(); got != 1 {
		t.Errorf("Saves() = %d, want 1", got)
	}
	if got := saver.Status().Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}
}

func TestSaver_FailureIsRecordedNotRetried(t *testing.T) {
	store := progress.NewMemoryStore()
	store.FailWith(context.DeadlineExceeded)
	saver := progress.NewSaver(store, time.Hour)

	saver.Schedule(sampleSnapshot())
	saver.Flush(context.Background())

	status := saver.Status()
	if status.Failures != 1 || status.LastError == "" {
		t.Fatalf("Status() = %+v, want one failure", status)
	}
	if status.Pending {
		t.Error("failed save should not stay pending")
	}

	store.FailWith(nil)
	saver.Flush(context.Background())
	if got := store.Saves(); got != 0 {
		t.Errorf("Saves() = %d, want no retry of the failed snapshot", got)
	}

	saver.Schedule(sampleSnapshot())
	saver.Flush(context.Background())
	if got := store.Saves(); got != 1 {
		t.Errorf("Saves() = %d, want the next snapshot to be written", got)
	}
	if got := saver.Status().LastError; got != "" {
		t.Errorf("LastError = %q, want cleared after success", got)
	}
}

// slowStore delays every save so a flush can overlap a running write.
type slowStore struct {
	*progress.MemoryStore
	delay time.Duration
}

func (s *slowStore) Save(ctx context.Context, snap *snapshot.Snapshot) error {
	time.Sleep(s.delay)
	return s.MemoryStore.Save(ctx, snap)
}

func TestSaver_FlushWaitsForRunningWrite(t *testing.T) {
	store := &slowStore{MemoryStore: progress.NewMemoryStore(), delay: 300 * time.Millisecond}
	saver := progress.NewSaver(store, 10*time.Millisecond)

	saver.Schedule(sampleSnapshot())
	time.Sleep(50 * time.Millisecond) // timer has fired, write is in progress

	saver.Flush(context.Background())

	if got := store.Saves(); got != 1 {
		t.Fatalf("Saves() = %d after Flush, want 1", got)
	}
	if status := saver.Status(); status.Pending || status.Saves != 1 {
		t.Errorf("Status() = %+v, want one save and nothing pending", status)
	}
}
