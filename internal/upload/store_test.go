package upload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(nil, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func putString(t *testing.T, store *Store, uploadID string, index, total int, content string) Progress {
	t.Helper()
	progress, err := store.PutChunk(uploadID, "owner-1", index, total, Metadata{}, strings.NewReader(content))
	if err != nil {
		t.Fatalf("PutChunk(%d): %v", index, err)
	}
	return progress
}

func TestAssemblyOrderIndependentOfArrival(t *testing.T) {
	store := newTestStore(t)

	putString(t, store, "u1", 2, 3, "C")
	putString(t, store, "u1", 0, 3, "A")
	progress := putString(t, store, "u1", 1, 3, "B")

	if !progress.Complete {
		t.Fatalf("expected final chunk to complete the session, got %+v", progress)
	}

	path, err := store.Assemble("u1")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read assembled file: %v", err)
	}
	if string(content) != "ABC" {
		t.Fatalf("assembled content = %q, want %q", content, "ABC")
	}
}

func TestCompletionRequiresAllDistinctIndices(t *testing.T) {
	store := newTestStore(t)

	putString(t, store, "u1", 0, 3, "A")
	progress := putString(t, store, "u1", 0, 3, "A2")
	if progress.Complete {
		t.Fatal("duplicate index must not advance completion")
	}
	if progress.Received != 1 {
		t.Fatalf("received = %d after duplicate, want 1", progress.Received)
	}

	putString(t, store, "u1", 1, 3, "B")
	progress = putString(t, store, "u1", 2, 3, "C")
	if !progress.Complete {
		t.Fatal("expected completion once all three indices are present")
	}

	// Last write for an index wins.
	path, err := store.Assemble("u1")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	content, _ := os.ReadFile(path)
	if string(content) != "A2BC" {
		t.Fatalf("assembled content = %q, want %q", content, "A2BC")
	}
}

func TestChunkValidation(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.PutChunk("u1", "owner-1", 0, 0, Metadata{}, strings.NewReader("A")); err == nil {
		t.Fatal("expected error for non-positive total")
	}

	putString(t, store, "u1", 0, 3, "A")

	if _, err := store.PutChunk("u1", "owner-1", 3, 3, Metadata{}, strings.NewReader("X")); !errors.Is(err, ErrChunkIndexOutOfRange) {
		t.Fatalf("index out of range: got %v", err)
	}
	if _, err := store.PutChunk("u1", "owner-1", 1, 4, Metadata{}, strings.NewReader("X")); !errors.Is(err, ErrTotalChunksMismatch) {
		t.Fatalf("total mismatch: got %v", err)
	}
	if _, err := store.PutChunk("u1", "owner-2", 1, 3, Metadata{}, strings.NewReader("X")); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("owner mismatch: got %v", err)
	}
}

func TestAtMostOneAssemblyTrigger(t *testing.T) {
	store := newTestStore(t)
	const total = 16

	var completions atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			progress, err := store.PutChunk("race", "owner-1", index, total, Metadata{},
				strings.NewReader(fmt.Sprintf("chunk-%d", index)))
			if err != nil {
				t.Errorf("PutChunk(%d): %v", index, err)
				return
			}
			if progress.Complete {
				completions.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := completions.Load(); got != 1 {
		t.Fatalf("exactly one writer must observe completion, got %d", got)
	}
}

func TestLateChunkAfterCompletionIsRejected(t *testing.T) {
	store := newTestStore(t)
	putString(t, store, "u1", 0, 2, "A")
	putString(t, store, "u1", 1, 2, "B")

	if _, err := store.PutChunk("u1", "owner-1", 0, 2, Metadata{}, strings.NewReader("late")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after completion, got %v", err)
	}
}

func TestRejectedLateChunkLeavesBytesIntact(t *testing.T) {
	store := newTestStore(t)
	putString(t, store, "u1", 0, 1, "A")

	if _, err := store.PutChunk("u1", "owner-1", 0, 1, Metadata{}, strings.NewReader("XYZ")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}

	path, err := store.Assemble("u1")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read assembled file: %v", err)
	}
	if string(content) != "A" {
		t.Fatalf("assembled content = %q, want %q; the rejected late write mutated the chunk bytes", content, "A")
	}
}

func TestOutOfRangeIndexWritesNoFile(t *testing.T) {
	store := newTestStore(t)
	putString(t, store, "u1", 0, 3, "A")

	if _, err := store.PutChunk("u1", "owner-1", -1, 3, Metadata{}, strings.NewReader("X")); !errors.Is(err, ErrChunkIndexOutOfRange) {
		t.Fatalf("expected ErrChunkIndexOutOfRange, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.dir, "u1", "chunk_-1")); !os.IsNotExist(err) {
		t.Fatalf("rejected index must leave no chunk file, stat err = %v", err)
	}
}

func TestMetadataFromCompletingChunkWins(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.PutChunk("u1", "owner-1", 0, 2, Metadata{}, strings.NewReader("A")); err != nil {
		t.Fatalf("PutChunk(0): %v", err)
	}
	meta := Metadata{Filename: "clip.mp4", Title: "Sent on the last chunk", IsPublic: true}
	progress, err := store.PutChunk("u1", "owner-1", 1, 2, meta, strings.NewReader("B"))
	if err != nil {
		t.Fatalf("PutChunk(1): %v", err)
	}
	if !progress.Complete {
		t.Fatalf("expected completion, got %+v", progress)
	}

	sess, err := store.Session("u1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.Metadata.Title != "Sent on the last chunk" || !sess.Metadata.IsPublic {
		t.Fatalf("session metadata = %+v; metadata sent on the completing chunk was discarded", sess.Metadata)
	}
}

func TestFinishPurgesStaging(t *testing.T) {
	store := newTestStore(t)
	putString(t, store, "u1", 0, 1, "A")

	if _, err := store.Assemble("u1"); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	store.Finish("u1")

	if _, err := os.Stat(filepath.Join(store.dir, "u1")); !os.IsNotExist(err) {
		t.Fatalf("expected staging dir removed, stat err = %v", err)
	}
	if _, err := store.Session("u1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
}

func TestSweepRemovesAbandonedSessions(t *testing.T) {
	store := newTestStore(t)
	putString(t, store, "stale", 0, 3, "A")
	putString(t, store, "fresh", 0, 3, "A")

	stale, _ := store.Session("stale")
	stale.mu.Lock()
	stale.updatedAt = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()

	if removed := store.Sweep(time.Hour); removed != 1 {
		t.Fatalf("Sweep removed %d sessions, want 1", removed)
	}
	if _, err := store.Session("stale"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("stale session should be gone, got %v", err)
	}
	if _, err := store.Session("fresh"); err != nil {
		t.Fatalf("fresh session should survive the sweep: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.dir, "stale")); !os.IsNotExist(err) {
		t.Fatalf("expected stale staging dir removed, stat err = %v", err)
	}
}

func TestSweepReclaimsOrphanedStagedFiles(t *testing.T) {
	store := newTestStore(t)

	old := filepath.Join(store.dir, "staged-orphan")
	if err := os.WriteFile(old, []byte("x"), 0o600); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("age staged file: %v", err)
	}
	fresh := filepath.Join(store.dir, "staged-inflight")
	if err := os.WriteFile(fresh, []byte("y"), 0o600); err != nil {
		t.Fatalf("write staged file: %v", err)
	}

	store.Sweep(time.Hour)

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected orphaned staged file removed, stat err = %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh staged file should survive the sweep: %v", err)
	}
}
