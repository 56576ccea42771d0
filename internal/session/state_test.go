package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestDedupWindowTrimsOldest(t *testing.T) {
	w := NewDedupWindow(3)
	w.Add("one")
	w.Add("two")
	w.Add("three")
	w.Add("four")

	if w.Len() != 3 {
		t.Fatalf("expected window of 3, got %d", w.Len())
	}
	recent := w.Recent()
	if recent[0] != "two" || recent[2] != "four" {
		t.Errorf("unexpected window contents: %v", recent)
	}
}

func TestDedupWindowDefaultCapacity(t *testing.T) {
	w := NewDedupWindow(0)
	if w.Capacity != 16 {
		t.Errorf("expected default capacity 16, got %d", w.Capacity)
	}
}

func TestStateSequenceAndTranscript(t *testing.T) {
	st := NewState("sess-1", 8)

	if got := st.NextSequence(); got != 1 {
		t.Errorf("expected first sequence 1, got %d", got)
	}
	if got := st.NextSequence(); got != 2 {
		t.Errorf("expected second sequence 2, got %d", got)
	}

	st.AppendTranscript("hello")
	st.AppendTranscript("world")
	if st.FullTranscript() != "hello world" {
		t.Errorf("unexpected transcript: %q", st.FullTranscript())
	}
}

func testStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client), mr
}

func TestStorePersistAndRestore(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	st := NewState("sess-1", 8)
	st.NextSequence()
	st.Dedup.Add("hello")
	st.AppendTranscript("hello")

	if err := store.Persist(ctx, st, time.Minute); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	got, found, err := store.Restore(ctx, "sess-1")
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if !found {
		t.Fatal("expected the state to be found")
	}
	if got.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", got.Sequence)
	}
	if got.Dedup.Len() != 1 {
		t.Errorf("expected 1 dedup entry, got %d", got.Dedup.Len())
	}
}

func TestStoreRestoreMiss(t *testing.T) {
	store, _ := testStore(t)

	_, found, err := store.Restore(context.Background(), "sess-missing")
	if err != nil {
		t.Fatalf("a miss should not be an error: %v", err)
	}
	if found {
		t.Error("expected a miss")
	}
}

func TestStoreExpiry(t *testing.T) {
	store, mr := testStore(t)
	ctx := context.Background()

	st := NewState("sess-1", 8)
	if err := store.Persist(ctx, st, time.Minute); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	_, found, err := store.Restore(ctx, "sess-1")
	if err != nil {
		t.Fatalf("restore after expiry failed: %v", err)
	}
	if found {
		t.Error("expected the state to have expired")
	}
}

func TestStoreCorruptPayloadTreatedAsMiss(t *testing.T) {
	store, mr := testStore(t)

	mr.Set(stateKey("sess-1"), "{not json")

	_, found, err := store.Restore(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("corrupt payload should not surface an error: %v", err)
	}
	if found {
		t.Error("corrupt payload should be treated as a miss")
	}
}

func TestStoreDelete(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	st := NewState("sess-1", 8)
	store.Persist(ctx, st, time.Minute)
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	_, found, _ := store.Restore(ctx, "sess-1")
	if found {
		t.Error("expected the state to be gone after delete")
	}
}
