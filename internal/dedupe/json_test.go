package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONStore_WritesDocumentedLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	clock := newFakeClock()
	store, err := NewJSONStore(path, nil, clock.Now)
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.MarkSeen(context.Background(), "123", "Road bike", true); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("store file is not a JSON object: %v", err)
	}
	rec, ok := doc["123"]
	if !ok {
		t.Fatalf("missing record for 123: %s", data)
	}
	for _, key := range []string{"first_seen", "last_seen", "title", "notified"} {
		if _, ok := rec[key]; !ok {
			t.Fatalf("record missing %q: %v", key, rec)
		}
	}
	if rec["title"] != "Road bike" || rec["notified"] != true {
		t.Fatalf("unexpected record: %v", rec)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestJSONStore_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := NewJSONStore(path, nil, nil)
	if err != nil {
		t.Fatalf("corrupt file must not fail construction: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	st, _ := store.Stats(context.Background())
	if st.Total != 0 {
		t.Fatalf("expected empty store, got %d", st.Total)
	}
	if err := store.MarkSeen(context.Background(), "1", "x", true); err != nil {
		t.Fatalf("MarkSeen after corrupt load: %v", err)
	}
}

func TestJSONStore_LoadsZonelessTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	legacy := `{"9": {"listing_id": "9", "title": "Lamp", "first_seen": "2024-01-02T03:04:05.123456", "last_seen": "2024-01-03T03:04:05", "notified": true}}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := NewJSONStore(path, nil, nil)
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	records, err := store.Records(context.Background())
	if err != nil || len(records) != 1 {
		t.Fatalf("Records=%v err=%v", records, err)
	}
	want := time.Date(2024, 1, 3, 3, 4, 5, 0, time.UTC)
	if !records[0].LastSeen.Equal(want) {
		t.Fatalf("last_seen=%v, want %v", records[0].LastSeen, want)
	}
}

func TestJSONStore_SecondInstanceIsLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	first, err := NewJSONStore(path, nil, nil)
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}

	if _, err := NewJSONStore(path, nil, nil); !errors.Is(err, ErrStoreLocked) {
		t.Fatalf("expected ErrStoreLocked, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	again, err := NewJSONStore(path, nil, nil)
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	_ = again.Close()
}

func TestJSONStore_FailedWriteKeepsMemoryState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seen.json")
	store, err := NewJSONStore(path, nil, nil)
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	// A directory at the target path makes the rename fail.
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "keep"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := store.MarkSeen(context.Background(), "7", "Chair", true); err == nil {
		t.Fatalf("expected persist error")
	}
	seen, err := store.HasSeen(context.Background(), "7")
	if err != nil || !seen {
		t.Fatalf("in-memory state should keep the change, seen=%v err=%v", seen, err)
	}
}
