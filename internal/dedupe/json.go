package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
)

const backendJSON = "json"

// JSONStore keeps the whole id -> record map in memory and mirrors it to a
// single JSON object on disk after every change.
type JSONStore struct {
	path   string
	logger *slog.Logger
	clock  Clock

	mu      sync.Mutex
	records map[string]core.SeenRecord
	lock    *os.File
}

type jsonRecord struct {
	FirstSeen string `json:"first_seen"`
	LastSeen  string `json:"last_seen"`
	Title     string `json:"title"`
	Notified  bool   `json:"notified"`
}

// NewJSONStore opens (or creates) the store at path. It takes an exclusive
// lock on path+".lock" and fails with ErrStoreLocked if another process holds
// it. A missing file starts empty; an unreadable or corrupt one is logged and
// also starts empty.
func NewJSONStore(path string, logger *slog.Logger, clock Clock) (*JSONStore, error) {
	if path == "" {
		return nil, fmt.Errorf("json store path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	lock, err := lockFile(path + ".lock")
	if err != nil {
		return nil, err
	}
	s := &JSONStore{
		path:    path,
		logger:  logger,
		clock:   clock,
		records: map[string]core.SeenRecord{},
		lock:    lock,
	}
	s.load()
	return s, nil
}

func (s *JSONStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("seen store unreadable; starting empty", "path", s.path, "error", err)
		}
		return
	}
	var raw map[string]jsonRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Error("seen store corrupt; starting empty", "path", s.path, "error", err)
		return
	}
	for id, r := range raw {
		first, ferr := parseTimestamp(r.FirstSeen)
		last, lerr := parseTimestamp(r.LastSeen)
		if ferr != nil || lerr != nil {
			s.logger.Warn("seen store record has bad timestamps; dropping", "id", id)
			continue
		}
		s.records[id] = core.SeenRecord{ID: id, FirstSeen: first, LastSeen: last, Title: r.Title, Notified: r.Notified}
	}
	s.logger.Info("seen store loaded", "path", s.path, "records", len(s.records))
}

func (s *JSONStore) HasSeen(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok, nil
}

func (s *JSONStore) MarkSeen(ctx context.Context, id, title string, notified bool) error {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.now()
	if rec, ok := s.records[id]; ok {
		rec.LastSeen = now
		s.records[id] = rec
	} else {
		s.records[id] = core.SeenRecord{ID: id, FirstSeen: now, LastSeen: now, Title: title, Notified: notified}
	}
	return s.persistLocked()
}

func (s *JSONStore) NewIDs(ctx context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unseen(ids, func(id string) (bool, error) {
		_, ok := s.records[id]
		return ok, nil
	})
}

func (s *JSONStore) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.now().Add(-retention)
	removed := 0
	for id, rec := range s.records {
		if rec.LastSeen.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.persistLocked()
}

func (s *JSONStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	total := len(s.records)
	s.mu.Unlock()

	st := Stats{Total: total, Backend: backendJSON, Path: s.path}
	if info, err := os.Stat(s.path); err == nil {
		st.BackingSize = info.Size()
	}
	return st, nil
}

func (s *JSONStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = map[string]core.SeenRecord{}
	return s.persistLocked()
}

func (s *JSONStore) Records(ctx context.Context) ([]core.SeenRecord, error) {
	s.mu.Lock()
	out := make([]core.SeenRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.Unlock()
	sortNewestFirst(out)
	return out, nil
}

func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return nil
	}
	err := unlockFile(s.lock)
	s.lock = nil
	return err
}

// persistLocked writes the full map to a temp file in the same directory,
// syncs it and renames it over the store. Callers hold s.mu.
func (s *JSONStore) persistLocked() error {
	raw := make(map[string]jsonRecord, len(s.records))
	for id, rec := range s.records {
		raw[id] = jsonRecord{
			FirstSeen: rec.FirstSeen.UTC().Format(time.RFC3339Nano),
			LastSeen:  rec.LastSeen.UTC().Format(time.RFC3339Nano),
			Title:     rec.Title,
			Notified:  rec.Notified,
		}
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode seen store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write seen store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync seen store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close seen store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace seen store: %w", err)
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// parseTimestamp accepts RFC 3339 plus zone-less ISO timestamps, which are
// read as UTC.
func parseTimestamp(v string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", v)
}

func sortNewestFirst(records []core.SeenRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].LastSeen.Equal(records[j].LastSeen) {
			return records[i].ID < records[j].ID
		}
		return records[i].LastSeen.After(records[j].LastSeen)
	})
}
