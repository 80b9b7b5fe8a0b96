package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/bakkerme/marketwatch/internal/core"
)

const (
	backendBadger   = "badger"
	badgerKeyPrefix = "seen/"
)

// BadgerStore keeps one key per listing in an embedded badger database.
// Badger holds its own directory lock, so a second process fails to open it.
type BadgerStore struct {
	db    *badger.DB
	path  string
	clock Clock
	mu    sync.Mutex
}

func NewBadgerStore(path string, clock Clock) (*BadgerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("badger path is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	// MarkSeen returns only after the record is on disk.
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &BadgerStore{db: db, path: path, clock: clock}, nil
}

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

func (b *BadgerStore) HasSeen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	seen := false
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		seen = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", id, err)
	}
	return seen, nil
}

func (b *BadgerStore) MarkSeen(ctx context.Context, id, title string, notified bool) error {
	if id == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.now()
	err := b.db.Update(func(txn *badger.Txn) error {
		rec := jsonRecord{Title: title, Notified: notified, FirstSeen: now.Format(time.RFC3339Nano)}
		item, err := txn.Get(badgerKey(id))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
		}
		rec.LastSeen = now.Format(time.RFC3339Nano)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(badgerKey(id), data)
	})
	if err != nil {
		return fmt.Errorf("mark seen %s: %w", id, err)
	}
	return nil
}

func (b *BadgerStore) NewIDs(ctx context.Context, ids []string) ([]string, error) {
	return unseen(ids, func(id string) (bool, error) {
		return b.HasSeen(ctx, id)
	})
}

func (b *BadgerStore) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.clock.now().Add(-retention)
	records, err := b.records()
	if err != nil {
		return 0, err
	}
	var stale [][]byte
	for _, rec := range records {
		if rec.LastSeen.Before(cutoff) {
			stale = append(stale, badgerKey(rec.ID))
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := b.deleteKeys(stale); err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return len(stale), nil
}

func (b *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	total := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			total++
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("count: %w", err)
	}
	lsm, vlog := b.db.Size()
	return Stats{Total: total, BackingSize: lsm + vlog, Backend: backendBadger, Path: b.path}, nil
}

func (b *BadgerStore) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.db.DropPrefix([]byte(badgerKeyPrefix)); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (b *BadgerStore) Records(ctx context.Context) ([]core.SeenRecord, error) {
	out, err := b.records()
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

func (b *BadgerStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *BadgerStore) records() ([]core.SeenRecord, error) {
	var out []core.SeenRecord
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			var raw jsonRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &raw) }); err != nil {
				return fmt.Errorf("decode %s: %w", id, err)
			}
			first, ferr := parseTimestamp(raw.FirstSeen)
			last, lerr := parseTimestamp(raw.LastSeen)
			if ferr != nil || lerr != nil {
				continue
			}
			out = append(out, core.SeenRecord{ID: id, FirstSeen: first, LastSeen: last, Title: raw.Title, Notified: raw.Notified})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

func (b *BadgerStore) deleteKeys(keys [][]byte) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	return wb.Flush()
}
