package dedupe

import (
	"context"
	"errors"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
)

// ErrStoreLocked is returned when another process already holds the store.
var ErrStoreLocked = errors.New("seen store is locked by another process")

// SeenStore tracks listing ids that have already been handled so a listing is
// notified at most once, across restarts.
type SeenStore interface {
	HasSeen(ctx context.Context, id string) (bool, error)
	// MarkSeen upserts a record. A new id gets FirstSeen = LastSeen = now;
	// an existing id only has LastSeen refreshed.
	MarkSeen(ctx context.Context, id, title string, notified bool) error
	// NewIDs returns the ids not yet seen, in order of first appearance.
	NewIDs(ctx context.Context, ids []string) ([]string, error)
	// Cleanup removes records whose LastSeen is strictly before now-retention
	// and reports how many were removed.
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Clear(ctx context.Context) error
	// Records lists every record, most recently seen first.
	Records(ctx context.Context) ([]core.SeenRecord, error)
	Close() error
}

type Stats struct {
	Total       int    `json:"total_listings"`
	BackingSize int64  `json:"storage_size_bytes"`
	Backend     string `json:"backend"`
	Path        string `json:"storage_path,omitempty"`
}

// Clock returns the current time. Stores take one so retention can be tested
// without sleeping.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// unseen filters ids through seen, dropping empties and duplicates while
// keeping first-appearance order.
func unseen(ids []string, seen func(id string) (bool, error)) ([]string, error) {
	out := make([]string, 0, len(ids))
	visited := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := visited[id]; dup {
			continue
		}
		visited[id] = struct{}{}
		ok, err := seen(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, id)
		}
	}
	return out, nil
}
