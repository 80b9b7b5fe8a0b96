package snapshot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace"
)

const (
	ModeRecord = "record"
	ModeReplay = "replay"
)

// Recorder saves every successful search of the wrapped source under dir.
type Recorder struct {
	marketplace.Searcher
	dir    string
	logger *slog.Logger
}

func (r *Recorder) Search(ctx context.Context, q core.Query) ([]core.Item, error) {
	items, err := r.Searcher.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := Save(PathFor(r.dir, q), q, items); err != nil {
		r.logger.Warn("failed to record snapshot", "term", q.Term, "error", err)
	}
	return items, nil
}

// Replayer serves searches from snapshots recorded earlier.
type Replayer struct {
	dir string
}

func NewReplayer(dir string) *Replayer {
	return &Replayer{dir: dir}
}

func (r *Replayer) Search(ctx context.Context, q core.Query) ([]core.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := Load(PathFor(r.dir, q))
	if err != nil {
		return nil, fmt.Errorf("replay %q: %w", q.Term, err)
	}
	items := payload.Items
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	for i := range items {
		items[i].Term = q.Term
	}
	return items, nil
}

func (r *Replayer) Close() error { return nil }

// WrapFactory applies mode to a source factory. Replay never calls next.
func WrapFactory(next marketplace.Factory, dir, mode string, logger *slog.Logger) marketplace.Factory {
	if logger == nil {
		logger = slog.Default()
	}
	switch mode {
	case ModeRecord:
		return func(ctx context.Context) (marketplace.Searcher, error) {
			src, err := next(ctx)
			if err != nil {
				return nil, err
			}
			return &Recorder{Searcher: src, dir: dir, logger: logger}, nil
		}
	case ModeReplay:
		return func(ctx context.Context) (marketplace.Searcher, error) {
			return NewReplayer(dir), nil
		}
	default:
		return next
	}
}
