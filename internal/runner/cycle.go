package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/dedupe"
	"github.com/bakkerme/marketwatch/internal/notify"
	"github.com/bakkerme/marketwatch/internal/observability/metrics"
	"github.com/bakkerme/marketwatch/internal/observability/otelx"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace"
)

// QueryProvider supplies the search terms for a cycle. The watch file
// implements it so terms can change between cycles.
type QueryProvider interface {
	Queries() []core.Query
}

// Notifier is the part of notify.Dispatcher the runner uses.
type Notifier interface {
	NotifyBatch(ctx context.Context, items []core.Item) notify.BatchResult
	NotifyStatus(ctx context.Context, text string) bool
	Channels() []string
}

// Cycle is one pass of search, dedupe, notify and mark.
type Cycle struct {
	Queries     QueryProvider
	Store       dedupe.SeenStore
	Notifier    Notifier
	Rule        *ItemRule
	Retention   time.Duration
	SearchDelay time.Duration
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Run executes the cycle against src and returns how many listings were
// delivered. Only a failure to read the store is returned as an error;
// search, delivery and write failures are logged.
func (c *Cycle) Run(ctx context.Context, src marketplace.Searcher) (sent int, err error) {
	start := time.Now()
	cycleID := fmt.Sprintf("cycle-%d", start.UnixNano())
	logger := c.logger().With("cycle_id", cycleID)
	ctx = core.WithCycleID(ctx, cycleID)
	ctx = core.WithLogger(ctx, logger)

	ctx, span := otelx.StartCycle(ctx, cycleID)
	defer func() {
		span.SetAttributes(otelx.AttrSent.Int(sent))
		otelx.End(span, err)
		c.Metrics.ObserveCycle(err == nil, time.Since(start))
	}()

	batch := c.search(ctx, src, logger)
	c.Metrics.AddFound(len(batch))
	span.SetAttributes(otelx.AttrFound.Int(len(batch)))

	newIDs, err := c.Store.NewIDs(ctx, core.IDs(batch))
	if err != nil {
		return 0, fmt.Errorf("check seen listings: %w", err)
	}
	if len(newIDs) == 0 {
		logger.Info("no new listings", "found", len(batch))
		c.cleanup(ctx, logger)
		return 0, nil
	}
	fresh := selectIDs(batch, newIDs)
	c.Metrics.AddNew(len(fresh))
	span.SetAttributes(otelx.AttrNew.Int(len(fresh)))
	logger.Info("new listings found", "found", len(batch), "new", len(fresh))

	// Writes after this point must land even if ctx is cancelled, or an
	// attempted listing could be sent again next cycle.
	writeCtx := context.WithoutCancel(ctx)

	toSend := fresh[:0:0]
	for _, item := range fresh {
		allowed, ruleErr := c.Rule.Allow(item)
		if ruleErr != nil {
			logger.Warn("item rule failed, keeping listing", "id", item.ID, "error", ruleErr)
		}
		if allowed {
			toSend = append(toSend, item)
			continue
		}
		logger.Debug("listing suppressed by rule", "id", item.ID, "title", item.Title)
		c.Metrics.AddSuppressed(1)
		if err := c.Store.MarkSeen(writeCtx, item.ID, item.Title, false); err != nil {
			logger.Error("failed to mark suppressed listing", "id", item.ID, "error", err)
		}
	}

	res := c.Notifier.NotifyBatch(ctx, toSend)
	for _, item := range toSend[:res.Attempted] {
		if err := c.Store.MarkSeen(writeCtx, item.ID, item.Title, true); err != nil {
			logger.Error("failed to mark listing seen", "id", item.ID, "error", err)
		}
	}
	if res.Attempted < len(toSend) {
		logger.Warn("cycle interrupted before all listings were sent",
			"attempted", res.Attempted, "pending", len(toSend)-res.Attempted)
	}
	logger.Info("notifications sent", "sent", res.Sent, "attempted", res.Attempted)

	c.cleanup(writeCtx, logger)
	return res.Sent, nil
}

func (c *Cycle) search(ctx context.Context, src marketplace.Searcher, logger *slog.Logger) []core.Item {
	var queries []core.Query
	if c.Queries != nil {
		queries = c.Queries.Queries()
	}
	var all []core.Item
	for i, q := range queries {
		if i > 0 && c.SearchDelay > 0 {
			if err := sleepCtx(ctx, c.SearchDelay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		searchCtx, searchSpan := otelx.StartSearch(ctx, q)
		items, err := src.Search(searchCtx, q)
		searchSpan.SetAttributes(otelx.AttrFound.Int(len(items)))
		otelx.End(searchSpan, err)
		if err != nil {
			c.Metrics.IncSearchError()
			logger.Error("search failed", "term", q.Term, "error", err)
			continue
		}
		logger.Debug("search complete", "term", q.Term, "count", len(items))
		for _, item := range items {
			if item.Term == "" {
				item.Term = q.Term
			}
			all = append(all, item)
		}
	}
	return core.UniqueByID(all)
}

func (c *Cycle) cleanup(ctx context.Context, logger *slog.Logger) {
	if c.Retention > 0 {
		removed, err := c.Store.Cleanup(ctx, c.Retention)
		if err != nil {
			logger.Error("cleanup failed", "error", err)
		} else if removed > 0 {
			logger.Info("removed old listings", "removed", removed)
		}
	}
	if stats, err := c.Store.Stats(ctx); err == nil {
		c.Metrics.SetStoreRecords(stats.Total)
	}
}

func (c *Cycle) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// selectIDs returns the items whose id is in ids, keeping batch order.
func selectIDs(batch []core.Item, ids []string) []core.Item {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]core.Item, 0, len(ids))
	for _, item := range batch {
		if _, ok := want[item.ID]; ok {
			out = append(out, item)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
