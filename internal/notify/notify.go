package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/observability/otelx"
)

// Channel is one notification destination.
type Channel interface {
	Name() string
	SendItem(ctx context.Context, item core.Item) error
	SendStatus(ctx context.Context, text string) error
}

// Observer receives per-send outcomes. It is used for metrics.
type Observer interface {
	ObserveSend(channel string, ok bool, elapsed time.Duration)
}

// BatchResult reports how a batch went. Attempted counts items that were
// handed to the primary channel; it is smaller than the batch only when the
// context was cancelled part way through.
type BatchResult struct {
	Sent      int
	Attempted int
}

// Dispatcher delivers items to the primary channel and, best-effort, to the
// secondaries. Delivery failures are logged and reported as false; they never
// propagate as errors.
type Dispatcher struct {
	channels []Channel
	limiter  *rate.Limiter
	observer Observer
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher over channels, the first being primary.
// delay is the minimum spacing between consecutive sends within a batch.
func NewDispatcher(channels []Channel, delay time.Duration, observer Observer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Dispatcher{
		channels: channels,
		limiter:  rate.NewLimiter(limit, 1),
		observer: observer,
		logger:   logger,
	}
}

// Channels returns the configured channel names, primary first.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

// NotifyOne delivers item and reports whether the primary channel accepted it.
func (d *Dispatcher) NotifyOne(ctx context.Context, item core.Item) bool {
	logger := core.LoggerFromContext(ctx, d.logger)
	if len(d.channels) == 0 {
		logger.Warn("no notification channels configured", "listing_id", item.ID)
		return false
	}

	ctx, span := otelx.StartNotify(ctx, item, d.Channels())
	var primaryErr error
	defer func() { otelx.End(span, primaryErr) }()

	ok := false
	for i, ch := range d.channels {
		err := d.send(ch, func() error { return ch.SendItem(ctx, item) })
		if err != nil {
			if i == 0 {
				primaryErr = err
			}
			level := slog.LevelWarn
			if i == 0 {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "notification failed", "channel", ch.Name(), "listing_id", item.ID, "error", err)
			continue
		}
		if i == 0 {
			ok = true
			logger.Info("notification sent", "channel", ch.Name(), "listing_id", item.ID, "title", item.Title)
		}
	}
	return ok
}

// NotifyBatch delivers items in order, pausing between sends. It stops early
// only when ctx is done.
func (d *Dispatcher) NotifyBatch(ctx context.Context, items []core.Item) BatchResult {
	var res BatchResult
	for _, item := range items {
		if err := d.limiter.Wait(ctx); err != nil {
			break
		}
		res.Attempted++
		if d.NotifyOne(ctx, item) {
			res.Sent++
		}
	}
	return res
}

// NotifyStatus sends an out-of-band text to every channel without pacing and
// reports the primary result.
func (d *Dispatcher) NotifyStatus(ctx context.Context, text string) bool {
	logger := core.LoggerFromContext(ctx, d.logger)
	ok := false
	for i, ch := range d.channels {
		if err := d.send(ch, func() error { return ch.SendStatus(ctx, text) }); err != nil {
			logger.Warn("status message failed", "channel", ch.Name(), "error", err)
			continue
		}
		if i == 0 {
			ok = true
		}
	}
	return ok
}

// send runs fn, converting a panic in a channel into an error.
func (d *Dispatcher) send(ch Channel, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", ch.Name(), r)
		}
		if d.observer != nil {
			d.observer.ObserveSend(ch.Name(), err == nil, time.Since(start))
		}
	}()
	return fn()
}
