package mock

import (
	"context"
	"sync"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
)

// Channel records deliveries. FailIDs fails items with those ids; Err fails
// everything.
type Channel struct {
	ChannelName string
	Err         error
	FailIDs     map[string]bool
	// OnSend, when set, runs before every item send.
	OnSend func(item core.Item)

	mu       sync.Mutex
	attempts []core.Item
	sentAt   []time.Time
	statuses []string
}

func (c *Channel) Name() string {
	if c.ChannelName == "" {
		return "mock"
	}
	return c.ChannelName
}

func (c *Channel) SendItem(ctx context.Context, item core.Item) error {
	if c.OnSend != nil {
		c.OnSend(item)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, item)
	c.sentAt = append(c.sentAt, time.Now())
	if c.Err != nil {
		return c.Err
	}
	if c.FailIDs[item.ID] {
		return errFailed
	}
	return nil
}

func (c *Channel) SendStatus(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, text)
	return c.Err
}

// Attempts returns every item passed to SendItem, in order.
func (c *Channel) Attempts() []core.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Item(nil), c.attempts...)
}

func (c *Channel) AttemptTimes() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.sentAt...)
}

func (c *Channel) Statuses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.statuses...)
}

type failedError struct{}

func (failedError) Error() string { return "mock delivery failed" }

var errFailed error = failedError{}
