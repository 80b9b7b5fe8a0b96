package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/notify/mock"
)

func items(ids ...string) []core.Item {
	out := make([]core.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.Item{ID: id, Title: "item " + id})
	}
	return out
}

type countingObserver struct {
	ok, failed int
}

func (o *countingObserver) ObserveSend(channel string, ok bool, elapsed time.Duration) {
	if ok {
		o.ok++
	} else {
		o.failed++
	}
}

func TestNotifyOne_PrimaryDecides(t *testing.T) {
	primary := &mock.Channel{ChannelName: "primary"}
	secondary := &mock.Channel{ChannelName: "secondary", Err: errors.New("down")}
	d := NewDispatcher([]Channel{primary, secondary}, 0, nil, nil)

	if !d.NotifyOne(context.Background(), core.Item{ID: "1"}) {
		t.Fatalf("expected success when primary succeeds")
	}
	if len(secondary.Attempts()) != 1 {
		t.Fatalf("secondary should still be attempted")
	}

	failing := &mock.Channel{ChannelName: "primary", Err: errors.New("down")}
	ok := &mock.Channel{ChannelName: "secondary"}
	d = NewDispatcher([]Channel{failing, ok}, 0, nil, nil)
	if d.NotifyOne(context.Background(), core.Item{ID: "1"}) {
		t.Fatalf("expected failure when primary fails")
	}
	if len(ok.Attempts()) != 1 {
		t.Fatalf("secondary should be attempted even when primary fails")
	}
}

func TestNotifyOne_NoChannels(t *testing.T) {
	d := NewDispatcher(nil, 0, nil, nil)
	if d.NotifyOne(context.Background(), core.Item{ID: "1"}) {
		t.Fatalf("expected false without channels")
	}
}

func TestNotifyOne_RecoversChannelPanic(t *testing.T) {
	ch := &mock.Channel{OnSend: func(core.Item) { panic("boom") }}
	obs := &countingObserver{}
	d := NewDispatcher([]Channel{ch}, 0, obs, nil)
	if d.NotifyOne(context.Background(), core.Item{ID: "1"}) {
		t.Fatalf("expected false after panic")
	}
	if obs.failed != 1 {
		t.Fatalf("expected the panic to be observed as a failure, got %+v", obs)
	}
}

func TestNotifyBatch_FailureDoesNotAbort(t *testing.T) {
	ch := &mock.Channel{FailIDs: map[string]bool{"b": true}}
	obs := &countingObserver{}
	d := NewDispatcher([]Channel{ch}, 0, obs, nil)

	res := d.NotifyBatch(context.Background(), items("a", "b", "c"))
	if res.Sent != 2 || res.Attempted != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if obs.ok != 2 || obs.failed != 1 {
		t.Fatalf("unexpected observations: %+v", obs)
	}
}

func TestNotifyBatch_Pacing(t *testing.T) {
	delay := 30 * time.Millisecond
	ch := &mock.Channel{}
	d := NewDispatcher([]Channel{ch}, delay, nil, nil)

	res := d.NotifyBatch(context.Background(), items("a", "b", "c"))
	if res.Sent != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	times := ch.AttemptTimes()
	for i := 1; i < len(times); i++ {
		// Allow a little scheduler slack below the nominal delay.
		if gap := times[i].Sub(times[i-1]); gap < delay-5*time.Millisecond {
			t.Fatalf("sends %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestNotifyBatch_CancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := &mock.Channel{}
	ch.OnSend = func(item core.Item) {
		if item.ID == "b" {
			cancel()
		}
	}
	d := NewDispatcher([]Channel{ch}, 20*time.Millisecond, nil, nil)

	res := d.NotifyBatch(ctx, items("a", "b", "c", "d"))
	if res.Attempted != 2 {
		t.Fatalf("expected 2 attempted before cancellation, got %+v", res)
	}
	if len(ch.Attempts()) != 2 {
		t.Fatalf("channel saw %d attempts, want 2", len(ch.Attempts()))
	}
}

func TestNotifyStatus(t *testing.T) {
	primary := &mock.Channel{ChannelName: "primary"}
	secondary := &mock.Channel{ChannelName: "secondary"}
	d := NewDispatcher([]Channel{primary, secondary}, time.Hour, nil, nil)

	start := time.Now()
	if !d.NotifyStatus(context.Background(), "started") || !d.NotifyStatus(context.Background(), "stopped") {
		t.Fatalf("expected status messages to succeed")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("status messages must not be paced")
	}
	if got := secondary.Statuses(); len(got) != 2 || got[0] != "started" {
		t.Fatalf("secondary statuses=%v", got)
	}
	if names := d.Channels(); len(names) != 2 || names[0] != "primary" {
		t.Fatalf("Channels()=%v", names)
	}
}
