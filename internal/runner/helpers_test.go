package runner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bakkerme/marketwatch/internal/config"
	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/dedupe"
	"github.com/bakkerme/marketwatch/internal/notify"
	notifymock "github.com/bakkerme/marketwatch/internal/notify/mock"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace"
	sourcemock "github.com/bakkerme/marketwatch/internal/sources/marketplace/mock"
)

func item(id, price string) core.Item {
	return core.Item{
		ID:       id,
		Title:    "Listing " + id,
		Price:    price,
		Location: "Portland, OR",
		URL:      "https://www.facebook.com/marketplace/item/" + id + "/",
	}
}

func testConfig() config.EnvConfig {
	return config.EnvConfig{
		Search: config.SearchEnvConfig{Keywords: []string{"bike", "desk"}, Limit: 20},
		Monitor: config.MonitorEnvConfig{
			CheckInterval: time.Hour,
			MaxRetries:    3,
			RetryCooldown: time.Minute,
			Retention:     7 * 24 * time.Hour,
		},
		Store:    config.StoreEnvConfig{Backend: "json", Path: "seen.json"},
		Source:   config.SourceEnvConfig{Kind: "browser"},
		Telegram: config.TelegramEnvConfig{BotToken: "123:abc", ChatID: "42"},
	}
}

func newTestStore(t *testing.T) dedupe.SeenStore {
	t.Helper()
	store, err := dedupe.NewJSONStore(filepath.Join(t.TempDir(), "seen.json"), nil, nil)
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type fixture struct {
	cfg      config.EnvConfig
	store    dedupe.SeenStore
	channel  *notifymock.Channel
	searcher *sourcemock.Searcher
	cycle    *Cycle
	opened   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cfg:      testConfig(),
		store:    newTestStore(t),
		channel:  &notifymock.Channel{ChannelName: "telegram"},
		searcher: &sourcemock.Searcher{},
	}
	f.cycle = &Cycle{
		Queries:   f.cfg,
		Store:     f.store,
		Notifier:  notify.NewDispatcher([]notify.Channel{f.channel}, 0, nil, nil),
		Retention: f.cfg.Monitor.Retention,
	}
	return f
}

func (f *fixture) factory() marketplace.Factory {
	return func(ctx context.Context) (marketplace.Searcher, error) {
		f.opened++
		return f.searcher, nil
	}
}

func attemptIDs(ch *notifymock.Channel) []string {
	return core.IDs(ch.Attempts())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type everySchedule time.Duration

func (s everySchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(s))
}
