package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bakkerme/marketwatch/internal/config"
	"github.com/bakkerme/marketwatch/internal/core"
	emailmock "github.com/bakkerme/marketwatch/internal/outputs/email/mock"
	telegrammock "github.com/bakkerme/marketwatch/internal/outputs/telegram/mock"
	"github.com/bakkerme/marketwatch/internal/runner/snapshot"
)

func testEnv(t *testing.T) config.EnvConfig {
	return config.EnvConfig{
		Search:   config.SearchEnvConfig{Keywords: []string{"bike"}, Limit: 5},
		Store:    config.StoreEnvConfig{Backend: "json", Path: filepath.Join(t.TempDir(), "seen.json")},
		Source:   config.SourceEnvConfig{Kind: "browser"},
		Telegram: config.TelegramEnvConfig{BotToken: "123:abc", ChatID: "42"},
		SMTP:     config.SMTPEnvConfig{Host: "smtp.example.com", Port: 587},
		Email:    config.EmailEnvConfig{To: "me@example.com"},
	}
}

func TestNewChannelsOrder(t *testing.T) {
	f := NewFromEnvConfig(nil, testEnv(t), nil)
	f.TelegramSender = &telegrammock.Sender{}
	f.EmailSender = &emailmock.Sender{}

	d, err := f.NewDispatcher()
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	names := d.Channels()
	if len(names) != 2 || names[0] != "telegram" || names[1] != "email" {
		t.Fatalf("unexpected channels: %v", names)
	}
}

func TestNewChannelsEmailOnly(t *testing.T) {
	env := testEnv(t)
	env.Telegram = config.TelegramEnvConfig{}
	f := NewFromEnvConfig(nil, env, nil)
	f.EmailSender = &emailmock.Sender{}

	chs, err := f.NewChannels()
	if err != nil {
		t.Fatalf("NewChannels: %v", err)
	}
	if len(chs) != 1 || chs[0].Name() != "email" {
		t.Fatalf("expected email as the only channel, got %d", len(chs))
	}
}

func TestNewCycleRejectsBadRule(t *testing.T) {
	env := testEnv(t)
	env.Monitor.ItemRule = "price >"
	f := NewFromEnvConfig(nil, env, nil)
	if _, err := f.NewCycle(nil, nil, nil); err == nil {
		t.Fatalf("expected rule compile error")
	}
}

func TestNewSourceFactoryReplay(t *testing.T) {
	dir := t.TempDir()
	items := []core.Item{{ID: "5", Title: "Desk", Price: "$40"}}
	q := core.Query{Term: "bike"}
	if err := snapshot.Save(snapshot.PathFor(dir, q), q, items); err != nil {
		t.Fatalf("Save: %v", err)
	}
	env := testEnv(t)
	env.Source.SnapshotDir = dir
	env.Source.SnapshotMode = snapshot.ModeReplay
	f := NewFromEnvConfig(nil, env, nil)

	sources, err := f.NewSourceFactory()
	if err != nil {
		t.Fatalf("NewSourceFactory: %v", err)
	}
	src, err := sources(context.Background())
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	defer src.Close()
	got, err := src.Search(context.Background(), q)
	if err != nil || len(got) != 1 || got[0].ID != "5" {
		t.Fatalf("unexpected replay: %+v %v", got, err)
	}
}

func TestNewSourceFactoryFeedNeedsTemplate(t *testing.T) {
	env := testEnv(t)
	env.Source.Kind = "feed"
	env.Source.FeedURLTemplate = "https://example.com/rss"
	if _, err := NewFromEnvConfig(nil, env, nil).NewSourceFactory(); err == nil {
		t.Fatalf("expected template error")
	}
}

func TestNewRunnerFromStore(t *testing.T) {
	env := testEnv(t)
	f := NewFromEnvConfig(nil, env, nil)
	f.TelegramSender = &telegrammock.Sender{}
	f.EmailSender = &emailmock.Sender{}

	store, err := f.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	d, err := f.NewDispatcher()
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	cycle, err := f.NewCycle(store, d, nil)
	if err != nil {
		t.Fatalf("NewCycle: %v", err)
	}
	sources, err := f.NewSourceFactory()
	if err != nil {
		t.Fatalf("NewSourceFactory: %v", err)
	}
	env.Monitor.CheckInterval = 0
	f.Env = env
	if _, err := f.NewRunner(cycle, sources); err == nil {
		t.Fatalf("expected schedule error for zero interval")
	}
}
