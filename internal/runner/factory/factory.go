package factory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bakkerme/marketwatch/internal/channels"
	"github.com/bakkerme/marketwatch/internal/config"
	"github.com/bakkerme/marketwatch/internal/dedupe"
	"github.com/bakkerme/marketwatch/internal/notify"
	"github.com/bakkerme/marketwatch/internal/observability/metrics"
	"github.com/bakkerme/marketwatch/internal/outputs/email"
	"github.com/bakkerme/marketwatch/internal/outputs/email/smtp"
	"github.com/bakkerme/marketwatch/internal/outputs/telegram"
	"github.com/bakkerme/marketwatch/internal/outputs/telegram/bot"
	"github.com/bakkerme/marketwatch/internal/runner"
	"github.com/bakkerme/marketwatch/internal/runner/snapshot"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace/browser"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace/feed"
)

// Factory builds the monitor's components from the environment config.
// TelegramSender and EmailSender may be set beforehand to replace the real
// transports.
type Factory struct {
	Logger         *slog.Logger
	Env            config.EnvConfig
	Metrics        *metrics.Metrics
	TelegramSender telegram.Sender
	EmailSender    email.Sender
}

func NewFromEnvConfig(logger *slog.Logger, env config.EnvConfig, m *metrics.Metrics) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		Logger:  logger,
		Env:     env,
		Metrics: m,
	}
}

func (f *Factory) NewStore() (dedupe.SeenStore, error) {
	store, err := dedupe.Open(f.Env.Store.Backend, f.Env.Store.Path, f.Env.Store.DSN, f.Env.Store.Table, f.Logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", f.Env.Store.Backend, err)
	}
	return store, nil
}

// NewChannels returns the configured channels, telegram first when enabled.
func (f *Factory) NewChannels() ([]notify.Channel, error) {
	var out []notify.Channel
	if f.Env.Telegram.Enabled() {
		sender := f.TelegramSender
		if sender == nil {
			s, err := bot.NewSender(bot.Config{
				Token:  f.Env.Telegram.BotToken,
				ChatID: f.Env.Telegram.ChatID,
				APIURL: f.Env.Telegram.APIURL,
			}, f.Logger)
			if err != nil {
				return nil, fmt.Errorf("telegram: %w", err)
			}
			sender = s
		}
		out = append(out, channels.NewTelegram(sender))
	}
	if f.Env.EmailEnabled() {
		sender := f.EmailSender
		if sender == nil {
			s, err := smtp.NewSender(smtp.Config{
				Host:               f.Env.SMTP.Host,
				Port:               f.Env.SMTP.Port,
				Username:           f.Env.SMTP.User,
				Password:           f.Env.SMTP.Password,
				TLSMode:            f.Env.SMTP.TLSMode,
				InsecureSkipVerify: f.Env.SMTP.InsecureSkipVerify,
			})
			if err != nil {
				return nil, fmt.Errorf("email: %w", err)
			}
			sender = s
		}
		ch, err := channels.NewEmail(sender, f.Env.Email.From, f.Env.Email.To)
		if err != nil {
			return nil, fmt.Errorf("email: %w", err)
		}
		out = append(out, ch)
	}
	return out, nil
}

func (f *Factory) NewDispatcher() (*notify.Dispatcher, error) {
	chs, err := f.NewChannels()
	if err != nil {
		return nil, err
	}
	var observer notify.Observer
	if f.Metrics != nil {
		observer = f.Metrics
	}
	return notify.NewDispatcher(chs, f.Env.Monitor.NotifyDelay, observer, f.Logger), nil
}

// NewSourceFactory returns a factory for the configured listing source,
// wrapped for snapshot record or replay when asked.
func (f *Factory) NewSourceFactory() (marketplace.Factory, error) {
	src := f.Env.Source
	var next marketplace.Factory
	switch src.Kind {
	case "", "browser":
		next = func(ctx context.Context) (marketplace.Searcher, error) {
			return browser.New(browser.Config{
				Headless:    src.Headless,
				ChromeBin:   src.ChromeBin,
				UserAgent:   src.UserAgent,
				PageTimeout: src.PageTimeout,
				SettleDelay: src.SettleDelay,
			}, f.Logger), nil
		}
	case "feed":
		if _, err := feed.New(src.FeedURLTemplate, src.HTTPTimeout, src.UserAgent, f.Logger); err != nil {
			return nil, err
		}
		next = func(ctx context.Context) (marketplace.Searcher, error) {
			return feed.New(src.FeedURLTemplate, src.HTTPTimeout, src.UserAgent, f.Logger)
		}
	default:
		return nil, fmt.Errorf("unknown source %q", src.Kind)
	}
	return snapshot.WrapFactory(next, src.SnapshotDir, src.SnapshotMode, f.Logger), nil
}

// NewCycle wires a cycle over store and notifier. queries overrides the
// keywords from the environment, which is how a watch file plugs in.
func (f *Factory) NewCycle(store dedupe.SeenStore, notifier runner.Notifier, queries runner.QueryProvider) (*runner.Cycle, error) {
	rule, err := runner.NewItemRule(f.Env.Monitor.ItemRule)
	if err != nil {
		return nil, err
	}
	if queries == nil {
		queries = f.Env
	}
	return &runner.Cycle{
		Queries:     queries,
		Store:       store,
		Notifier:    notifier,
		Rule:        rule,
		Retention:   f.Env.Monitor.Retention,
		SearchDelay: f.Env.Monitor.SearchDelay,
		Metrics:     f.Metrics,
		Logger:      f.Logger,
	}, nil
}

func (f *Factory) NewRunner(cycle *runner.Cycle, sources marketplace.Factory) (*runner.Runner, error) {
	return runner.New(runner.Options{
		Config:  f.Env,
		Cycle:   cycle,
		Sources: sources,
		Metrics: f.Metrics,
		Logger:  f.Logger,
	})
}
