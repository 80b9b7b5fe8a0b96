package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError lists every configuration problem found before the
// monitor was allowed to start.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "invalid configuration"
	}
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Err returns a *ValidationError when Validate reports problems, nil otherwise.
func (c EnvConfig) Err() error {
	if problems := c.Validate(); len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Validate enumerates every problem that prevents the monitor from running.
func (c EnvConfig) Validate() []string {
	var problems []string

	if !c.Telegram.Enabled() && !c.EmailEnabled() {
		problems = append(problems, "no notification channel configured (set TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID, or SMTP_HOST and EMAIL_TO)")
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		problems = append(problems, "TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if len(c.Search.Keywords) == 0 && strings.TrimSpace(c.WatchFile) == "" {
		problems = append(problems, "SEARCH_KEYWORDS must list at least one search term")
	}
	if c.Search.MinPrice != nil && c.Search.MaxPrice != nil && *c.Search.MinPrice > *c.Search.MaxPrice {
		problems = append(problems, fmt.Sprintf("SEARCH_MIN_PRICE (%d) is greater than SEARCH_MAX_PRICE (%d)", *c.Search.MinPrice, *c.Search.MaxPrice))
	}
	if c.Search.Limit <= 0 {
		problems = append(problems, "MAX_LISTINGS_PER_CHECK must be positive")
	}

	if c.Monitor.Schedule != "" {
		if _, err := cron.ParseStandard(c.Monitor.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("CHECK_SCHEDULE %q is not a valid cron expression: %v", c.Monitor.Schedule, err))
		}
	} else if c.Monitor.CheckInterval <= 0 {
		problems = append(problems, "CHECK_INTERVAL_SECONDS must be positive")
	}
	if c.Monitor.MaxRetries <= 0 {
		problems = append(problems, "MAX_RETRIES must be positive")
	}
	if c.Monitor.RetryCooldown < 0 {
		problems = append(problems, "RETRY_DELAY_SECONDS must not be negative")
	}
	if c.Monitor.Retention <= 0 {
		problems = append(problems, "CLEANUP_DAYS must be positive")
	}

	switch c.Store.Backend {
	case "json", "sqlite", "badger":
		if strings.TrimSpace(c.Store.Path) == "" && strings.TrimSpace(c.Store.DSN) == "" {
			problems = append(problems, "STORAGE_FILE is required")
		}
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			problems = append(problems, "STORE_DSN is required for the postgres store")
		}
	default:
		problems = append(problems, fmt.Sprintf("STORE_BACKEND %q is not supported (json, sqlite, postgres, badger)", c.Store.Backend))
	}

	switch c.Source.Kind {
	case "browser":
	case "feed":
		if !strings.Contains(c.Source.FeedURLTemplate, "{query}") {
			problems = append(problems, "FEED_URL_TEMPLATE must contain a {query} placeholder")
		}
	default:
		problems = append(problems, fmt.Sprintf("SOURCE %q is not supported (browser, feed)", c.Source.Kind))
	}
	switch c.Source.SnapshotMode {
	case "":
	case "record", "replay":
		if strings.TrimSpace(c.Source.SnapshotDir) == "" {
			problems = append(problems, "SOURCE_SNAPSHOT_DIR is required when SOURCE_SNAPSHOT_MODE is set")
		}
	default:
		problems = append(problems, fmt.Sprintf("SOURCE_SNAPSHOT_MODE %q is not supported (record, replay)", c.Source.SnapshotMode))
	}

	return problems
}

// Summary renders the configuration for humans. Secrets are never included.
func (c EnvConfig) Summary() string {
	var b strings.Builder
	line := func(label string, value any) {
		fmt.Fprintf(&b, "  %-22s %v\n", label+":", value)
	}

	b.WriteString("Marketplace monitor configuration\n")
	line("Search keywords", strings.Join(c.Search.Keywords, ", "))
	line("Location", orNone(c.Search.Location))
	line("Radius (miles)", c.Search.RadiusMiles)
	line("Price range", priceRange(c.Search.MinPrice, c.Search.MaxPrice))
	line("Category", orNone(c.Search.Category))
	line("Max listings per check", c.Search.Limit)
	if c.Monitor.Schedule != "" {
		line("Schedule", c.Monitor.Schedule)
	} else {
		line("Check interval", c.Monitor.CheckInterval)
	}
	line("Max retries", c.Monitor.MaxRetries)
	line("Retry cooldown", c.Monitor.RetryCooldown)
	line("Retention", c.Monitor.Retention)
	line("Item rule", orNone(c.Monitor.ItemRule))
	line("Source", c.Source.Kind)
	line("Headless browser", c.Source.Headless)
	line("Store", c.Store.Backend)
	line("Storage file", orNone(c.Store.Path))
	line("Telegram", enabled(c.Telegram.Enabled()))
	line("Email", enabled(c.EmailEnabled()))
	line("Watch file", orNone(c.WatchFile))
	line("Log level", c.Log.Level)
	return b.String()
}

func orNone(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(none)"
	}
	return v
}

func enabled(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

func priceRange(minPrice, maxPrice *int) string {
	switch {
	case minPrice == nil && maxPrice == nil:
		return "any"
	case minPrice == nil:
		return fmt.Sprintf("up to $%d", *maxPrice)
	case maxPrice == nil:
		return fmt.Sprintf("from $%d", *minPrice)
	default:
		return fmt.Sprintf("$%d - $%d", *minPrice, *maxPrice)
	}
}
