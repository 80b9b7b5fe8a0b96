package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/joho/godotenv"
)

type EnvConfig struct {
	Search    SearchEnvConfig
	Monitor   MonitorEnvConfig
	Store     StoreEnvConfig
	Source    SourceEnvConfig
	Telegram  TelegramEnvConfig
	SMTP      SMTPEnvConfig
	Email     EmailEnvConfig
	OTel      OTelEnvConfig
	HTTP      HTTPEnvConfig
	Log       LogEnvConfig
	WatchFile string
}

type SearchEnvConfig struct {
	Keywords    []string
	Location    string
	RadiusMiles int
	MinPrice    *int
	MaxPrice    *int
	Category    string
	Limit       int
}

type MonitorEnvConfig struct {
	CheckInterval time.Duration
	// Schedule is an optional cron expression that replaces CheckInterval.
	Schedule      string
	MaxRetries    int
	RetryCooldown time.Duration
	Retention     time.Duration
	SearchDelay   time.Duration
	NotifyDelay   time.Duration
	ItemRule      string
}

type StoreEnvConfig struct {
	Backend string // "json", "sqlite", "postgres" or "badger"
	Path    string
	DSN     string
	Table   string
}

type SourceEnvConfig struct {
	Kind            string // "browser" or "feed"
	Headless        bool
	ChromeBin       string
	PageTimeout     time.Duration
	SettleDelay     time.Duration
	FeedURLTemplate string
	HTTPTimeout     time.Duration
	UserAgent       string
	// SnapshotDir and SnapshotMode ("record" or "replay") capture search
	// results to disk or serve them back without touching the marketplace.
	SnapshotDir  string
	SnapshotMode string
}

type TelegramEnvConfig struct {
	BotToken string
	ChatID   string
	APIURL   string
}

func (c TelegramEnvConfig) Enabled() bool {
	return c.BotToken != "" && c.ChatID != ""
}

type SMTPEnvConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	TLSMode            string
	InsecureSkipVerify bool
}

type EmailEnvConfig struct {
	From string
	To   string
}

type OTelEnvConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Protocol    string // "grpc" or "http/protobuf"
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

type HTTPEnvConfig struct {
	Addr string
}

type LogEnvConfig struct {
	Level string
	File  string
}

// EmailEnabled reports whether both an SMTP relay and a recipient are set.
func (c EnvConfig) EmailEnabled() bool {
	return c.SMTP.Host != "" && c.Email.To != ""
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Variables that are already set win. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		existing = append(existing, path)
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func LoadEnv() EnvConfig {
	otlpEndpoint := strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""))

	retention := time.Duration(envInt("CLEANUP_DAYS", 7)) * 24 * time.Hour
	retention = envDuration("RETENTION", retention)
	backend := strings.ToLower(envString("STORE_BACKEND", "json"))

	return EnvConfig{
		Search: SearchEnvConfig{
			Keywords:    splitList(envString("SEARCH_KEYWORDS", "")),
			Location:    envString("SEARCH_LOCATION", ""),
			RadiusMiles: envInt("SEARCH_RADIUS_MILES", 40),
			MinPrice:    envIntPtr("SEARCH_MIN_PRICE"),
			MaxPrice:    envIntPtr("SEARCH_MAX_PRICE"),
			Category:    envString("SEARCH_CATEGORY", ""),
			Limit:       envInt("MAX_LISTINGS_PER_CHECK", 20),
		},
		Monitor: MonitorEnvConfig{
			CheckInterval: envSeconds("CHECK_INTERVAL_SECONDS", 300*time.Second),
			Schedule:      envString("CHECK_SCHEDULE", ""),
			MaxRetries:    envInt("MAX_RETRIES", 3),
			RetryCooldown: envSeconds("RETRY_DELAY_SECONDS", 60*time.Second),
			Retention:     retention,
			SearchDelay:   envDuration("SEARCH_DELAY", 2*time.Second),
			NotifyDelay:   envDuration("NOTIFY_DELAY", time.Second),
			ItemRule:      envString("ITEM_RULE", ""),
		},
		Store: StoreEnvConfig{
			Backend: backend,
			Path:    envString("STORAGE_FILE", defaultStorePath(backend)),
			DSN:     envString("STORE_DSN", ""),
			Table:   envString("STORE_TABLE", ""),
		},
		Source: SourceEnvConfig{
			Kind:            strings.ToLower(envString("SOURCE", "browser")),
			Headless:        envBool("HEADLESS_BROWSER", true),
			ChromeBin:       envString("CHROME_BIN", ""),
			PageTimeout:     envDuration("PAGE_LOAD_TIMEOUT", 30*time.Second),
			SettleDelay:     envDuration("PAGE_SETTLE_DELAY", 3*time.Second),
			FeedURLTemplate: envString("FEED_URL_TEMPLATE", ""),
			HTTPTimeout:     envDuration("FEED_HTTP_TIMEOUT", 15*time.Second),
			UserAgent:       envString("SOURCE_USER_AGENT", ""),
			SnapshotDir:     envString("SOURCE_SNAPSHOT_DIR", ""),
			SnapshotMode:    strings.ToLower(envString("SOURCE_SNAPSHOT_MODE", "")),
		},
		Telegram: TelegramEnvConfig{
			BotToken: envString("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   envString("TELEGRAM_CHAT_ID", ""),
			APIURL:   envString("TELEGRAM_API_URL", ""),
		},
		SMTP: SMTPEnvConfig{
			Host:               envString("SMTP_HOST", ""),
			Port:               envInt("SMTP_PORT", 587),
			User:               envString("SMTP_USER", ""),
			Password:           envString("SMTP_PASSWORD", ""),
			TLSMode:            envString("SMTP_TLS_MODE", ""),
			InsecureSkipVerify: envBool("SMTP_INSECURE_SKIP_VERIFY", false),
		},
		Email: EmailEnvConfig{
			From: envString("EMAIL_FROM", ""),
			To:   envString("EMAIL_TO", ""),
		},
		OTel: OTelEnvConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			ServiceName: strings.TrimSpace(envString("OTEL_SERVICE_NAME", "marketwatch")),
			Endpoint:    otlpEndpoint,
			Protocol:    strings.ToLower(strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			Headers:     parseHeaders(envString("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", defaultInsecure(otlpEndpoint)),
			SampleRatio: clamp01(envFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0)),
		},
		HTTP: HTTPEnvConfig{
			Addr: envString("HTTP_ADDR", ":5000"),
		},
		Log: LogEnvConfig{
			Level: envString("LOG_LEVEL", "INFO"),
			File:  envString("LOG_FILE", ""),
		},
		WatchFile: envString("WATCH_FILE", ""),
	}
}

// Queries expands the configured keywords into one query per keyword using
// the shared search filters.
func (c EnvConfig) Queries() []core.Query {
	queries := make([]core.Query, 0, len(c.Search.Keywords))
	for _, keyword := range c.Search.Keywords {
		queries = append(queries, c.Search.query(keyword))
	}
	return queries
}

func (s SearchEnvConfig) query(term string) core.Query {
	return core.Query{
		Term:        term,
		Location:    s.Location,
		MinPrice:    s.MinPrice,
		MaxPrice:    s.MaxPrice,
		RadiusMiles: s.RadiusMiles,
		Category:    s.Category,
		Limit:       s.Limit,
	}
}

// defaultStorePath names the store file or directory after its backend.
// Postgres has no path.
func defaultStorePath(backend string) string {
	switch backend {
	case "sqlite":
		return "seen_listings.db"
	case "badger":
		return "seen_listings.badger"
	case "postgres":
		return ""
	default:
		return "seen_listings.json"
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envIntPtr(key string) *int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &i
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// envSeconds reads a plain integer number of seconds for the *_SECONDS
// variables. Duration strings are accepted too.
func envSeconds(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return envDuration(key, fallback)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func defaultInsecure(endpoint string) bool {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return true
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return u.Scheme == "http"
	}
	return strings.HasPrefix(endpoint, "localhost:") ||
		strings.HasPrefix(endpoint, "127.0.0.1:") ||
		strings.HasPrefix(endpoint, "0.0.0.0:")
}
