package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/retry"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// collectCards gathers every listing link on the page with its visible text
// and first image.
const collectCards = `
(function() {
	var out = [];
	var links = document.querySelectorAll("a[href*='/marketplace/item/']");
	for (var i = 0; i < links.length; i++) {
		var img = links[i].querySelector('img');
		out.push({
			href: links[i].href || '',
			text: links[i].innerText || '',
			image: img ? (img.src || '') : ''
		});
	}
	return out;
})()
`

type Config struct {
	Headless    bool
	ChromeBin   string
	UserAgent   string
	PageTimeout time.Duration
	// SettleDelay is how long to wait after navigation and after each scroll
	// for results to render.
	SettleDelay time.Duration
	Scrolls     int
}

// Searcher drives one headless Chrome instance. Each search opens a tab.
type Searcher struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
}

func New(cfg Config, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.Scrolls <= 0 {
		cfg.Scrolls = 2
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Searcher{cfg: cfg, logger: logger}
}

// browser starts Chrome on first use and returns the root browser context.
func (s *Searcher) browser() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCtx != nil {
		return s.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(s.cfg.UserAgent),
	)
	if bin := findChromeBinary(s.cfg.ChromeBin); bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	if err := chromedp.Run(browserCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	s.browserCtx = browserCtx
	s.cancelAlloc = cancelAlloc
	s.cancelTab = cancelTab
	s.logger.Info("browser started", "headless", s.cfg.Headless)
	return browserCtx, nil
}

func (s *Searcher) Search(ctx context.Context, q core.Query) ([]core.Item, error) {
	logger := core.LoggerFromContext(ctx, s.logger)
	browserCtx, err := s.browser()
	if err != nil {
		return nil, err
	}

	searchURL := BuildSearchURL(q)
	logger.Info("searching marketplace", "query", q.Term, "url", searchURL)

	var (
		cards      []Card
		currentURL string
	)
	err = retry.Do(ctx, retry.Config{Attempts: 2, BaseDelay: time.Second, MaxDelay: 5 * time.Second}, func(ctx context.Context) error {
		tabCtx, cancel := chromedp.NewContext(browserCtx)
		defer cancel()
		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, s.cfg.PageTimeout+time.Duration(s.cfg.Scrolls+1)*s.cfg.SettleDelay)
		defer cancelTimeout()
		// Tabs hang off the browser context, so tie them to the caller too.
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		cards, currentURL = nil, ""
		if err := chromedp.Run(tabCtx,
			chromedp.Navigate(searchURL),
			chromedp.Sleep(s.cfg.SettleDelay),
			chromedp.Location(&currentURL),
		); err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		if IsLoginWall(currentURL) {
			return nil
		}

		actions := make([]chromedp.Action, 0, 2*s.cfg.Scrolls+1)
		for i := 0; i < s.cfg.Scrolls; i++ {
			actions = append(actions,
				chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
				chromedp.Sleep(s.cfg.SettleDelay),
			)
		}
		actions = append(actions, chromedp.Evaluate(collectCards, &cards))
		if err := chromedp.Run(tabCtx, actions...); err != nil {
			return fmt.Errorf("collect listings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q.Term, err)
	}

	if IsLoginWall(currentURL) {
		logger.Warn("encountered login wall; marketplace may require authentication", "query", q.Term, "url", currentURL)
		return nil, nil
	}

	items := ParseCards(cards, q.Term, q.Limit)
	logger.Info("marketplace search complete", "query", q.Term, "links", len(cards), "listings", len(items))
	return items, nil
}

func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCtx == nil {
		return nil
	}
	s.cancelTab()
	s.cancelAlloc()
	s.browserCtx = nil
	s.logger.Info("browser closed")
	return nil
}

// findChromeBinary prefers an explicit path, then common install locations.
// An empty result lets chromedp search PATH itself.
func findChromeBinary(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, candidate := range []string{
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
