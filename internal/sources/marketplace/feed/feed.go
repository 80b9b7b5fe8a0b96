package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/retry"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace"
)

// Searcher queries a marketplace through RSS/Atom search feeds. The URL
// template must contain {query}; {location}, {min_price}, {max_price} and
// {radius} are filled when present.
type Searcher struct {
	template string
	parser   *gofeed.Parser
	logger   *slog.Logger
}

const defaultUserAgent = "marketwatch/0.1"

func New(urlTemplate string, timeout time.Duration, userAgent string, logger *slog.Logger) (*Searcher, error) {
	if !strings.Contains(urlTemplate, "{query}") {
		return nil, fmt.Errorf("feed url template %q has no {query} placeholder", urlTemplate)
	}
	if logger == nil {
		logger = slog.Default()
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	parser.UserAgent = userAgent
	return &Searcher{template: urlTemplate, parser: parser, logger: logger}, nil
}

// FeedURL expands the template for q.
func (s *Searcher) FeedURL(q core.Query) string {
	price := func(p *int) string {
		if p == nil {
			return ""
		}
		return strconv.Itoa(*p)
	}
	radius := ""
	if q.RadiusMiles > 0 {
		radius = strconv.Itoa(q.RadiusMiles)
	}
	return strings.NewReplacer(
		"{query}", url.QueryEscape(q.Term),
		"{location}", url.QueryEscape(q.Location),
		"{min_price}", price(q.MinPrice),
		"{max_price}", price(q.MaxPrice),
		"{radius}", radius,
	).Replace(s.template)
}

func (s *Searcher) Search(ctx context.Context, q core.Query) ([]core.Item, error) {
	logger := core.LoggerFromContext(ctx, s.logger)
	feedURL := s.FeedURL(q)

	var parsed *gofeed.Feed
	err := retry.Do(ctx, retry.Config{Attempts: 3, BaseDelay: 200 * time.Millisecond}, func(ctx context.Context) error {
		f, err := s.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			var httpErr gofeed.HTTPError
			if asHTTPError(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
				return retry.Permanent(err)
			}
			return err
		}
		parsed = f
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse feed for %q: %w", q.Term, err)
	}

	items := make([]core.Item, 0, len(parsed.Items))
	seen := make(map[string]struct{}, len(parsed.Items))
	for _, entry := range parsed.Items {
		if q.Limit > 0 && len(items) >= q.Limit {
			break
		}
		item, ok := toItem(entry, q.Term)
		if !ok {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		if !withinPrice(item.Price, q.MinPrice, q.MaxPrice) {
			continue
		}
		seen[item.ID] = struct{}{}
		items = append(items, item)
	}
	logger.Info("feed search complete", "query", q.Term, "entries", len(parsed.Items), "listings", len(items))
	return items, nil
}

func (s *Searcher) Close() error { return nil }

func asHTTPError(err error, target *gofeed.HTTPError) bool {
	if e, ok := err.(gofeed.HTTPError); ok {
		*target = e
		return true
	}
	return false
}

func toItem(entry *gofeed.Item, term string) (core.Item, bool) {
	id := ""
	if entry.Link != "" {
		if lid, ok := marketplace.ListingID(entry.Link); ok {
			id = lid
		}
	}
	if id == "" {
		id = strings.TrimSpace(entry.GUID)
	}
	if id == "" {
		id = strings.TrimSpace(entry.Link)
	}
	if id == "" {
		return core.Item{}, false
	}

	body := entry.Description
	if body == "" {
		body = entry.Content
	}
	text, firstImage := TextAndImage(body)

	item := core.Item{
		ID:          id,
		Title:       strings.TrimSpace(entry.Title),
		Price:       "Price not listed",
		Location:    "Unknown location",
		URL:         entry.Link,
		Description: text,
		Term:        term,
	}
	if p := customValue(entry, "price"); p != "" {
		item.Price = p
	} else if p := findPrice(item.Title + " " + text); p != "" {
		item.Price = p
	}
	if loc := customValue(entry, "location"); loc != "" {
		item.Location = loc
	}
	switch {
	case entry.Image != nil && entry.Image.URL != "":
		item.ImageURL = entry.Image.URL
	case imageEnclosure(entry) != "":
		item.ImageURL = imageEnclosure(entry)
	default:
		item.ImageURL = firstImage
	}
	return item, true
}

func customValue(entry *gofeed.Item, key string) string {
	if entry.Custom == nil {
		return ""
	}
	return strings.TrimSpace(entry.Custom[key])
}

func imageEnclosure(entry *gofeed.Item) string {
	for _, enc := range entry.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

var pricePattern = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d{2})?|\bFree\b`)

func findPrice(text string) string {
	return pricePattern.FindString(text)
}

// withinPrice applies the price filter to prices it can read. Unreadable
// prices ("Price not listed") always pass.
func withinPrice(price string, minPrice, maxPrice *int) bool {
	if minPrice == nil && maxPrice == nil {
		return true
	}
	var amount float64
	if strings.EqualFold(price, "free") {
		amount = 0
	} else {
		digits := strings.NewReplacer("$", "", ",", "", " ", "").Replace(price)
		v, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return true
		}
		amount = v
	}
	if minPrice != nil && amount < float64(*minPrice) {
		return false
	}
	if maxPrice != nil && amount > float64(*maxPrice) {
		return false
	}
	return true
}
