package browser

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace"
)

const (
	BaseURL = "https://www.facebook.com/marketplace"

	unknownTitle    = "Unknown"
	unknownPrice    = "Price not listed"
	unknownLocation = "Unknown location"
)

// Card is the raw data pulled from one listing link on a results page.
type Card struct {
	Href  string `json:"href"`
	Text  string `json:"text"`
	Image string `json:"image"`
}

// BuildSearchURL returns the results URL for q, newest listings first. A
// category replaces the generic search path.
func BuildSearchURL(q core.Query) string {
	base := BaseURL + "/search"
	if c := strings.Trim(strings.TrimSpace(q.Category), "/"); c != "" {
		base = BaseURL + "/" + url.PathEscape(c)
	}
	params := url.Values{}
	params.Set("query", q.Term)
	params.Set("sortBy", "creation_time_descend")
	params.Set("exact", "false")
	if q.MinPrice != nil {
		params.Set("minPrice", strconv.Itoa(*q.MinPrice))
	}
	if q.MaxPrice != nil {
		params.Set("maxPrice", strconv.Itoa(*q.MaxPrice))
	}
	if q.RadiusMiles > 0 {
		params.Set("radius", strconv.Itoa(q.RadiusMiles))
	}
	return base + "?" + params.Encode()
}

// ParseCards turns raw cards into items, skipping links without a listing id
// and repeats of the same id. At most limit items are returned when limit > 0.
//
// Card text is line based: price first (when it has a "$" or "Free"), then
// the title, with the location on the last line.
func ParseCards(cards []Card, term string, limit int) []core.Item {
	items := make([]core.Item, 0, len(cards))
	seen := make(map[string]struct{}, len(cards))
	for _, card := range cards {
		if limit > 0 && len(items) >= limit {
			break
		}
		id, ok := marketplace.ListingID(card.Href)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		item := core.Item{
			ID:       id,
			Title:    unknownTitle,
			Price:    unknownPrice,
			Location: unknownLocation,
			URL:      BaseURL + "/item/" + id + "/",
			ImageURL: strings.TrimSpace(card.Image),
			Term:     term,
		}
		lines := textLines(card.Text)
		if len(lines) >= 1 && (strings.Contains(lines[0], "$") || strings.Contains(lines[0], "Free")) {
			item.Price = lines[0]
		}
		if len(lines) >= 2 {
			item.Title = lines[1]
		} else if len(lines) == 1 && item.Price == unknownPrice {
			item.Title = lines[0]
		}
		if len(lines) >= 3 {
			item.Location = lines[len(lines)-1]
		}
		items = append(items, item)
	}
	return items
}

func textLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// IsLoginWall reports whether the browser was redirected to a login page.
func IsLoginWall(currentURL string) bool {
	return strings.Contains(strings.ToLower(currentURL), "login")
}
