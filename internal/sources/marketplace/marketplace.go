package marketplace

import (
	"context"
	"regexp"

	"github.com/bakkerme/marketwatch/internal/core"
)

// Searcher runs one marketplace search. Implementations may hold expensive
// resources (a browser) until Close.
type Searcher interface {
	Search(ctx context.Context, query core.Query) ([]core.Item, error)
	Close() error
}

// Factory opens a Searcher. The monitor opens one per run and closes it on
// every exit path.
type Factory func(ctx context.Context) (Searcher, error)

var itemIDPattern = regexp.MustCompile(`/marketplace/item/(\d+)`)

// ListingID extracts the numeric listing id from a marketplace item link.
func ListingID(href string) (string, bool) {
	m := itemIDPattern.FindStringSubmatch(href)
	if m == nil {
		return "", false
	}
	return m[1], true
}
