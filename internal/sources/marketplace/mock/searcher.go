package mock

import (
	"context"
	"sync"

	"github.com/bakkerme/marketwatch/internal/core"
)

// Searcher returns canned results per search term. Results can be swapped
// between calls with SetItems to simulate new listings appearing.
type Searcher struct {
	mu          sync.Mutex
	ItemsByTerm map[string][]core.Item
	ErrByTerm   map[string]error
	// PanicOn makes Search panic for the named term.
	PanicOn string
	Calls   []core.Query
	Closed  int
}

func (s *Searcher) Search(ctx context.Context, q core.Query) ([]core.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, q)
	if s.PanicOn != "" && q.Term == s.PanicOn {
		panic("mock searcher panic")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.ErrByTerm[q.Term]; ok {
		return nil, err
	}
	items := append([]core.Item(nil), s.ItemsByTerm[q.Term]...)
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, nil
}

func (s *Searcher) SetItems(term string, items []core.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ItemsByTerm == nil {
		s.ItemsByTerm = map[string][]core.Item{}
	}
	s.ItemsByTerm[term] = items
}

func (s *Searcher) SetErr(term string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrByTerm == nil {
		s.ErrByTerm = map[string]error{}
	}
	if err == nil {
		delete(s.ErrByTerm, term)
		return
	}
	s.ErrByTerm[term] = err
}

func (s *Searcher) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

func (s *Searcher) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}

func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed++
	return nil
}
