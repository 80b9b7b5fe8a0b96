package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace/mock"
)

func TestPathFor(t *testing.T) {
	cases := map[string]string{
		"Road Bike":        "road-bike.json",
		"  standing desk!": "standing-desk.json",
		"???":              "search.json",
	}
	for term, want := range cases {
		if got := PathFor("snaps", core.Query{Term: term}); got != filepath.Join("snaps", want) {
			t.Fatalf("PathFor(%q)=%q want %q", term, got, want)
		}
	}
}

func TestRecordThenReplay(t *testing.T) {
	dir := t.TempDir()
	src := &mock.Searcher{}
	src.SetItems("bike", []core.Item{
		{ID: "1", Title: "Road bike", Price: "$100"},
		{ID: "2", Title: "Kids bike", Price: "$20"},
	})
	live := func(ctx context.Context) (marketplace.Searcher, error) { return src, nil }

	recorder, err := WrapFactory(live, dir, ModeRecord, nil)(context.Background())
	if err != nil {
		t.Fatalf("record factory: %v", err)
	}
	if _, err := recorder.Search(context.Background(), core.Query{Term: "bike"}); err != nil {
		t.Fatalf("record search: %v", err)
	}

	opened := false
	replayFactory := WrapFactory(func(ctx context.Context) (marketplace.Searcher, error) {
		opened = true
		return src, nil
	}, dir, ModeReplay, nil)
	replay, err := replayFactory(context.Background())
	if err != nil {
		t.Fatalf("replay factory: %v", err)
	}
	if opened {
		t.Fatalf("replay must not open the live source")
	}
	items, err := replay.Search(context.Background(), core.Query{Term: "bike", Limit: 1})
	if err != nil {
		t.Fatalf("replay search: %v", err)
	}
	if len(items) != 1 || items[0].ID != "1" || items[0].Term != "bike" {
		t.Fatalf("unexpected replayed items: %+v", items)
	}
	if _, err := replay.Search(context.Background(), core.Query{Term: "desk"}); err == nil {
		t.Fatalf("expected error for a term never recorded")
	}
}
