package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestParseWatchDocument_InheritsAndOverrides(t *testing.T) {
	base := SearchEnvConfig{
		Location:    "portland",
		RadiusMiles: 40,
		MaxPrice:    intPtr(500),
		Limit:       20,
	}
	doc := `
terms:
  - query: road bike
  - query: standing desk
    location: seattle
    max_price: 150
    limit: 5
`
	queries, err := ParseWatchDocument([]byte(doc), base)
	if err != nil {
		t.Fatalf("ParseWatchDocument: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(queries))
	}

	bike := queries[0]
	if bike.Term != "road bike" || bike.Location != "portland" || bike.RadiusMiles != 40 || bike.Limit != 20 {
		t.Fatalf("unexpected inherited query: %+v", bike)
	}
	if bike.MaxPrice == nil || *bike.MaxPrice != 500 {
		t.Fatalf("expected inherited max price 500, got %v", bike.MaxPrice)
	}

	desk := queries[1]
	if desk.Location != "seattle" || desk.Limit != 5 {
		t.Fatalf("unexpected override query: %+v", desk)
	}
	if desk.MaxPrice == nil || *desk.MaxPrice != 150 {
		t.Fatalf("expected max price override 150, got %v", desk.MaxPrice)
	}
}

func TestParseWatchDocument_Errors(t *testing.T) {
	cases := map[string]string{
		"empty query":   "terms:\n  - query: \"  \"\n",
		"unknown field": "terms:\n  - query: a\n    colour: red\n",
		"price range":   "terms:\n  - query: a\n    min_price: 10\n    max_price: 5\n",
		"bad limit":     "terms:\n  - query: a\n    limit: 0\n",
	}
	for name, doc := range cases {
		if _, err := ParseWatchDocument([]byte(doc), SearchEnvConfig{Limit: 20}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestWatchFile_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.yaml")
	if err := os.WriteFile(path, []byte("terms:\n  - query: couch\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	w, err := NewWatchFile(path, SearchEnvConfig{Limit: 20}, nil)
	if err != nil {
		t.Fatalf("NewWatchFile: %v", err)
	}
	if got := w.Queries(); len(got) != 1 || got[0].Term != "couch" {
		t.Fatalf("unexpected queries: %+v", got)
	}

	if err := os.WriteFile(path, []byte("terms: [\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Reload(); err == nil || !strings.Contains(err.Error(), "parse watch file") {
		t.Fatalf("expected parse error, got %v", err)
	}
	if got := w.Queries(); len(got) != 1 || got[0].Term != "couch" {
		t.Fatalf("expected previous queries to be kept, got %+v", got)
	}

	if err := os.WriteFile(path, []byte("terms:\n  - query: couch\n  - query: lamp\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := w.Queries(); len(got) != 2 {
		t.Fatalf("expected 2 queries after reload, got %+v", got)
	}
}
