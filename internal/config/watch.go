package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// WatchDocument is the optional YAML file that lists search terms with
// per-term filter overrides. Omitted fields inherit the env defaults.
//
//	terms:
//	  - query: road bike
//	    max_price: 400
//	  - query: standing desk
//	    location: seattle
//	    radius_miles: 20
type WatchDocument struct {
	Terms []WatchTerm `yaml:"terms"`
}

type WatchTerm struct {
	Query       string  `yaml:"query"`
	Location    *string `yaml:"location,omitempty"`
	MinPrice    *int    `yaml:"min_price,omitempty"`
	MaxPrice    *int    `yaml:"max_price,omitempty"`
	RadiusMiles *int    `yaml:"radius_miles,omitempty"`
	Category    *string `yaml:"category,omitempty"`
	Limit       *int    `yaml:"limit,omitempty"`
}

// ParseWatchDocument decodes a watch document and expands it into queries,
// filling unset fields from base.
func ParseWatchDocument(data []byte, base SearchEnvConfig) ([]core.Query, error) {
	var doc WatchDocument
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode watch document: %w", err)
	}

	queries := make([]core.Query, 0, len(doc.Terms))
	for i, term := range doc.Terms {
		text := strings.TrimSpace(term.Query)
		if text == "" {
			return nil, fmt.Errorf("terms[%d]: query is required", i)
		}
		q := base.query(text)
		if term.Location != nil {
			q.Location = *term.Location
		}
		if term.MinPrice != nil {
			q.MinPrice = term.MinPrice
		}
		if term.MaxPrice != nil {
			q.MaxPrice = term.MaxPrice
		}
		if q.MinPrice != nil && q.MaxPrice != nil && *q.MinPrice > *q.MaxPrice {
			return nil, fmt.Errorf("terms[%d] (%s): min_price %d is greater than max_price %d", i, text, *q.MinPrice, *q.MaxPrice)
		}
		if term.RadiusMiles != nil {
			q.RadiusMiles = *term.RadiusMiles
		}
		if term.Category != nil {
			q.Category = *term.Category
		}
		if term.Limit != nil {
			if *term.Limit <= 0 {
				return nil, fmt.Errorf("terms[%d] (%s): limit must be positive", i, text)
			}
			q.Limit = *term.Limit
		}
		queries = append(queries, q)
	}
	return queries, nil
}

// WatchFile holds the queries from a watch document and reloads them when the
// file changes on disk. A document that fails to parse leaves the previous
// queries in place.
type WatchFile struct {
	path   string
	base   SearchEnvConfig
	logger *slog.Logger

	mu      sync.RWMutex
	queries []core.Query
}

// NewWatchFile loads path once. The initial load must succeed.
func NewWatchFile(path string, base SearchEnvConfig, logger *slog.Logger) (*WatchFile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WatchFile{path: path, base: base, logger: logger}
	if err := w.Reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Queries returns a copy of the current query set.
func (w *WatchFile) Queries() []core.Query {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]core.Query, len(w.queries))
	copy(out, w.queries)
	return out
}

func (w *WatchFile) Reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("read watch file: %w", err)
	}
	queries, err := ParseWatchDocument(data, w.base)
	if err != nil {
		return fmt.Errorf("parse watch file %s: %w", w.path, err)
	}
	w.mu.Lock()
	w.queries = queries
	w.mu.Unlock()
	return nil
}

// Watch blocks until ctx is done, reloading the document whenever it is
// written, created or renamed into place. The parent directory is watched so
// editors that replace the file atomically are picked up.
func (w *WatchFile) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Warn("watch file reload failed; keeping previous terms", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("watch file reloaded", "path", w.path, "terms", len(w.Queries()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch file watcher error", "path", w.path, "error", err)
		}
	}
}
