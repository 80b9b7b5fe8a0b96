package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
)

// Payload is one recorded search.
type Payload struct {
	Query   core.Query  `json:"query"`
	Items   []core.Item `json:"items"`
	SavedAt time.Time   `json:"saved_at"`
}

func Save(path string, query core.Query, items []core.Item) error {
	if path == "" {
		return fmt.Errorf("snapshot path is required")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}
	if items == nil {
		items = []core.Item{}
	}
	payload := Payload{
		Query:   query,
		Items:   items,
		SavedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func Load(path string) (Payload, error) {
	if path == "" {
		return Payload{}, fmt.Errorf("snapshot path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, fmt.Errorf("read snapshot: %w", err)
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Payload{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return payload, nil
}

// PathFor names the snapshot file of a search term inside dir.
func PathFor(dir string, query core.Query) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(query.Term)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.TrimSuffix(b.String(), "-")
	if name == "" {
		name = "search"
	}
	return filepath.Join(dir, name+".json")
}
