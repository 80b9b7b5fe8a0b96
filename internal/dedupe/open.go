package dedupe

import (
	"fmt"
	"log/slog"
	"strings"
)

// Open builds the SeenStore named by backend. path is used by the file
// backends; dsn by postgres (and overrides path for sqlite when set).
func Open(backend, path, dsn, table string, logger *slog.Logger) (SeenStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", backendJSON:
		return NewJSONStore(path, logger, nil)
	case dialectSQLite:
		if dsn == "" {
			dsn = path
		}
		return NewSQLiteStore(dsn, table, nil)
	case dialectPostgres:
		return NewPostgresStore(dsn, table, nil)
	case backendBadger:
		return NewBadgerStore(path, nil)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
