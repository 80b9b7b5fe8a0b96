package dedupe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/bakkerme/marketwatch/internal/core"
)

const (
	defaultSQLTable     = "seen_listings"
	defaultHitCacheSize = 4096

	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// SQLStore is an incremental SeenStore over database/sql. Timestamps are kept
// as unix nanoseconds so range comparisons behave the same on every dialect.
// Positive lookups are cached; seen ids only leave the store through Cleanup
// or Clear, which purge the cache.
type SQLStore struct {
	db         *sql.DB
	dialect    string
	path       string
	table      string
	tableIdent string
	clock      Clock
	hits       *lru.Cache[string, struct{}]
}

// NewSQLiteStore opens a SQLite-backed store. dsn is a file path or a
// "file:" URI.
func NewSQLiteStore(dsn string, table string, clock Clock) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if err := ensureSQLiteDir(dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return newSQLStore(db, dialectSQLite, sqlitePath(dsn), table, clock)
}

// NewPostgresStore opens a Postgres-backed store using lib/pq.
func NewPostgresStore(dsn string, table string, clock Clock) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newSQLStore(db, dialectPostgres, "", table, clock)
}

func newSQLStore(db *sql.DB, dialect, path, table string, clock Clock) (*SQLStore, error) {
	if table == "" {
		table = defaultSQLTable
	}
	tableIdent, err := quoteSQLIdentifier(table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	hits, err := lru.New[string, struct{}](defaultHitCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create hit cache: %w", err)
	}
	store := &SQLStore{
		db:         db,
		dialect:    dialect,
		path:       path,
		table:      table,
		tableIdent: tableIdent,
		clock:      clock,
		hits:       hits,
	}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) HasSeen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	if s.hits.Contains(id) {
		return true, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, s.q("SELECT 1 FROM %s WHERE id = ?"), id).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup %s: %w", id, err)
	}
	s.hits.Add(id, struct{}{})
	return true, nil
}

func (s *SQLStore) MarkSeen(ctx context.Context, id, title string, notified bool) error {
	if id == "" {
		return nil
	}
	now := s.clock.now().UnixNano()
	_, err := s.db.ExecContext(
		ctx,
		s.q("INSERT INTO %s (id, first_seen, last_seen, title, notified) VALUES (?, ?, ?, ?, ?) ON CONFLICT(id) DO UPDATE SET last_seen = excluded.last_seen"),
		id, now, now, title, notified,
	)
	if err != nil {
		return fmt.Errorf("mark seen %s: %w", id, err)
	}
	s.hits.Add(id, struct{}{})
	return nil
}

func (s *SQLStore) NewIDs(ctx context.Context, ids []string) ([]string, error) {
	return unseen(ids, func(id string) (bool, error) {
		return s.HasSeen(ctx, id)
	})
}

func (s *SQLStore) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.clock.now().Add(-retention).UnixNano()
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM %s WHERE last_seen < ?"), cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}
	if n > 0 {
		s.hits.Purge()
	}
	return int(n), nil
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: s.dialect, Path: s.path}
	if err := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM %s")).Scan(&st.Total); err != nil {
		return Stats{}, fmt.Errorf("count: %w", err)
	}
	switch s.dialect {
	case dialectSQLite:
		if s.path != "" {
			if info, err := os.Stat(s.path); err == nil {
				st.BackingSize = info.Size()
			}
		}
	case dialectPostgres:
		var size sql.NullInt64
		if err := s.db.QueryRowContext(ctx, "SELECT pg_total_relation_size($1)", s.table).Scan(&size); err == nil && size.Valid {
			st.BackingSize = size.Int64
		}
	}
	return st, nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.q("DELETE FROM %s")); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	s.hits.Purge()
	return nil
}

func (s *SQLStore) Records(ctx context.Context) ([]core.SeenRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q("SELECT id, first_seen, last_seen, title, notified FROM %s ORDER BY last_seen DESC, id ASC"))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []core.SeenRecord
	for rows.Next() {
		var (
			rec         core.SeenRecord
			first, last int64
		)
		if err := rows.Scan(&rec.ID, &first, &last, &rec.Title, &rec.Notified); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.FirstSeen = time.Unix(0, first).UTC()
		rec.LastSeen = time.Unix(0, last).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		first_seen BIGINT NOT NULL,
		last_seen BIGINT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		notified BOOLEAN NOT NULL DEFAULT FALSE
	)`, s.tableIdent)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s table: %w", s.dialect, err)
	}
	index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_last_seen_idx ON %s (last_seen)", s.table, s.tableIdent)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create %s index: %w", s.dialect, err)
	}
	return nil
}

// q fills in the table name and rewrites ? placeholders for postgres.
func (s *SQLStore) q(format string) string {
	query := fmt.Sprintf(format, s.tableIdent)
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.IndexRune(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == ":memory:" {
		return ""
	}
	return path
}

func ensureSQLiteDir(dsn string) error {
	path := sqlitePath(dsn)
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

var sqlIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteSQLIdentifier(identifier string) (string, error) {
	if identifier == "" {
		return "", fmt.Errorf("table name is required")
	}
	if !sqlIdentifierPattern.MatchString(identifier) {
		return "", fmt.Errorf("table name %q must match %s", identifier, sqlIdentifierPattern.String())
	}
	return `"` + identifier + `"`, nil
}
