// Package sqlstore implements domain.Store on database/sql. SQLite (via
// modernc.org/sqlite) is the default backend; PostgreSQL is reached through
// the pgx stdlib driver.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Dialect identifies the SQL flavour behind a Store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const defaultMaxOpenConns = 5

// timeLayout is fixed width so that text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements domain.Store over a database/sql pool.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	logger  *slog.Logger
}

var _ domain.Store = (*Store)(nil)

type options struct {
	maxOpenConns int
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithMaxOpenConns overrides the pool size (default 5).
func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpenConns = n }
}

// WithClock replaces the clock used for first_seen_at, last_updated_at and
// price history timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ParseURL maps a DATABASE_URL onto a driver name, data source name and
// dialect. Accepted forms are "sqlite:<path>", "sqlite://<path>", "file:<path>",
// a bare file path, and "postgres://" / "postgresql://" URLs.
func ParseURL(rawURL string) (driver, dsn string, dialect Dialect, err error) {
	u := strings.TrimSpace(rawURL)
	switch {
	case u == "":
		return "", "", "", domain.ConfigError("sqlstore: parse url", "empty database url", nil)
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return "pgx", u, DialectPostgres, nil
	case strings.HasPrefix(u, "sqlite://"):
		return "sqlite", strings.TrimPrefix(u, "sqlite://"), DialectSQLite, nil
	case strings.HasPrefix(u, "sqlite:"):
		return "sqlite", strings.TrimPrefix(u, "sqlite:"), DialectSQLite, nil
	case strings.Contains(u, "://"):
		return "", "", "", domain.ConfigError("sqlstore: parse url", fmt.Sprintf("unsupported database url scheme in %q", u), nil)
	default:
		return "sqlite", u, DialectSQLite, nil
	}
}

// sqlitePragmas are applied by the driver to every pooled connection.
// Immediate transactions take the write lock at BEGIN.
var sqlitePragmas = []string{
	"_pragma=busy_timeout(5000)",
	"_pragma=journal_mode(WAL)",
	"_txlock=immediate",
}

// sqliteDSN appends the connection parameters to a sqlite data source name.
func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(sqlitePragmas, "&")
}

// Open connects to the database named by rawURL and verifies the connection.
// The schema is created by Init.
func Open(ctx context.Context, rawURL string, opts ...Option) (*Store, error) {
	o := options{
		maxOpenConns: defaultMaxOpenConns,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	driver, dsn, dialect, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	if dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, domain.StorageError("sqlstore: open", err)
	}
	db.SetMaxOpenConns(o.maxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, domain.StorageError("sqlstore: ping", err)
	}

	return &Store{
		db:      db,
		dialect: dialect,
		now:     o.now,
		logger:  o.logger.With(slog.String("component", "sqlstore"), slog.String("dialect", string(dialect))),
	}, nil
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports which SQL flavour the store speaks.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return domain.StorageError("sqlstore: close", err)
	}
	return nil
}

// Init applies the embedded migrations for the store's dialect in
// lexicographic order and records each in schema_migrations. It is safe to
// call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	createTracker := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`
	if _, err := s.db.ExecContext(ctx, createTracker); err != nil {
		return domain.StorageError("sqlstore: create schema_migrations table", err)
	}

	dir := "migrations/" + string(s.dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return domain.StorageError("sqlstore: read migrations dir", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if err := s.applyMigration(ctx, dir, entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, dir, name string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = ?)"),
		name,
	).Scan(&exists)
	if err != nil {
		return domain.StorageError("sqlstore: check migration "+name, err)
	}
	if exists {
		return nil
	}

	data, err := migrationsFS.ReadFile(dir + "/" + name)
	if err != nil {
		return domain.StorageError("sqlstore: read migration "+name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError("sqlstore: begin tx for "+name, err)
	}
	if _, err := tx.ExecContext(ctx, string(data)); err != nil {
		_ = tx.Rollback()
		return domain.StorageError("sqlstore: exec migration "+name, err)
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind("INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)"),
		name, formatTime(s.now()),
	); err != nil {
		_ = tx.Rollback()
		return domain.StorageError("sqlstore: record migration "+name, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.StorageError("sqlstore: commit migration "+name, err)
	}

	s.logger.Info("applied migration", slog.String("file", name))
	return nil
}

// rebind rewrites '?' placeholders into '$n' for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return domain.StringPtr(ns.String)
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func boolPtr(nb sql.NullBool) *bool {
	if !nb.Valid {
		return nil
	}
	return domain.BoolPtr(nb.Bool)
}
