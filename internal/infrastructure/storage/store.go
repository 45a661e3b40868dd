package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"NewsIngest/internal/domain"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = domain.ErrNotFound

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the relational persistence layer. It does not own the *sql.DB.
type Store struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
	now    func() time.Time
}

// OpenDB opens a database handle for driver; the caller closes it.
func OpenDB(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite, "":
		db, err := sql.Open(DriverSQLite, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// In-memory databases are per-connection.
		if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
			db.SetMaxOpenConns(1)
		}
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("apply %s: %w", pragma, err)
			}
		}
		return db, nil
	case DriverPostgres:
		db, err := sql.Open(DriverPostgres, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// New wraps db using the placeholder style of driver.
func New(db *sql.DB, driver string) *Store {
	if driver == "" {
		driver = DriverSQLite
	}
	var format sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres {
		format = sq.Dollar
	}
	return &Store{
		db:     db,
		driver: driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(format),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrate applies the embedded schema files that have not run yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	dir := "migrations/" + s.driver
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		query, args, err := s.sb.Select("COUNT(*)").From("schema_migrations").Where(sq.Eq{"version": f}).ToSql()
		if err != nil {
			return fmt.Errorf("build migration check: %w", err)
		}
		var applied int
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(dir + "/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		record, rargs, err := s.sb.Insert("schema_migrations").
			Columns("version", "applied_at").
			Values(f, s.now().Format(timeLayout)).
			ToSql()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("build migration record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, record, rargs...); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Store) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryRowContext(ctx, query, args...), nil
}

// ts converts a timestamp into the column representation of the dialect.
func (s *Store) ts(t time.Time) any {
	if s.driver == DriverPostgres {
		return t.UTC()
	}
	return t.UTC().Format(timeLayout)
}

func (s *Store) tsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.ts(*t)
}

var scanLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func parseTS(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	for _, layout := range scanLayouts {
		if t, err := time.Parse(layout, ns.String); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func mustTS(ns sql.NullString) time.Time {
	if t := parseTS(ns); t != nil {
		return *t
	}
	return time.Time{}
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
