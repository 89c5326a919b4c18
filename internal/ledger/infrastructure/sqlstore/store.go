// Package sqlstore implements the ledger on database/sql for SQLite
// (modernc.org/sqlite) and Postgres (pgx stdlib).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"powerwatch/internal/ledger"
)

// timeLayout sorts lexicographically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// sqlitePragmas are applied by the driver to every pooled connection.
var sqlitePragmas = []string{"busy_timeout(5000)", "journal_mode(WAL)"}

// Store is a ledger.Store backed by a *sql.DB pool.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens the database and verifies connectivity. The schema is not
// touched; call Migrate.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("sqlstore: empty dsn")
	}
	if dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// New wraps an existing pool.
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: nil db")
	}
	return &Store{db: db, dialect: dialect}, nil
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Session checks out a dedicated connection for one cycle.
func (s *Store) Session(ctx context.Context) (ledger.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: acquire connection: %w", err)
	}
	return &session{conn: conn, dialect: s.dialect}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// sqliteDSN appends the connection pragmas unless the DSN already sets them.
func sqliteDSN(dsn string) string {
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, pragma := range sqlitePragmas {
		name := pragma[:strings.IndexByte(pragma, '(')]
		if strings.Contains(dsn, "_pragma="+name) {
			continue
		}
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(pragma)
		sep = "&"
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Parse(time.RFC3339Nano, value)
	}
	return t, nil
}
