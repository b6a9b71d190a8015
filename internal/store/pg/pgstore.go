package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"postdesk.io/internal/collab"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrSerialization       = "40001"
	pgErrDeadlock            = "40P01"
)

// Store persists the collaboration engine in Postgres.
type Store struct {
	db *sql.DB
}

var _ collab.Store = (*Store)(nil)

// Options tunes the connection pool. Zero values keep the defaults.
type Options struct {
	MaxOpenConns int
}

func Open(dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	maxOpen := 50
	if opts.MaxOpenConns > 0 {
		maxOpen = opts.MaxOpenConns
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// InTx runs fn in a read-committed transaction. Conditional writes compare
// versions in their where clause, so a concurrent commit surfaces as
// ErrConflict instead of a lost update.
func (s *Store) InTx(ctx context.Context, fn func(tx collab.Tx) error) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err, "commit")
	}
	return nil
}

// Tx implements collab.Tx on a database transaction.
type Tx struct {
	tx *sql.Tx
}

var _ collab.Tx = (*Tx)(nil)

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapError translates constraint and serialization failures into the engine's
// error kinds. Anything else is returned unchanged.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrUniqueViolation:
		return fmt.Errorf("%w: %s: %s", collab.ErrConflict, what, pgErr.ConstraintName)
	case pgErrSerialization, pgErrDeadlock:
		return fmt.Errorf("%w: %s: concurrent update", collab.ErrConflict, what)
	case pgErrForeignKeyViolation:
		return fmt.Errorf("%w: %s: referenced row is gone", collab.ErrNotFound, what)
	}
	return err
}

// expectOne turns a conditional write that touched no row into ErrConflict,
// or ErrNotFound when the row does not exist at all.
func (t *Tx) expectOne(ctx context.Context, res sql.Result, what, existsQuery string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var one int
	err = t.tx.QueryRowContext(ctx, existsQuery, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", collab.ErrNotFound, what)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s was modified concurrently", collab.ErrConflict, what)
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", collab.ErrNotFound, what)
	}
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
