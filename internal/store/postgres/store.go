package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// Store implements domain.Store on PostgreSQL. Every WithTx call is one
// database transaction; rows read through it are locked FOR UPDATE.
type Store struct {
	pool     *pgxpool.Pool
	verifier domain.VaultVerifier
}

// NewStore creates a Store. verifier checks vault authorities on Transfer.
func NewStore(pool *pgxpool.Pool, verifier domain.VaultVerifier) *Store {
	return &Store{pool: pool, verifier: verifier}
}

// WithTx runs fn in a read-committed transaction and commits when fn
// returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, true, fn)
}

// View runs fn in a read-only transaction without row locks.
func (s *Store) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, lock bool, fn func(tx domain.Tx) error) error {
	dbTx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = dbTx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: dbTx, lock: lock, verifier: s.verifier}); err != nil {
		return err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// pgTx implements domain.Tx over one pgx transaction.
type pgTx struct {
	tx       pgx.Tx
	lock     bool
	verifier domain.VaultVerifier
}

// forUpdate appends a row lock to single-row reads inside WithTx.
func (t *pgTx) forUpdate(query string) string {
	if t.lock {
		return query + " FOR UPDATE"
	}
	return query
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// notFound maps pgx.ErrNoRows to domain.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Amounts are NUMERIC(20,0) so the full uint64 range round-trips as text.
func amountArg(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: parse amount %q: %w", s, err)
	}
	return v, nil
}

// appendPage adds LIMIT and OFFSET clauses for opts.
func appendPage(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*pgTx)(nil)
)
