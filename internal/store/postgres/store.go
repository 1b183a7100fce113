// Package postgres implements the import storage contract on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/erpimport/internal/core"
)

var (
	upsertCoreData = upsertSQL(coreDataTable, coreDataColumns, "cartel")
	insertCoreData = insertSQL(coreDataTable, coreDataColumns)
)

// PoolOptions sizes the connection pool.
type PoolOptions struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Connect parses url, applies opts and verifies the connection.
func Connect(ctx context.Context, url string, opts PoolOptions) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, gerrors.Wrap(err, "parse database URL")
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns >= 0 {
		poolConfig.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, gerrors.Wrap(err, "connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, gerrors.Wrap(err, "ping database")
	}
	return pool, nil
}

// Store is the PostgreSQL implementation of core.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) CountKeys(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+coreDataTable).Scan(&n); err != nil {
		return 0, gerrors.Wrap(err, "count core data")
	}
	return n, nil
}

func (s *Store) ListKeys(ctx context.Context) (core.KeySet, error) {
	return s.queryKeys(ctx, "SELECT cartel FROM "+coreDataTable)
}

func (s *Store) ListProtectedKeys(ctx context.Context) (core.KeySet, error) {
	return s.queryKeys(ctx, "SELECT DISTINCT cartel FROM "+linksTable+" WHERE cartel IS NOT NULL")
}

func (s *Store) queryKeys(ctx context.Context, query string) (core.KeySet, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, gerrors.Wrap(err, "query keys")
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, gerrors.Wrap(err, "scan keys")
	}

	set := make(core.KeySet, len(keys))
	for _, k := range keys {
		set.Add(core.Key(k))
	}
	return set, nil
}

// DeleteWhereKeyNotIn removes every record whose key is not in keep.
func (s *Store) DeleteWhereKeyNotIn(ctx context.Context, keep core.KeySet) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM "+coreDataTable+" WHERE NOT (cartel = ANY($1))", keep.Int64s())
	if err != nil {
		return 0, gerrors.Wrap(err, "delete unprotected records")
	}
	return tag.RowsAffected(), nil
}

// ApplyBatch runs fn in one transaction, committing when it returns nil.
func (s *Store) ApplyBatch(ctx context.Context, fn func(core.BatchWriter) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return gerrors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(&batchWriter{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return gerrors.Wrap(err, "commit")
	}
	return nil
}

type batchWriter struct {
	tx pgx.Tx
	sp int
}

func (w *batchWriter) UpsertByKey(ctx context.Context, rec core.CandidateRecord) error {
	return w.exec(ctx, rec.Cartel, upsertCoreData, rec.Values())
}

func (w *batchWriter) Insert(ctx context.Context, rec core.CandidateRecord) error {
	return w.exec(ctx, rec.Cartel, insertCoreData, rec.Values())
}

// exec runs one statement under a savepoint. Data and constraint errors
// roll back to the savepoint and come back as *core.RowError.
func (w *batchWriter) exec(ctx context.Context, key core.Key, query string, args []any) error {
	w.sp++
	savepoint := fmt.Sprintf("sp_%d", w.sp)
	if _, err := w.tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
		return gerrors.Wrap(err, "create savepoint")
	}

	if _, err := w.tx.Exec(ctx, query, args...); err != nil {
		if !isRowRejection(err) {
			return gerrors.Wrapf(err, "write cartel %d", key)
		}
		if _, rbErr := w.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return gerrors.Wrap(rbErr, "rollback savepoint")
		}
		return &core.RowError{Key: key, Err: err}
	}

	if _, err := w.tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return gerrors.Wrap(err, "release savepoint")
	}
	return nil
}

// isRowRejection reports whether err is confined to the row: SQLSTATE
// class 22 (data exception) or 23 (integrity constraint violation).
func isRowRejection(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	class := pgErr.Code[:2]
	return class == "22" || class == "23"
}

// ReplaceAnalytics swaps the analytics table for rows in one transaction.
func (s *Store) ReplaceAnalytics(ctx context.Context, rows []core.AnalyticsRecord) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, gerrors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM "+analyticsTable); err != nil {
		return 0, gerrors.Wrap(err, "clear analytics")
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{analyticsTable}, analyticsColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return copyValues(rows[i].Values())
		}))
	if err != nil {
		return 0, gerrors.Wrap(err, "copy analytics")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, gerrors.Wrap(err, "commit")
	}
	return n, nil
}

// copyValues converts decimals to pgtype.Numeric for the binary COPY protocol.
func copyValues(vals []any) ([]any, error) {
	for i, v := range vals {
		d, ok := v.(decimal.Decimal)
		if !ok {
			continue
		}
		var n pgtype.Numeric
		if err := n.Scan(d.String()); err != nil {
			return nil, gerrors.Wrapf(err, "numeric %s", d)
		}
		vals[i] = n
	}
	return vals, nil
}
