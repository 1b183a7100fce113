// Package sqlite implements the import storage contract on an embedded
// SQLite database, for single-machine installs and the offline CLI.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/erpimport/internal/core"
)

const (
	coreDataTable  = "core_data"
	linksTable     = "cartel_links"
	analyticsTable = "analytics_rows"
	keepTable      = "keep_keys"

	dateLayout = "2006-01-02"
)

var (
	coreDataColumns  = core.CoreDataLayout.Columns()
	analyticsColumns = core.AnalyticsLayout.Columns()

	insertCoreData  = insertSQL(coreDataTable, coreDataColumns)
	upsertCoreData  = upsertSQL(coreDataTable, coreDataColumns, "cartel")
	insertAnalytics = insertSQL(analyticsTable, analyticsColumns)
)

// Store is the SQLite implementation of core.Store.
type Store struct {
	db *sql.DB
}

var _ core.Store = (*Store)(nil)

// Open opens (creating if needed) the database file at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, gerrors.Wrapf(err, "open sqlite %s", path)
	}
	// One connection: transactions, savepoints and the temp keep table
	// must all see the same session.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, gerrors.Wrapf(err, "exec %s", pragma)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() {
	_ = s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the dataset, link and analytics tables if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return gerrors.Wrap(err, "ensure schema")
		}
	}
	return nil
}

func (s *Store) CountKeys(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+coreDataTable).Scan(&n); err != nil {
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
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, gerrors.Wrap(err, "query keys")
	}
	defer rows.Close()

	set := core.NewKeySet()
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return nil, gerrors.Wrap(err, "scan key")
		}
		set.Add(core.Key(k))
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, "iterate keys")
	}
	return set, nil
}

// DeleteWhereKeyNotIn removes every record whose key is not in keep. The
// keys are staged in a temp table so the statement has no parameter limit.
func (s *Store) DeleteWhereKeyNotIn(ctx context.Context, keep core.KeySet) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, gerrors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stage := []string{
		"CREATE TEMP TABLE IF NOT EXISTS " + keepTable + " (cartel INTEGER PRIMARY KEY)",
		"DELETE FROM " + keepTable,
	}
	for _, stmt := range stage {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, gerrors.Wrap(err, "stage keep keys")
		}
	}

	ins, err := tx.PrepareContext(ctx, "INSERT INTO "+keepTable+" (cartel) VALUES (?)")
	if err != nil {
		return 0, gerrors.Wrap(err, "prepare keep keys")
	}
	defer ins.Close()
	for _, k := range keep.Int64s() {
		if _, err := ins.ExecContext(ctx, k); err != nil {
			return 0, gerrors.Wrapf(err, "stage key %d", k)
		}
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM "+coreDataTable+" WHERE cartel NOT IN (SELECT cartel FROM "+keepTable+")")
	if err != nil {
		return 0, gerrors.Wrap(err, "delete unprotected records")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, gerrors.Wrap(err, "rows affected")
	}

	if err := tx.Commit(); err != nil {
		return 0, gerrors.Wrap(err, "commit")
	}
	return n, nil
}

// ApplyBatch runs fn in one transaction, committing when it returns nil.
func (s *Store) ApplyBatch(ctx context.Context, fn func(core.BatchWriter) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return gerrors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&batchWriter{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return gerrors.Wrap(err, "commit")
	}
	return nil
}

type batchWriter struct {
	tx *sql.Tx
	sp int
}

func (w *batchWriter) UpsertByKey(ctx context.Context, rec core.CandidateRecord) error {
	return w.exec(ctx, rec.Cartel, upsertCoreData, bindValues(rec.Values()))
}

func (w *batchWriter) Insert(ctx context.Context, rec core.CandidateRecord) error {
	return w.exec(ctx, rec.Cartel, insertCoreData, bindValues(rec.Values()))
}

// exec runs one statement under a savepoint. Constraint and type errors
// roll back to the savepoint and come back as *core.RowError.
func (w *batchWriter) exec(ctx context.Context, key core.Key, query string, args []any) error {
	w.sp++
	savepoint := fmt.Sprintf("sp_%d", w.sp)
	if _, err := w.tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return gerrors.Wrap(err, "create savepoint")
	}

	if _, err := w.tx.ExecContext(ctx, query, args...); err != nil {
		if !isRowRejection(err) {
			return gerrors.Wrapf(err, "write cartel %d", key)
		}
		if _, rbErr := w.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return gerrors.Wrap(rbErr, "rollback savepoint")
		}
		return &core.RowError{Key: key, Err: err}
	}

	if _, err := w.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return gerrors.Wrap(err, "release savepoint")
	}
	return nil
}

// isRowRejection reports whether err is confined to the row.
func isRowRejection(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_TOOBIG:
		return true
	}
	return false
}

// ReplaceAnalytics swaps the analytics table for rows in one transaction.
func (s *Store) ReplaceAnalytics(ctx context.Context, rows []core.AnalyticsRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, gerrors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+analyticsTable); err != nil {
		return 0, gerrors.Wrap(err, "clear analytics")
	}

	ins, err := tx.PrepareContext(ctx, insertAnalytics)
	if err != nil {
		return 0, gerrors.Wrap(err, "prepare analytics insert")
	}
	defer ins.Close()

	var n int64
	for _, row := range rows {
		if _, err := ins.ExecContext(ctx, bindValues(row.Values())...); err != nil {
			return 0, gerrors.Wrapf(err, "insert analytics line %d", row.Line)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, gerrors.Wrap(err, "commit")
	}
	return n, nil
}

// bindValues stores dates as ISO text and decimals as exact strings.
func bindValues(vals []any) []any {
	for i, v := range vals {
		switch x := v.(type) {
		case time.Time:
			vals[i] = x.Format(dateLayout)
		case decimal.Decimal:
			vals[i] = x.String()
		}
	}
	return vals
}

func columnType(def core.ColumnDef) string {
	switch def.Type {
	case core.FieldKey, core.FieldInt:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func createTableSQL(table string, defs []core.ColumnDef, key string) string {
	cols := make([]string, 0, len(defs)+1)
	if key == "" {
		cols = append(cols, "id INTEGER PRIMARY KEY AUTOINCREMENT")
	}
	for _, def := range defs {
		col := def.Name + " " + columnType(def)
		if def.Name == key {
			col += " PRIMARY KEY"
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(cols, ", "))
}

func schemaStatements() []string {
	return []string{
		createTableSQL(coreDataTable, core.CoreDataLayout.ColumnDefs(), "cartel"),
		"CREATE TABLE IF NOT EXISTS " + linksTable + " (" +
			"id INTEGER PRIMARY KEY AUTOINCREMENT, " +
			"cartel INTEGER NOT NULL, " +
			"created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP)",
		"CREATE INDEX IF NOT EXISTS idx_" + linksTable + "_cartel ON " + linksTable + " (cartel)",
		createTableSQL(analyticsTable, core.AnalyticsLayout.ColumnDefs(), ""),
	}
}

func insertSQL(table string, cols []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), marks)
}

func upsertSQL(table string, cols []string, key string) string {
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols {
		if c != key {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		insertSQL(table, cols), key, strings.Join(sets, ", "))
}
