package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/erpimport/internal/core"
)

func TestCreateTableSQL_CoreData(t *testing.T) {
	stmt := createTableSQL(coreDataTable, core.CoreDataLayout.ColumnDefs(), "cartel")

	assert.True(t, strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS core_data ("))
	assert.Contains(t, stmt, "cartel BIGINT PRIMARY KEY,")
	assert.Contains(t, stmt, "descrizione_articolo VARCHAR(255),")
	assert.Contains(t, stmt, "stagione VARCHAR(3),")
	assert.Contains(t, stmt, "data_consegna DATE,")
	assert.Contains(t, stmt, "p20 BIGINT,")
	assert.Contains(t, stmt, "tot BIGINT\n)")
	assert.NotContains(t, stmt, "BIGSERIAL")
}

func TestCreateTableSQL_AnalyticsHasSurrogateKey(t *testing.T) {
	stmt := createTableSQL(analyticsTable, core.AnalyticsLayout.ColumnDefs(), "")

	assert.Contains(t, stmt, "id BIGSERIAL PRIMARY KEY,")
	assert.Contains(t, stmt, "prezzo NUMERIC(18,6),")
	assert.Contains(t, stmt, "quantita NUMERIC(18,6),")
	assert.NotContains(t, stmt, "cartel BIGINT PRIMARY KEY")
}

func TestUpsertSQL(t *testing.T) {
	stmt := upsertSQL("t", []string{"k", "a", "b"}, "k")
	assert.Equal(t,
		"INSERT INTO t (k, a, b) VALUES ($1, $2, $3) ON CONFLICT (k) DO UPDATE SET a = EXCLUDED.a, b = EXCLUDED.b",
		stmt)
}

func TestCoreDataStatementsCoverEveryColumn(t *testing.T) {
	n := len(core.CoreDataLayout.Fields)
	assert.Contains(t, insertCoreData, fmt.Sprintf("$%d)", n))
	assert.NotContains(t, insertCoreData, fmt.Sprintf("$%d", n+1))
	assert.NotContains(t, upsertCoreData, "cartel = EXCLUDED.cartel")
	assert.Contains(t, upsertCoreData, "tot = EXCLUDED.tot")
}

func TestIsRowRejection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"not null violation", &pgconn.PgError{Code: "23502"}, true},
		{"value too long", &pgconn.PgError{Code: "22001"}, true},
		{"wrapped data exception", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "22003"}), true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, false},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, false},
		{"plain error", errors.New("conn closed"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRowRejection(tt.err))
		})
	}
}

func TestCopyValuesConvertsDecimals(t *testing.T) {
	rec := core.AnalyticsRecord{
		TipoDoc:  "FT",
		Cartel:   7,
		Prezzo:   decimal.RequireFromString("12.50"),
		Quantita: decimal.NewFromInt(3),
	}

	vals, err := copyValues(rec.Values())
	require.NoError(t, err)
	require.Len(t, vals, len(analyticsColumns))

	prezzo, ok := vals[4].(pgtype.Numeric)
	require.True(t, ok, "prezzo should be pgtype.Numeric, got %T", vals[4])
	assert.True(t, prezzo.Valid)
	assert.Equal(t, int64(125), prezzo.Int.Int64())
	assert.Equal(t, int32(-1), prezzo.Exp)

	assert.Equal(t, int64(7), vals[2])
	assert.Nil(t, vals[1], "empty text should stay NULL")
}
