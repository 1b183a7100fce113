package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coreDataHeaders() []string {
	headers := make([]string, len(CoreDataLayout.Fields))
	for i, f := range CoreDataLayout.Fields {
		headers[i] = f.Name
	}
	return headers
}

// rowOf builds a data row aligned to headers; labels not in values stay blank.
func rowOf(headers []string, values map[string]string) []Cell {
	row := make([]Cell, len(headers))
	for i, h := range headers {
		row[i] = Cell{Value: values[h], Present: true}
	}
	return row
}

func TestCoreDataLayout_HasFixedVocabulary(t *testing.T) {
	require.Len(t, CoreDataLayout.Fields, 34)

	cols := CoreDataLayout.Columns()
	assert.Equal(t, "cartel", cols[0])
	assert.Equal(t, "p01", cols[13])
	assert.Equal(t, "p20", cols[32])
	assert.Equal(t, "tot", cols[33])

	widths := map[string]int{}
	for _, f := range CoreDataLayout.Fields {
		if f.Type == FieldText {
			widths[f.Name] = f.MaxLen
		}
	}
	assert.Equal(t, map[string]int{
		"Stagione": 3, "Tipo Doc": 3, "Numero Doc": 20, "Commessa Cli": 20,
		"Articolo": 20, "Descrizione Articolo": 255, "Linea": 3,
		"Ragione Sociale": 35, "Località": 35,
	}, widths)

	rec := CandidateRecord{Cartel: 1}
	assert.Len(t, rec.Values(), len(cols))
}

func TestNormalizeHeader(t *testing.T) {
	tests := map[string]string{
		"Località":               "localita",
		"  LOCALITA ":            "localita",
		"Descrizione   Articolo": "descrizione articolo",
		"QUANTITÀ":               "quantita",
		`="Cartel"`:              "cartel",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeHeader(in), "NormalizeHeader(%q)", in)
	}
}

func TestIndex_ToleratesReorderedAndAccentFreeHeaders(t *testing.T) {
	headers := coreDataHeaders()
	for i, h := range headers {
		headers[i] = strings.ToUpper(h)
	}
	headers[0], headers[5] = headers[5], headers[0]
	headers[10] = "LOCALITA"

	fi, err := CoreDataLayout.Index(headers, DefaultHeaderTolerance)
	require.NoError(t, err)
	assert.Empty(t, fi.Missing())
}

func TestIndex_SchemaMismatch(t *testing.T) {
	all := coreDataHeaders()

	t.Run("five missing is tolerated", func(t *testing.T) {
		fi, err := CoreDataLayout.Index(all[:len(all)-5], DefaultHeaderTolerance)
		require.NoError(t, err)
		assert.Len(t, fi.Missing(), 5)
	})

	t.Run("six missing is rejected", func(t *testing.T) {
		_, err := CoreDataLayout.Index(all[:len(all)-6], DefaultHeaderTolerance)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSchemaMismatch))

		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Len(t, schemaErr.Missing, 6)
		assert.Contains(t, schemaErr.Missing, "Tot")
	})

	t.Run("missing key column is rejected", func(t *testing.T) {
		_, err := CoreDataLayout.Index(all[1:], DefaultHeaderTolerance)
		assert.ErrorIs(t, err, ErrSchemaMismatch)
	})

	t.Run("unrelated sheet is rejected", func(t *testing.T) {
		_, err := CoreDataLayout.Index([]string{"Name", "Email"}, DefaultHeaderTolerance)
		assert.ErrorIs(t, err, ErrSchemaMismatch)
	})
}

func TestMapRow(t *testing.T) {
	headers := coreDataHeaders()
	fi, err := CoreDataLayout.Index(headers, DefaultHeaderTolerance)
	require.NoError(t, err)

	t.Run("maps and coerces every kind of field", func(t *testing.T) {
		row := rowOf(headers, map[string]string{
			"Cartel":               " 1001 ",
			"Seq":                  "2.0",
			"Stagione":             "PE24X",
			"Articolo":             "ART-1",
			"Descrizione Articolo": strings.Repeat("d", 300),
			"Località":             "Città di Castello",
			"Data Documento":       "05/03/2024",
			"Data Consegna":        "2024-03-05",
			"P01":                  "3",
			"P20":                  "n/a",
			"Tot":                  "3",
		})

		rec, ok := fi.MapRow(row, 7)
		require.True(t, ok)

		assert.Equal(t, Key(1001), rec.Cartel)
		require.NotNil(t, rec.Seq)
		assert.Equal(t, int64(2), *rec.Seq)
		assert.Equal(t, "PE2", rec.Stagione)
		assert.Equal(t, "ART-1", rec.Articolo)
		assert.Len(t, rec.DescrizioneArticolo, 255)
		assert.Equal(t, "Città di Castello", rec.Localita)
		require.NotNil(t, rec.DataDocumento)
		require.NotNil(t, rec.DataConsegna)
		assert.Equal(t, 5, rec.DataDocumento.Day())
		assert.Equal(t, 3, int(rec.DataDocumento.Month()))
		assert.Equal(t, 2024, rec.DataDocumento.Year())
		assert.True(t, rec.DataDocumento.Equal(*rec.DataConsegna))
		require.NotNil(t, rec.Slots[0])
		assert.Equal(t, int64(3), *rec.Slots[0])
		assert.Nil(t, rec.Slots[19])
		assert.Nil(t, rec.Slots[1])
		assert.Equal(t, 7, rec.Line)
	})

	t.Run("skips rows without key and article", func(t *testing.T) {
		row := rowOf(headers, map[string]string{"Descrizione Articolo": "orphan note"})
		_, ok := fi.MapRow(row, 3)
		assert.False(t, ok)

		_, ok = fi.MapRow(nil, 4)
		assert.False(t, ok)
	})

	t.Run("keeps rows with article but no key", func(t *testing.T) {
		row := rowOf(headers, map[string]string{"Articolo": "ART-9"})
		rec, ok := fi.MapRow(row, 5)
		require.True(t, ok)
		assert.Equal(t, Key(0), rec.Cartel)
	})

	t.Run("short rows leave trailing fields absent", func(t *testing.T) {
		row := []Cell{{Value: "42", Present: true}}
		rec, ok := fi.MapRow(row, 6)
		require.True(t, ok)
		assert.Equal(t, Key(42), rec.Cartel)
		assert.Nil(t, rec.Tot)
		assert.Empty(t, rec.Articolo)
	})
}

func TestMapSheet_NoUsableRows(t *testing.T) {
	headers := coreDataHeaders()
	sheet := &Sheet{
		Name:    "Foglio1",
		Headers: headers,
		Rows:    [][]Cell{rowOf(headers, nil), rowOf(headers, nil)},
	}

	_, err := mapSheet(sheet, CoreDataLayout, DefaultHeaderTolerance)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
