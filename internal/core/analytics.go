package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnalyticsRecord is one sales line of the analytics sheet. After grouping,
// Quantita holds the summed quantity of every line sharing the same
// document, key and price.
type AnalyticsRecord struct {
	TipoDoc       string
	NumeroDoc     string
	Cartel        Key
	Articolo      string
	Prezzo        decimal.Decimal
	Quantita      decimal.Decimal
	DataDocumento *time.Time
	Line          int
}

// AnalyticsLayout is the column vocabulary of the analytics sheet.
var AnalyticsLayout = Layout[AnalyticsRecord]{
	Dataset: DatasetAnalytics,
	Fields: []FieldSpec[AnalyticsRecord]{
		textField("Tipo Doc", "tipo_doc", 3, func(r *AnalyticsRecord) *string { return &r.TipoDoc }),
		textField("Numero Doc", "numero_doc", 20, func(r *AnalyticsRecord) *string { return &r.NumeroDoc }),
		keyField("Cartel", "cartel", func(r *AnalyticsRecord) *Key { return &r.Cartel }),
		textField("Articolo", "articolo", 20, func(r *AnalyticsRecord) *string { return &r.Articolo }),
		decimalField("Prezzo", "prezzo", func(r *AnalyticsRecord) *decimal.Decimal { return &r.Prezzo }),
		decimalField("Quantità", "quantita", func(r *AnalyticsRecord) *decimal.Decimal { return &r.Quantita }),
		dateField("Data Documento", "data_documento", func(r *AnalyticsRecord) **time.Time { return &r.DataDocumento }),
	},
	KeyHeader:      "Cartel",
	PresenceHeader: "Articolo",
	SetLine:        func(r *AnalyticsRecord, line int) { r.Line = line },
}

// AnalyticsHeaderTolerance allows the two descriptive analytics columns
// (article and date) to be missing.
const AnalyticsHeaderTolerance = 2

// Values returns the record's storage values in AnalyticsLayout column order.
func (r AnalyticsRecord) Values() []any {
	return []any{
		nullText(r.TipoDoc),
		nullText(r.NumeroDoc),
		int64(r.Cartel),
		nullText(r.Articolo),
		r.Prezzo,
		r.Quantita,
		nullDate(r.DataDocumento),
	}
}

type analyticsGroupKey struct {
	tipoDoc   string
	numeroDoc string
	cartel    Key
	prezzo    string
}

// GroupAnalytics collapses lines with identical document type, document
// number, key and price into one record whose quantity is the sum of the
// group. Groups keep the position and descriptive fields of their first line.
func GroupAnalytics(rows []AnalyticsRecord) []AnalyticsRecord {
	index := make(map[analyticsGroupKey]int, len(rows))
	out := make([]AnalyticsRecord, 0, len(rows))

	for _, r := range rows {
		k := analyticsGroupKey{
			tipoDoc:   r.TipoDoc,
			numeroDoc: r.NumeroDoc,
			cartel:    r.Cartel,
			prezzo:    r.Prezzo.StringFixed(6),
		}
		if i, ok := index[k]; ok {
			out[i].Quantita = out[i].Quantita.Add(r.Quantita)
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}

// AnalyticsResult summarizes an analytics import.
type AnalyticsResult struct {
	SourceRows int   `json:"sourceRows"`
	Grouped    int   `json:"grouped"`
	Written    int64 `json:"written"`
	DurationMs int64 `json:"durationMs"`
}
