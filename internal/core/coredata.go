package core

import (
	"fmt"
	"time"
)

// SlotCount is the number of per-size quantity columns (P01..P20).
const SlotCount = 20

// Core Data header labels with special meaning.
const (
	CoreDataKeyHeader      = "Cartel"
	CoreDataPresenceHeader = "Articolo"
)

// CandidateRecord is one mapped Core Data row. Text widths follow the legacy
// table and are enforced in characters at mapping time.
type CandidateRecord struct {
	Cartel              Key `validate:"gt=0"`
	Seq                 *int64
	Stagione            string
	TipoDoc             string
	NumeroDoc           string
	CommessaCli         string
	Articolo            string
	DescrizioneArticolo string
	Linea               string
	RagioneSociale      string
	Localita            string
	DataDocumento       *time.Time
	DataConsegna        *time.Time
	Slots               [SlotCount]*int64
	Tot                 *int64

	// Line is the 1-based source row, the header being line 1.
	Line int `validate:"-"`
}

// CoreDataLayout is the fixed 34-column vocabulary of the Core Data sheet.
var CoreDataLayout = Layout[CandidateRecord]{
	Dataset:        DatasetCoreData,
	Fields:         coreDataFields(),
	KeyHeader:      CoreDataKeyHeader,
	PresenceHeader: CoreDataPresenceHeader,
	SetLine:        func(r *CandidateRecord, line int) { r.Line = line },
}

func coreDataFields() []FieldSpec[CandidateRecord] {
	type rec = CandidateRecord

	fields := []FieldSpec[rec]{
		keyField("Cartel", "cartel", func(r *rec) *Key { return &r.Cartel }),
		intField("Seq", "seq", func(r *rec) **int64 { return &r.Seq }),
		textField("Stagione", "stagione", 3, func(r *rec) *string { return &r.Stagione }),
		textField("Tipo Doc", "tipo_doc", 3, func(r *rec) *string { return &r.TipoDoc }),
		textField("Numero Doc", "numero_doc", 20, func(r *rec) *string { return &r.NumeroDoc }),
		textField("Commessa Cli", "commessa_cli", 20, func(r *rec) *string { return &r.CommessaCli }),
		textField("Articolo", "articolo", 20, func(r *rec) *string { return &r.Articolo }),
		textField("Descrizione Articolo", "descrizione_articolo", 255, func(r *rec) *string { return &r.DescrizioneArticolo }),
		textField("Linea", "linea", 3, func(r *rec) *string { return &r.Linea }),
		textField("Ragione Sociale", "ragione_sociale", 35, func(r *rec) *string { return &r.RagioneSociale }),
		textField("Località", "localita", 35, func(r *rec) *string { return &r.Localita }),
		dateField("Data Documento", "data_documento", func(r *rec) **time.Time { return &r.DataDocumento }),
		dateField("Data Consegna", "data_consegna", func(r *rec) **time.Time { return &r.DataConsegna }),
	}

	for i := 0; i < SlotCount; i++ {
		fields = append(fields, intField(
			fmt.Sprintf("P%02d", i+1),
			fmt.Sprintf("p%02d", i+1),
			func(r *rec) **int64 { return &r.Slots[i] },
		))
	}

	return append(fields, intField("Tot", "tot", func(r *rec) **int64 { return &r.Tot }))
}

// Values returns the record's storage values in CoreDataLayout column order.
// Empty text and absent numbers come back as nil so stores write NULL.
func (r CandidateRecord) Values() []any {
	vals := []any{
		int64(r.Cartel),
		nullInt(r.Seq),
		nullText(r.Stagione),
		nullText(r.TipoDoc),
		nullText(r.NumeroDoc),
		nullText(r.CommessaCli),
		nullText(r.Articolo),
		nullText(r.DescrizioneArticolo),
		nullText(r.Linea),
		nullText(r.RagioneSociale),
		nullText(r.Localita),
		nullDate(r.DataDocumento),
		nullDate(r.DataConsegna),
	}
	for _, q := range r.Slots {
		vals = append(vals, nullInt(q))
	}
	return append(vals, nullInt(r.Tot))
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
