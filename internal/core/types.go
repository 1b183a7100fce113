// Package core provides the business logic for the Core Data reconciliation import.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"slices"
	"time"
)

// Key is the business key ("Cartel") identifying a dataset record.
// Zero means the source row carried no usable key.
type Key int64

// KeySet is an unordered set of business keys.
type KeySet map[Key]struct{}

// NewKeySet builds a set from the given keys.
func NewKeySet(keys ...Key) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s KeySet) Add(k Key) { s[k] = struct{}{} }

func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

func (s KeySet) Len() int { return len(s) }

// Sorted returns the keys in ascending order.
func (s KeySet) Sorted() []Key {
	out := make([]Key, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Int64s returns the keys as plain integers for driver parameters.
func (s KeySet) Int64s() []int64 {
	out := make([]int64, 0, len(s))
	for _, k := range s.Sorted() {
		out = append(out, int64(k))
	}
	return out
}

// Dataset names the imported table shape.
type Dataset string

const (
	DatasetCoreData  Dataset = "core_data"
	DatasetAnalytics Dataset = "analytics"
)

// FieldType is the coercion applied to a source cell.
type FieldType int

const (
	FieldText FieldType = iota
	FieldInt
	FieldDate
	FieldKey
	FieldDecimal
)

// Status is the lifecycle state of an import session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAnalyzing  Status = "analyzing"
	StatusReady      Status = "ready"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// ImportProgress is a point-in-time view of the import session.
//
// Total and Processed count records to apply: the file's rows after
// duplicate keys are dropped. Plan.TotalRows counts the file's rows, so
// Total is Plan.TotalRows - Plan.Duplicates while an import is pending.
type ImportProgress struct {
	ID        string          `json:"id,omitempty"`
	Dataset   Dataset         `json:"dataset"`
	Status    Status          `json:"status"`
	FileName  string          `json:"fileName,omitempty"`
	Total     int             `json:"total"`
	Processed int             `json:"processed"`
	Percent   int             `json:"percent"`
	Message   string          `json:"message"`
	Plan      *ImportPlan     `json:"plan,omitempty"`
	Stats     *ExecutionStats `json:"stats,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// percentDone returns completion percentage (0-100).
func percentDone(status Status, total, processed int) int {
	if status == StatusCompleted {
		return 100
	}
	if total == 0 {
		return 0
	}
	return processed * 100 / total
}

// Active reports whether a run currently owns the session.
func (p ImportProgress) Active() bool {
	return p.Status == StatusAnalyzing || p.Status == StatusProcessing
}
