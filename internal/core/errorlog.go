package core

// DefaultErrorCap is how many row failures are kept in detail.
const DefaultErrorCap = 10

// RowFailure describes one record that could not be written.
type RowFailure struct {
	Line    int    `json:"line"`
	Cartel  Key    `json:"cartel"`
	Message string `json:"message"`
}

// ErrorLog keeps the first failures in detail and counts all of them.
type ErrorLog struct {
	limit   int
	entries []RowFailure
	total   int
}

// NewErrorLog creates a log keeping at most limit entries.
func NewErrorLog(limit int) *ErrorLog {
	if limit <= 0 {
		limit = DefaultErrorCap
	}
	return &ErrorLog{limit: limit}
}

func (l *ErrorLog) Add(f RowFailure) {
	l.total++
	if len(l.entries) < l.limit {
		l.entries = append(l.entries, f)
	}
}

// Entries returns a copy of the retained failures.
func (l *ErrorLog) Entries() []RowFailure {
	out := make([]RowFailure, len(l.entries))
	copy(out, l.entries)
	return out
}

// Total is the number of failures seen, retained or not.
func (l *ErrorLog) Total() int { return l.total }

// Dropped is the number of failures counted but not retained.
func (l *ErrorLog) Dropped() int { return l.total - len(l.entries) }
