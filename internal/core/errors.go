package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the import pipeline. Callers compare with errors.Is;
// the pipeline wraps them with detail using %w.
var (
	// ErrInvalidFormat means the uploaded file is not a readable spreadsheet
	// or carries no data rows.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrSchemaMismatch means too many expected headers are missing.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrNoPendingImport means execution was requested without an analyzed file.
	ErrNoPendingImport = errors.New("no pending import")

	// ErrImportInProgress means another analysis or execution owns the session.
	ErrImportInProgress = errors.New("import already in progress")

	// ErrImportCancelled means the run was superseded by a cancel request.
	ErrImportCancelled = errors.New("import cancelled")

	// ErrTooManyImports is returned when every parse slot is busy and the wait
	// timeout expires. Clients should retry after a short delay.
	ErrTooManyImports = errors.New("too many concurrent imports, please try again later")
)

// SchemaError lists the expected headers absent from a source sheet.
type SchemaError struct {
	Missing   []string
	Tolerance int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema mismatch: %d expected columns missing (tolerance %d): %s",
		len(e.Missing), e.Tolerance, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Unwrap() error {
	return ErrSchemaMismatch
}

// RowError is a failure confined to a single record. Stores return it when the
// row was rejected and rolled back to its savepoint; the batch stays usable.
type RowError struct {
	Key Key
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("cartel %d: %v", e.Key, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// isCancellation reports whether err stems from a cancel request.
func isCancellation(err error) bool {
	return errors.Is(err, ErrImportCancelled) || errors.Is(err, context.Canceled)
}

// isRejection reports whether err is a user-facing refusal rather than a fault.
func isRejection(err error) bool {
	for _, target := range []error{
		ErrInvalidFormat, ErrSchemaMismatch, ErrNoPendingImport,
		ErrImportInProgress, ErrTooManyImports,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
