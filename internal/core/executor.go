package core

// executor.go applies a confirmed import to storage.
//
// The sequence is fixed:
//
//  1. Re-read protected keys (they may have changed since analysis)
//  2. Delete every persisted record whose key is not protected
//  3. Walk the candidates in batches, one transaction per batch:
//     protected keys are upserted, everything else is inserted
//  4. Report progress after each committed batch
//
// A rejected record is logged and skipped; the rest of its batch still
// commits. A storage fault aborts the run; batches already committed stay.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultBatchSize is the number of records applied per transaction.
const DefaultBatchSize = 50

var recordValidator = validator.New(validator.WithRequiredStructEnabled())

// ProgressFunc receives the number of candidates consumed so far.
type ProgressFunc func(processed int)

// ExecutionStats summarizes an executed import.
type ExecutionStats struct {
	Inserted   int           `json:"inserted"`
	Updated    int           `json:"updated"`
	Preserved  int           `json:"preserved"`
	Deleted    int           `json:"deleted"`
	Failed     int           `json:"failed"`
	Errors     []RowFailure  `json:"errors,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"durationMs"`
}

// Summary renders the stats as the completion message shown to users.
func (s ExecutionStats) Summary() string {
	msg := fmt.Sprintf("Import completed: %d inserted, %d updated, %d preserved, %d deleted",
		s.Inserted, s.Updated, s.Preserved, s.Deleted)
	if s.Failed > 0 {
		msg += fmt.Sprintf(", %d failed", s.Failed)
	}
	return msg
}

// Executor runs the apply phase of an import.
type Executor struct {
	Store      DatasetStore
	Protection ProtectionResolver
	BatchSize  int
	ErrorCap   int
	Logger     *slog.Logger
}

// Execute applies candidates to storage. On a fatal error the partial stats
// are returned with the error.
func (e *Executor) Execute(ctx context.Context, candidates []CandidateRecord, progress ProgressFunc) (ExecutionStats, error) {
	start := time.Now()
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var stats ExecutionStats
	finish := func() ExecutionStats {
		stats.Duration = time.Since(start)
		stats.DurationMs = stats.Duration.Milliseconds()
		return stats
	}

	protected, err := e.Protection.ProtectedKeys(ctx)
	if err != nil {
		return finish(), err
	}
	stats.Preserved = protected.Len()

	deleted, err := e.Store.DeleteWhereKeyNotIn(ctx, protected)
	if err != nil {
		return finish(), fmt.Errorf("delete unprotected records: %w", err)
	}
	stats.Deleted = int(deleted)
	logger.Info("unprotected records deleted", "deleted", deleted, "preserved", stats.Preserved)

	failures := NewErrorLog(e.ErrorCap)
	for batchStart, batchNo := 0, 1; batchStart < len(candidates); batchStart, batchNo = batchStart+batchSize, batchNo+1 {
		if err := ctx.Err(); err != nil {
			stats.Failed, stats.Errors = failures.Total(), failures.Entries()
			return finish(), interrupted(err, batchStart, len(candidates))
		}

		// A started batch runs to commit; cancellation is observed between batches.
		batch := candidates[batchStart:min(batchStart+batchSize, len(candidates))]
		result, err := e.applyBatch(context.WithoutCancel(ctx), batch, protected)
		if err != nil {
			stats.Failed, stats.Errors = failures.Total(), failures.Entries()
			return finish(), fmt.Errorf("apply batch %d: %w", batchNo, err)
		}

		stats.Inserted += result.inserted
		stats.Updated += result.updated
		for _, f := range result.failures {
			failures.Add(f)
		}

		processed := batchStart + len(batch)
		logger.Debug("batch committed", "batch", batchNo, "processed", processed, "total", len(candidates))
		if progress != nil {
			progress(processed)
		}
	}

	stats.Failed = failures.Total()
	stats.Errors = failures.Entries()
	if n := failures.Dropped(); n > 0 {
		logger.Warn("row failures beyond the error cap not reported", "dropped", n, "failed", stats.Failed)
	}
	return finish(), nil
}

type batchResult struct {
	inserted int
	updated  int
	failures []RowFailure
}

func (e *Executor) applyBatch(ctx context.Context, batch []CandidateRecord, protected KeySet) (batchResult, error) {
	var result batchResult
	err := e.Store.ApplyBatch(ctx, func(w BatchWriter) error {
		result = batchResult{}
		for _, rec := range batch {
			if err := recordValidator.Struct(rec); err != nil {
				result.failures = append(result.failures, RowFailure{
					Line: rec.Line, Cartel: rec.Cartel, Message: describeValidation(err),
				})
				continue
			}

			upsert := protected.Has(rec.Cartel)
			var err error
			if upsert {
				err = w.UpsertByKey(ctx, rec)
			} else {
				err = w.Insert(ctx, rec)
			}

			var rowErr *RowError
			switch {
			case err == nil && upsert:
				result.updated++
			case err == nil:
				result.inserted++
			case errors.As(err, &rowErr):
				result.failures = append(result.failures, RowFailure{
					Line: rec.Line, Cartel: rec.Cartel, Message: rowErr.Err.Error(),
				})
			default:
				return err
			}
		}
		return nil
	})
	return result, err
}

func interrupted(err error, processed, total int) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w after %d of %d rows", ErrImportCancelled, processed, total)
	}
	return fmt.Errorf("import stopped after %d of %d rows: %w", processed, total, err)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Field() == "Cartel" {
		return "missing or invalid Cartel: must be a positive integer"
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
