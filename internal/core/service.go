package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/erpimport/internal/logging"
)

// Options tunes the import pipeline.
type Options struct {
	MaxFileSize      int64
	BatchSize        int
	ErrorCap         int
	HeaderTolerance  int
	MaxConcurrent    int
	MaxWait          time.Duration
	ExecutionTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxFileSize:      50 << 20,
		BatchSize:        DefaultBatchSize,
		ErrorCap:         DefaultErrorCap,
		HeaderTolerance:  DefaultHeaderTolerance,
		MaxConcurrent:    DefaultMaxConcurrentParses,
		MaxWait:          DefaultMaxWaitTime,
		ExecutionTimeout: 30 * time.Minute,
	}
}

// Service is the entry point for Core Data and analytics imports.
type Service struct {
	store      Store
	protection ProtectionResolver
	session    *Session
	limiter    *ParseLimiter
	opts       Options

	analyticsMu sync.Mutex
	running     sync.WaitGroup
}

// NewService creates a Service backed by store. Protected keys are read
// from the store's link table.
func NewService(store Store, opts Options) *Service {
	if opts.HeaderTolerance < 0 {
		opts.HeaderTolerance = DefaultHeaderTolerance
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = DefaultOptions().ExecutionTimeout
	}
	return &Service{
		store:      store,
		protection: StoreProtection{Store: store},
		session:    NewSession(DatasetCoreData),
		limiter:    NewParseLimiter(opts.MaxConcurrent, opts.MaxWait),
		opts:       opts,
	}
}

func (s *Service) executor(logger *slog.Logger) *Executor {
	return &Executor{
		Store:      s.store,
		Protection: s.protection,
		BatchSize:  s.opts.BatchSize,
		ErrorCap:   s.opts.ErrorCap,
		Logger:     logger,
	}
}

func importLogger(ctx context.Context, dataset Dataset, sessionID string) *slog.Logger {
	logger := logging.ForImport(ctx, string(dataset), sessionID)
	if r, ok := RequesterFromContext(ctx); ok {
		logger = logger.With(r.logAttrs()...)
	}
	return logger
}

// Analyze parses an uploaded Core Data file and computes its reconciliation
// plan. On success the session is ready for Execute.
func (s *Service) Analyze(ctx context.Context, fileName string, data []byte) (ImportPlan, error) {
	start := time.Now()

	ticket, err := s.session.BeginAnalysis(fileName)
	if err != nil {
		observePhase(DatasetCoreData, "analyze", start, err)
		return ImportPlan{}, err
	}
	logger := importLogger(ctx, DatasetCoreData, ticket.ID)
	logger.Info("analysis started", "file", fileName, "bytes", len(data))

	plan, candidates, err := s.analyze(ctx, data)
	if err == nil {
		err = s.session.FinishAnalysis(ticket, candidates, plan)
	} else {
		s.session.FailAnalysis(ticket, err)
	}
	observePhase(DatasetCoreData, "analyze", start, err)
	if err != nil {
		logger.Warn("analysis failed", "error", err)
		return ImportPlan{}, err
	}

	logger.Info("analysis completed",
		"total_rows", plan.TotalRows,
		"to_insert", plan.ToInsert,
		"to_update", plan.ToUpdate,
		"to_delete", plan.ToDelete,
		"preserved", plan.Preserved,
		"duplicates", plan.Duplicates,
		"missing_key", plan.MissingKey,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return plan, nil
}

func (s *Service) analyze(ctx context.Context, data []byte) (ImportPlan, []CandidateRecord, error) {
	sheet, err := s.readSheet(ctx, data)
	if err != nil {
		return ImportPlan{}, nil, err
	}

	candidates, err := mapSheet(sheet, CoreDataLayout, s.opts.HeaderTolerance)
	if err != nil {
		return ImportPlan{}, nil, err
	}

	var persisted, protected KeySet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keys, err := s.store.ListKeys(gctx)
		if err != nil {
			return fmt.Errorf("list persisted keys: %w", err)
		}
		persisted = keys
		return nil
	})
	g.Go(func() error {
		keys, err := s.protection.ProtectedKeys(gctx)
		if err != nil {
			return err
		}
		protected = keys
		return nil
	})
	if err := g.Wait(); err != nil {
		return ImportPlan{}, nil, err
	}

	plan := Plan(candidates, persisted, protected)
	pending, _ := DedupeLastWins(candidates)
	return plan, pending, nil
}

// readSheet enforces the size limit and parses under a limiter slot.
func (s *Service) readSheet(ctx context.Context, data []byte) (*Sheet, error) {
	if s.opts.MaxFileSize > 0 && int64(len(data)) > s.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: file too large (%d bytes, limit %d)", ErrInvalidFormat, len(data), s.opts.MaxFileSize)
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	return ReadSheet(data)
}

// Execute applies the pending import and waits for it to finish.
func (s *Service) Execute(ctx context.Context) (ExecutionStats, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.opts.ExecutionTimeout)
	defer cancel()

	ticket, candidates, err := s.session.BeginExecution(cancel)
	if err != nil {
		return ExecutionStats{}, err
	}
	s.running.Add(1)
	defer s.running.Done()

	return s.runExecution(runCtx, ticket, candidates)
}

// StartExecute claims the pending import and applies it in the background.
// ErrNoPendingImport is returned immediately when nothing is ready.
// Progress is observed through Progress.
func (s *Service) StartExecute(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ExecutionTimeout)

	ticket, candidates, err := s.session.BeginExecution(cancel)
	if err != nil {
		cancel()
		return err
	}

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("import panicked: %v", r)
				importLogger(runCtx, DatasetCoreData, ticket.ID).Error("execution panic", "error", err)
				s.session.Fail(ticket, err, nil)
			}
		}()
		_, _ = s.runExecution(runCtx, ticket, candidates)
	}()
	return nil
}

func (s *Service) runExecution(ctx context.Context, ticket Ticket, candidates []CandidateRecord) (ExecutionStats, error) {
	start := time.Now()
	logger := importLogger(ctx, DatasetCoreData, ticket.ID)
	logger.Info("execution started", "total", len(candidates))

	exec := s.executor(logger)
	stats, err := exec.Execute(ctx, candidates, func(processed int) {
		s.session.Advance(ticket, processed)
	})
	observePhase(DatasetCoreData, "execute", start, err)
	observeRows(stats)

	if err != nil {
		if !s.session.Fail(ticket, err, &stats) {
			logger.Warn("execution stopped after cancel", "error", err)
		} else {
			logger.Error("execution failed", "error", err, "inserted", stats.Inserted, "updated", stats.Updated)
		}
		return stats, err
	}

	if !s.session.Complete(ticket, stats) {
		logger.Warn("execution finished after cancel, result discarded")
		return stats, fmt.Errorf("%w: execution superseded", ErrImportCancelled)
	}
	for _, f := range stats.Errors {
		logger.Warn("row rejected", "line", f.Line, "cartel", f.Cartel, "error", f.Message)
	}
	logger.Info("execution completed",
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"preserved", stats.Preserved,
		"deleted", stats.Deleted,
		"failed", stats.Failed,
		"duration_ms", stats.DurationMs,
	)
	return stats, nil
}

// Cancel resets the session to pending and stops a running execution
// after its current batch.
func (s *Service) Cancel() {
	s.session.Cancel()
}

// Progress returns the current session state.
func (s *Service) Progress() ImportProgress {
	return s.session.Snapshot()
}

// DatasetCount returns the number of persisted Core Data records.
func (s *Service) DatasetCount(ctx context.Context) (int, error) {
	n, err := s.store.CountKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// LimiterStatus exposes parse slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// Ping checks storage connectivity.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ImportAnalytics replaces the analytics table with the grouped lines of
// an uploaded sheet. Only one analytics import runs at a time.
func (s *Service) ImportAnalytics(ctx context.Context, fileName string, data []byte) (AnalyticsResult, error) {
	start := time.Now()
	if !s.analyticsMu.TryLock() {
		err := fmt.Errorf("%w: analytics import running", ErrImportInProgress)
		observePhase(DatasetAnalytics, "import", start, err)
		return AnalyticsResult{}, err
	}
	defer s.analyticsMu.Unlock()

	logger := importLogger(ctx, DatasetAnalytics, "")
	logger.Info("analytics import started", "file", fileName, "bytes", len(data))

	result, err := s.importAnalytics(ctx, data)
	result.DurationMs = time.Since(start).Milliseconds()
	observePhase(DatasetAnalytics, "import", start, err)
	if err != nil {
		logger.Warn("analytics import failed", "error", err)
		return result, err
	}

	logger.Info("analytics import completed",
		"source_rows", result.SourceRows,
		"grouped", result.Grouped,
		"written", result.Written,
		"duration_ms", result.DurationMs,
	)
	return result, nil
}

func (s *Service) importAnalytics(ctx context.Context, data []byte) (AnalyticsResult, error) {
	sheet, err := s.readSheet(ctx, data)
	if err != nil {
		return AnalyticsResult{}, err
	}
	rows, err := mapSheet(sheet, AnalyticsLayout, AnalyticsHeaderTolerance)
	if err != nil {
		return AnalyticsResult{}, err
	}

	grouped := GroupAnalytics(rows)
	written, err := s.store.ReplaceAnalytics(ctx, grouped)
	if err != nil {
		return AnalyticsResult{}, fmt.Errorf("replace analytics: %w", err)
	}
	return AnalyticsResult{SourceRows: len(rows), Grouped: len(grouped), Written: written}, nil
}

// WaitForImports blocks until background executions and parses finish or
// ctx ends. Used during graceful shutdown.
func (s *Service) WaitForImports(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.limiter.WaitForDrain(ctx)
}
