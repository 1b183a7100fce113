package core

// session.go holds the single import session of a dataset.
//
// Every transition runs under one mutex and is tagged with a generation
// number. Cancel bumps the generation, so a completion or failure reported
// by a superseded run is dropped instead of overwriting the new state.
//
//	pending ──BeginAnalysis──▶ analyzing ──FinishAnalysis──▶ ready
//	                               │                          │
//	                          FailAnalysis              BeginExecution
//	                               ▼                          ▼
//	                             error ◀────────Fail──── processing ──Complete──▶ completed
//
// Cancel moves any state back to pending.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ticket identifies one run of a session. Transitions carrying a stale
// ticket are ignored.
type Ticket struct {
	ID  string
	gen uint64
}

// Session is the import state machine of one dataset.
type Session struct {
	dataset Dataset
	now     func() time.Time

	mu         sync.Mutex
	gen        uint64
	id         string
	status     Status
	fileName   string
	total      int
	processed  int
	message    string
	candidates []CandidateRecord
	plan       *ImportPlan
	stats      *ExecutionStats
	cancelRun  context.CancelFunc
	updatedAt  time.Time
}

// NewSession creates a pending session.
func NewSession(dataset Dataset) *Session {
	s := &Session{dataset: dataset, now: time.Now, status: StatusPending}
	s.updatedAt = s.now()
	return s
}

// BeginAnalysis claims the session for a new analysis. It fails with
// ErrImportInProgress while another analysis or execution owns it.
func (s *Session) BeginAnalysis(fileName string) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusAnalyzing || s.status == StatusProcessing {
		return Ticket{}, fmt.Errorf("%w: session is %s", ErrImportInProgress, s.status)
	}

	s.gen++
	s.id = uuid.NewString()
	s.status = StatusAnalyzing
	s.fileName = fileName
	s.total, s.processed = 0, 0
	s.message = "Analyzing " + fileName
	s.stats = nil
	s.clearPending()
	s.touch()
	return Ticket{ID: s.id, gen: s.gen}, nil
}

// FinishAnalysis stores the analysis result and moves to ready. It fails
// with ErrImportCancelled when the analysis was superseded.
func (s *Session) FinishAnalysis(t Ticket, candidates []CandidateRecord, plan ImportPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.gen != s.gen || s.status != StatusAnalyzing {
		return fmt.Errorf("%w: analysis superseded", ErrImportCancelled)
	}

	s.status = StatusReady
	s.candidates = candidates
	s.plan = &plan
	s.total = len(candidates)
	s.processed = 0
	s.message = fmt.Sprintf("Ready: %d to insert, %d to update, %d to delete, %d preserved",
		plan.ToInsert, plan.ToUpdate, plan.ToDelete, plan.Preserved)
	s.touch()
	return nil
}

// FailAnalysis records an analysis failure unless the run was superseded.
func (s *Session) FailAnalysis(t Ticket, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.gen != s.gen || s.status != StatusAnalyzing {
		return
	}
	s.status = StatusError
	s.message = err.Error()
	s.clearPending()
	s.touch()
}

// BeginExecution moves a ready session to processing and hands out the
// pending candidates. cancel is invoked by Cancel to stop the run. Without
// a ready session it fails with ErrNoPendingImport and changes nothing.
func (s *Session) BeginExecution(cancel context.CancelFunc) (Ticket, []CandidateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusReady || s.candidates == nil {
		return Ticket{}, nil, fmt.Errorf("%w: session is %s", ErrNoPendingImport, s.status)
	}

	s.status = StatusProcessing
	s.processed = 0
	s.cancelRun = cancel
	s.message = "Import in progress"
	s.touch()
	return Ticket{ID: s.id, gen: s.gen}, s.candidates, nil
}

// Advance records progress. Progress never moves backwards.
func (s *Session) Advance(t Ticket, processed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.gen != s.gen || s.status != StatusProcessing || processed <= s.processed {
		return
	}
	s.processed = min(processed, s.total)
	s.touch()
}

// Complete marks the run completed. It returns false when the run was
// superseded by a cancel.
func (s *Session) Complete(t Ticket, stats ExecutionStats) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.gen != s.gen || s.status != StatusProcessing {
		return false
	}
	s.status = StatusCompleted
	s.processed = s.total
	s.stats = &stats
	s.message = stats.Summary()
	s.clearPending()
	s.touch()
	return true
}

// Fail marks the run failed. It returns false when the run was superseded.
func (s *Session) Fail(t Ticket, err error, partial *ExecutionStats) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.gen != s.gen || s.status != StatusProcessing {
		return false
	}
	s.status = StatusError
	s.stats = partial
	s.message = err.Error()
	s.clearPending()
	s.touch()
	return true
}

// Cancel discards whatever the session holds and returns it to pending.
// A running execution is signalled to stop after its current batch.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.id = ""
	s.status = StatusPending
	s.fileName = ""
	s.total, s.processed = 0, 0
	s.message = ""
	s.stats = nil
	s.clearPending()
	s.touch()
}

// Snapshot returns the current progress.
func (s *Session) Snapshot() ImportProgress {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := ImportProgress{
		ID:        s.id,
		Dataset:   s.dataset,
		Status:    s.status,
		FileName:  s.fileName,
		Total:     s.total,
		Processed: s.processed,
		Percent:   percentDone(s.status, s.total, s.processed),
		Message:   s.message,
		UpdatedAt: s.updatedAt,
	}
	if s.plan != nil {
		plan := *s.plan
		p.Plan = &plan
	}
	if s.stats != nil {
		stats := *s.stats
		p.Stats = &stats
	}
	return p
}

// clearPending drops the analyzed candidates; mu must be held.
func (s *Session) clearPending() {
	s.candidates = nil
	s.plan = nil
	s.cancelRun = nil
}

func (s *Session) touch() {
	s.updatedAt = s.now()
}
