package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readySession(t *testing.T, cands []CandidateRecord) (*Session, Ticket) {
	t.Helper()
	s := NewSession(DatasetCoreData)
	ticket, err := s.BeginAnalysis("core.xlsx")
	require.NoError(t, err)
	require.NoError(t, s.FinishAnalysis(ticket, cands, ImportPlan{TotalRows: len(cands), ToInsert: len(cands)}))
	return s, ticket
}

func TestSession_AnalysisLifecycle(t *testing.T) {
	s, ticket := readySession(t, candidates(1, 2, 3))

	p := s.Snapshot()
	assert.Equal(t, StatusReady, p.Status)
	assert.Equal(t, ticket.ID, p.ID)
	assert.Equal(t, 3, p.Total)
	assert.Zero(t, p.Processed)
	require.NotNil(t, p.Plan)
	assert.Equal(t, 3, p.Plan.ToInsert)
}

func TestSession_RejectsConcurrentAnalysis(t *testing.T) {
	s := NewSession(DatasetCoreData)
	_, err := s.BeginAnalysis("a.xlsx")
	require.NoError(t, err)

	_, err = s.BeginAnalysis("b.xlsx")
	assert.ErrorIs(t, err, ErrImportInProgress)
	assert.Equal(t, "a.xlsx", s.Snapshot().FileName)
}

func TestSession_FailAnalysisClearsPending(t *testing.T) {
	s := NewSession(DatasetCoreData)
	ticket, err := s.BeginAnalysis("bad.xlsx")
	require.NoError(t, err)

	s.FailAnalysis(ticket, ErrSchemaMismatch)

	p := s.Snapshot()
	assert.Equal(t, StatusError, p.Status)
	assert.Nil(t, p.Plan)

	_, _, err = s.BeginExecution(func() {})
	assert.ErrorIs(t, err, ErrNoPendingImport)
	assert.Equal(t, StatusError, s.Snapshot().Status, "status is untouched")
}

func TestSession_CancelThenExecuteHasNothingPending(t *testing.T) {
	s, _ := readySession(t, candidates(1))

	s.Cancel()
	assert.Equal(t, StatusPending, s.Snapshot().Status)

	_, _, err := s.BeginExecution(func() {})
	assert.ErrorIs(t, err, ErrNoPendingImport)
	assert.Equal(t, StatusPending, s.Snapshot().Status)
}

func TestSession_CancelDuringAnalysisDropsLateResult(t *testing.T) {
	s := NewSession(DatasetCoreData)
	ticket, err := s.BeginAnalysis("slow.xlsx")
	require.NoError(t, err)

	s.Cancel()

	err = s.FinishAnalysis(ticket, candidates(1), ImportPlan{})
	assert.ErrorIs(t, err, ErrImportCancelled)
	assert.Equal(t, StatusPending, s.Snapshot().Status)
}

func TestSession_ExecutionProgress(t *testing.T) {
	s, _ := readySession(t, candidates(1, 2, 3, 4))
	run, cands, err := s.BeginExecution(func() {})
	require.NoError(t, err)
	assert.Len(t, cands, 4)
	assert.Equal(t, StatusProcessing, s.Snapshot().Status)

	s.Advance(run, 2)
	s.Advance(run, 1)
	p := s.Snapshot()
	assert.Equal(t, 2, p.Processed, "progress never regresses")
	assert.Equal(t, 50, p.Percent)

	require.True(t, s.Complete(run, ExecutionStats{Inserted: 4}))
	p = s.Snapshot()
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, p.Total, p.Processed)
	assert.Equal(t, 100, p.Percent)
	assert.Nil(t, p.Plan)
	require.NotNil(t, p.Stats)
	assert.Equal(t, 4, p.Stats.Inserted)

	_, _, err = s.BeginExecution(func() {})
	assert.ErrorIs(t, err, ErrNoPendingImport, "a completed import cannot run twice")
}

func TestSession_CancelDuringExecution(t *testing.T) {
	s, _ := readySession(t, candidates(1, 2))
	cancelled := false
	run, _, err := s.BeginExecution(func() { cancelled = true })
	require.NoError(t, err)

	_, err = s.BeginAnalysis("other.xlsx")
	assert.ErrorIs(t, err, ErrImportInProgress)

	s.Cancel()
	assert.True(t, cancelled)

	assert.False(t, s.Complete(run, ExecutionStats{}), "stale completion is dropped")
	assert.False(t, s.Fail(run, errors.New("late"), nil))
	s.Advance(run, 2)

	p := s.Snapshot()
	assert.Equal(t, StatusPending, p.Status)
	assert.Zero(t, p.Processed)
}

func TestSession_FailExecution(t *testing.T) {
	s, _ := readySession(t, candidates(1, 2))
	run, _, err := s.BeginExecution(context.CancelFunc(func() {}))
	require.NoError(t, err)

	require.True(t, s.Fail(run, errors.New("connection reset"), &ExecutionStats{Inserted: 1}))

	p := s.Snapshot()
	assert.Equal(t, StatusError, p.Status)
	assert.Equal(t, "connection reset", p.Message)
	require.NotNil(t, p.Stats)
	assert.Equal(t, 1, p.Stats.Inserted)

	_, _, err = s.BeginExecution(func() {})
	assert.ErrorIs(t, err, ErrNoPendingImport)
}
