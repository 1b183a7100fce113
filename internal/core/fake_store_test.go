package core

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
)

var errConnLost = errors.New("connection reset by peer")

// fakeStore is an in-memory Store with per-batch transactions.
type fakeStore struct {
	mu        sync.Mutex
	records   map[Key]CandidateRecord
	links     KeySet
	analytics []AnalyticsRecord

	rejectKeys KeySet // row-level failures
	fatalKey   Key    // storage fault on this key

	batches     int
	deleteCalls int
	inserts     []Key
	upserts     []Key
	onBatch     func(n int)
}

func newFakeStore(persisted []Key, protected []Key) *fakeStore {
	s := &fakeStore{
		records:    make(map[Key]CandidateRecord),
		links:      NewKeySet(protected...),
		rejectKeys: NewKeySet(),
	}
	for _, k := range persisted {
		s.records[k] = CandidateRecord{Cartel: k}
	}
	return s
}

func (s *fakeStore) keys() KeySet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(KeySet, len(s.records))
	for k := range s.records {
		out.Add(k)
	}
	return out
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) CountKeys(context.Context) (int, error) {
	return s.keys().Len(), nil
}

func (s *fakeStore) ListKeys(context.Context) (KeySet, error) {
	return s.keys(), nil
}

func (s *fakeStore) ListProtectedKeys(context.Context) (KeySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.links), nil
}

func (s *fakeStore) DeleteWhereKeyNotIn(_ context.Context, keep KeySet) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	var n int64
	for k := range s.records {
		if !keep.Has(k) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ApplyBatch(_ context.Context, fn func(BatchWriter) error) error {
	s.mu.Lock()
	tx := &fakeTx{store: s, records: maps.Clone(s.records)}
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.records = tx.records
	s.inserts = append(s.inserts, tx.inserts...)
	s.upserts = append(s.upserts, tx.upserts...)
	s.batches++
	n := s.batches
	hook := s.onBatch
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return nil
}

func (s *fakeStore) ReplaceAnalytics(_ context.Context, rows []AnalyticsRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analytics = append([]AnalyticsRecord(nil), rows...)
	return int64(len(rows)), nil
}

type fakeTx struct {
	store   *fakeStore
	records map[Key]CandidateRecord
	inserts []Key
	upserts []Key
}

func (tx *fakeTx) check(rec CandidateRecord) error {
	if rec.Cartel == tx.store.fatalKey && rec.Cartel != 0 {
		return errConnLost
	}
	if tx.store.rejectKeys.Has(rec.Cartel) {
		return &RowError{Key: rec.Cartel, Err: fmt.Errorf("value too long for type character varying(3)")}
	}
	return nil
}

func (tx *fakeTx) UpsertByKey(_ context.Context, rec CandidateRecord) error {
	if err := tx.check(rec); err != nil {
		return err
	}
	tx.records[rec.Cartel] = rec
	tx.upserts = append(tx.upserts, rec.Cartel)
	return nil
}

func (tx *fakeTx) Insert(_ context.Context, rec CandidateRecord) error {
	if err := tx.check(rec); err != nil {
		return err
	}
	if _, exists := tx.records[rec.Cartel]; exists {
		return &RowError{Key: rec.Cartel, Err: errors.New("duplicate key value violates unique constraint")}
	}
	tx.records[rec.Cartel] = rec
	tx.inserts = append(tx.inserts, rec.Cartel)
	return nil
}

func candidates(keys ...Key) []CandidateRecord {
	out := make([]CandidateRecord, len(keys))
	for i, k := range keys {
		out[i] = CandidateRecord{Cartel: k, Articolo: fmt.Sprintf("ART%d", k), Line: i + 2}
	}
	return out
}
