package core

import "context"

// DatasetStore is the persistence contract of the Core Data table.
// Implementations live in internal/store.
type DatasetStore interface {
	// CountKeys returns the number of persisted records.
	CountKeys(ctx context.Context) (int, error)

	// ListKeys returns every persisted business key.
	ListKeys(ctx context.Context) (KeySet, error)

	// ListProtectedKeys returns the distinct keys referenced from the link table.
	ListProtectedKeys(ctx context.Context) (KeySet, error)

	// DeleteWhereKeyNotIn removes every record whose key is not in keep and
	// returns the number removed.
	DeleteWhereKeyNotIn(ctx context.Context, keep KeySet) (int64, error)

	// ApplyBatch runs fn inside one transaction. The transaction commits when
	// fn returns nil and rolls back otherwise.
	ApplyBatch(ctx context.Context, fn func(BatchWriter) error) error
}

// BatchWriter writes single records inside an ApplyBatch transaction.
// Each call runs under its own savepoint: a rejected record returns a
// *RowError and leaves the transaction usable. Any other error is fatal.
type BatchWriter interface {
	UpsertByKey(ctx context.Context, rec CandidateRecord) error
	Insert(ctx context.Context, rec CandidateRecord) error
}

// AnalyticsStore persists the grouped analytics rows.
type AnalyticsStore interface {
	// ReplaceAnalytics swaps the whole analytics table for rows in one
	// transaction and returns the number written.
	ReplaceAnalytics(ctx context.Context, rows []AnalyticsRecord) (int64, error)
}

// Store is everything the service needs from storage.
type Store interface {
	DatasetStore
	AnalyticsStore
	Ping(ctx context.Context) error
}
