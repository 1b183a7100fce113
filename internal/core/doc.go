// Package core provides the business logic for the Core Data reconciliation import.
//
// An ERP exports its production order lines ("Core Data") as a spreadsheet.
// Importing it replaces the local dataset with the file's content, except for
// records another subsystem still links to: those are protected, never
// deleted, and updated in place.
//
// # Pipeline
//
// An import runs in two phases separated by a human confirmation:
//
//  1. [Service.Analyze] reads the first sheet ([ReadSheet]), resolves the
//     header row against [CoreDataLayout], maps rows to [CandidateRecord]s and
//     computes an [ImportPlan] with [Plan]. Storage is only read.
//  2. [Service.Execute] (or [Service.StartExecute]) runs the [Executor]:
//     delete every unprotected record, then apply candidates in batches of
//     [Options.BatchSize], one transaction per batch.
//
// A [Session] tracks the state between the phases. Only one analysis or
// execution owns it at a time; [Service.Cancel] discards whatever it holds.
//
// # Storage
//
// The package talks to storage through [Store]. Implementations live in
// internal/store (PostgreSQL and SQLite).
//
// # Analytics
//
// [Service.ImportAnalytics] loads the sales analytics sheet, groups lines
// with [GroupAnalytics] and replaces the analytics table wholesale.
package core
