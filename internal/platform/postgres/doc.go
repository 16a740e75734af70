// Package postgres provides PostgreSQL implementations of the task queue,
// tenant lookup and credit ledger interfaces defined in internal/store.
//
// Every state transition is a single conditional UPDATE keyed on the row's
// current status and claim owner, so any number of worker processes can share
// one database without application-level locking. Claims use
// FOR UPDATE SKIP LOCKED so concurrent claimers never block on, or receive,
// each other's rows. The schema lives in the embedded migrations directory
// and is applied with goose.
package postgres
