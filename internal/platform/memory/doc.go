// Package memory provides an in-process implementation of the task queue,
// tenant lookup and credit ledger. A single mutex stands in for the row-level
// atomicity a database gives each conditional UPDATE, so the implementation
// honours the same claim and debit guarantees as the PostgreSQL store. It is
// used for tests and for single-process runs with the local supervisor.
package memory
