// Package testdb provides utilities for tests that need a real PostgreSQL or
// Redis instance.
//
// Tests skip themselves unless DATABASE_URL (or VERIFYD_TEST_DB_URL) is set,
// so the default `go test ./...` run needs no external services. Two isolation
// patterns are offered:
//
//   - WithTx runs a test inside a transaction that is always rolled back.
//     Use it for single-connection tests of statement behaviour.
//   - ResetTables truncates the queue tables. Use it for tests that exercise
//     concurrency across connections, which a single transaction cannot model.
//     Such tests must not call t.Parallel().
//
// Basic usage:
//
//	func TestClaim(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.ResetTables(t, db)
//	    ...
//	}
package testdb
