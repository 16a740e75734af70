// Package task implements the verification worker and the stale-claim
// reclaimer.
//
// A Worker repeatedly claims a batch of pending tasks from the shared store,
// processes each item (tenant lookup, credit pre-check, deadline-bounded
// oracle call, conditional debit, settle) and backs off when there is nothing
// to do or the store is unreachable. Its states are idle, claiming_batch,
// processing_item, backing_off and stopped.
//
// A Reclaimer periodically returns claims older than a threshold to pending,
// healing work abandoned by crashed or killed workers, and rejects pending
// tasks whose tenant no longer exists.
package task
