// Package events carries worker lifecycle reports to the pool manager.
//
// Workers emit a WorkerEvent when they start, claim a batch, find nothing to
// claim, settle an item, finish a batch and stop. The manager uses them only
// for bookkeeping (processed counts, liveness, batch coordination); task
// ownership is decided by the store alone.
//
// The primary components are:
//   - WorkerEvent: one lifecycle report
//   - EventHandler / EventEmitter: the publish side and the consume side
//   - InMemoryEventEmitter: fan-out within one process
//   - Encoder / Decoder: JSON lines across a worker subprocess's stdout
package events
