// Package pool sizes and supervises the worker fleet.
//
// A Manager reads the shared backlog on a fixed period, derives how many
// workers the backlog needs and asks a Supervisor to spawn or stop workers to
// match. Workers coordinate with each other only through the task store; the
// manager observes their lifecycle events for bookkeeping and never hands out
// work itself.
//
// Two substrates are provided: LocalSupervisor runs workers as goroutines in
// the manager's process and ProcessSupervisor runs each worker as a separate
// OS process.
package pool
