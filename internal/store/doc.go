// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the worker and pool manager, which coordinate exclusively through the
// conditional writes these stores expose.
package store
