// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels, and carries loggers through context.Context so that store
// code deep in a call chain can log with the caller's attributes (worker ID, task ID).
package logger
