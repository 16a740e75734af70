// Package api serves the manager's operational HTTP surface: a liveness
// probe and a JSON view of the pool.
package api
