// Package domain defines the core entities of the verification pipeline:
// tasks moving through the claim/settle lifecycle, the structured results
// recorded when a task reaches a terminal state, and the tenant accounts
// whose credit gates processing.
package domain
