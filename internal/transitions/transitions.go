// Package transitions implements the fixed status transition table, used by
// the ledger to validate history appends. It is pure: no I/O, no clock,
// no environment reads, so it is trivially testable and safe to call from
// any goroutine.
package transitions

import "github.com/notifyhub/dispatch/internal/models"

// table enumerates every status a message may move to directly from a given
// status. A status absent from the map (or not present as a key in its
// value set) is not reachable from the source status.
var table = map[models.Status]map[models.Status]bool{
	models.StatusScheduled: {
		models.StatusPending: true,
		models.StatusFailed:  true,
	},
	models.StatusPending: {
		models.StatusSent:      true,
		models.StatusDelivered: true,
		models.StatusFailed:    true,
		models.StatusRetrying:  true,
		models.StatusBounced:   true,
		models.StatusRejected:  true,
	},
	models.StatusRetrying: {
		models.StatusPending:   true,
		models.StatusSent:      true,
		models.StatusDelivered: true,
		models.StatusFailed:    true,
		models.StatusBounced:   true,
		models.StatusRejected:  true,
	},
	models.StatusSent: {
		models.StatusDelivered: true,
		models.StatusFailed:    true,
		models.StatusBounced:   true,
		models.StatusRejected:  true,
	},
	models.StatusFailed: {
		models.StatusRetrying: true,
	},
	// DELIVERED, BOUNCED, REJECTED are terminal: no outgoing entries.
}

// IsValid reports whether moving a message directly from "from" to "to" is
// permitted. Equal from/to is never valid; callers that need idempotent
// no-op writes must check for that themselves before calling IsValid.
func IsValid(from, to models.Status) bool {
	next, ok := table[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(status models.Status) bool {
	next, ok := table[status]
	return !ok || len(next) == 0
}

// Validate returns models.ErrInvalidTransition if the move is not permitted
// by the table.
func Validate(from, to models.Status) error {
	if !IsValid(from, to) {
		return models.ErrInvalidTransition
	}
	return nil
}
