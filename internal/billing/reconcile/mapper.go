package reconcile

import "github.com/dukerupert/clinicops/internal/billing/model"

var statusMap = map[string]model.Status{
	"active":             model.StatusActive,
	"trialing":           model.StatusTrial,
	"incomplete":         model.StatusTrial,
	"past_due":           model.StatusSuspended,
	"unpaid":             model.StatusSuspended,
	"paused":             model.StatusSuspended,
	"canceled":           model.StatusCancelled,
	"incomplete_expired": model.StatusCancelled,
}

// MapStatus translates a remote subscription status. Unknown values return
// current and false so callers can report them.
func MapStatus(remote string, current model.Status) (model.Status, bool) {
	s, ok := statusMap[remote]
	if !ok {
		return current, false
	}
	return s, true
}
