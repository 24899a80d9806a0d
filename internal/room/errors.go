package room

import "errors"

var (
	// ErrPermissionDenied signals a control or queue action without the
	// required role or settings flag.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrEntitlementRequired signals playback blocked by tier or boost.
	ErrEntitlementRequired = errors.New("entitlement required")
	// ErrQueueLimitReached signals the tier's queue limit is full.
	ErrQueueLimitReached = errors.New("queue limit reached")
	// ErrNotFound signals a missing track or room.
	ErrNotFound = errors.New("not found")
	// ErrTransitionInProgress signals an overlapping track advance. It is
	// dropped silently by callers; rapid double-clicks are expected.
	ErrTransitionInProgress = errors.New("transition in progress")
)

// Reason maps a command error to the wire reason code carried on targeted
// error events.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission-denied"
	case errors.Is(err, ErrEntitlementRequired):
		return "entitlement-required"
	case errors.Is(err, ErrQueueLimitReached):
		return "queue-limit-reached"
	case errors.Is(err, ErrNotFound):
		return "not-found"
	default:
		return "internal-error"
	}
}
