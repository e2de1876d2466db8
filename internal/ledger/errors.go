package ledger

import "errors"

var (
	// ErrConflict means concurrent writers collided on a ledger row. The
	// transaction was rolled back and can be resubmitted unchanged.
	ErrConflict = errors.New("ledger: storage conflict, transaction not applied")
	// ErrUnavailable means storage could not be reached or the request was
	// abandoned before commit. Nothing was written.
	ErrUnavailable = errors.New("ledger: storage unavailable, transaction not applied")
	// ErrOutcomeUnknown means the commit itself failed and the transaction may
	// or may not be stored. Resubmitting can duplicate it.
	ErrOutcomeUnknown = errors.New("ledger: commit outcome unknown")
)

// IsRetryable reports whether err guarantees the transaction was not applied
// and a resubmission is safe.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable)
}

// Outcome labels an Apply result for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, ErrInvalidCandidate):
		return "invalid"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrOutcomeUnknown):
		return "unknown"
	default:
		return "error"
	}
}
