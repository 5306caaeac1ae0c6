package spine

import (
	"errors"
	"fmt"

	"github.com/kestrel-governance/spine-controller/internal/gate"
)

// #region sentinels

// Sentinel errors for the caller-facing boundary, per §6/§7's error
// taxonomy. All are retriable except PolicyRejected and ChainCorrupted.
var (
	ErrBackpressure         = errors.New("spine: too many outstanding drafter calls")
	ErrIslandNotActive      = errors.New("spine: island not active")
	ErrIslandBreakerTripped = errors.New("spine: island circuit breaker tripped")
	ErrCallerDeadlineExceeded = errors.New("spine: caller deadline exceeded")
	ErrDrafterUnavailable   = errors.New("spine: drafter unavailable")
	ErrChainCorrupted       = errors.New("spine: chain corrupted")
)

// #endregion sentinels

// #region policy-rejected

// PolicyRejectedError wraps a Gate decision's reason for callers that want
// a typed error rather than branching on the returned Decision.Kind — the
// ordinary Submit path never returns this itself (a BLOCK still yields a
// successful SubmitResult carrying a safe fallback response), but
// AsError lets a caller opt into error-based control flow when it prefers.
type PolicyRejectedError struct {
	Reason string
}

func (e *PolicyRejectedError) Error() string {
	return fmt.Sprintf("spine: policy rejected: %s", e.Reason)
}

// AsError returns a non-nil error when decision.Kind is not PASS, for
// callers that prefer errors.As-based branching over inspecting
// SubmitResult.Decision directly.
func AsError(decision gate.Decision) error {
	if decision.Kind == gate.Pass {
		return nil
	}
	return &PolicyRejectedError{Reason: decision.Reason}
}

// #endregion policy-rejected
