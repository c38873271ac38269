package lifecycle

import "fmt"

// InvalidTransitionError reports an action that is illegal for the case's
// current status: stage skipping, acting on a terminal case, or replaying a
// stale action. Carries the current status so the caller can resynchronize.
type InvalidTransitionError struct {
	Status string
	Action string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %s not allowed in status %s", e.Action, e.Status)
}

// ConflictError reports a failed optimistic-concurrency precondition. The
// caller should re-read and retry if the action still applies; the engine
// never retries internally.
type ConflictError struct {
	CaseID string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("case %s was modified concurrently; re-read and retry", e.CaseID)
}

// ValidationError reports a malformed payload with field-level detail.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
