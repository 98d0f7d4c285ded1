package domain

// ValidationState tracks where a candidate sits in the validation lifecycle.
type ValidationState string

const (
	// StatePending means the candidate was discovered but validation has
	// not started yet.
	StatePending ValidationState = "PENDING"

	// StateValidating means checks for the candidate are currently running.
	StateValidating ValidationState = "VALIDATING"

	// StateMonitoring means at least one check failed and a re-validation
	// is scheduled.
	StateMonitoring ValidationState = "MONITORING"

	// StateValidated means all checks passed. Terminal.
	StateValidated ValidationState = "VALIDATED"

	// StateRejected means the candidate exhausted its validation attempts
	// or failed terminally. Terminal.
	StateRejected ValidationState = "REJECTED"
)

// Terminal reports whether the state is final. Terminal candidates are not
// re-processed until their cache entry expires.
func (s ValidationState) Terminal() bool {
	return s == StateValidated || s == StateRejected
}
