package checkout

// State is the position of a controller in the checkout flow.
type State string

const (
	StateIdle           State = "idle"
	StateLoading        State = "loading"
	StateAwaitingWidget State = "awaiting_widget"
	StateSubmitting     State = "submitting"
	StateSucceeded      State = "succeeded"
	StateCancelled      State = "cancelled"
	StateFailed         State = "failed"
)

// InFlight reports whether an attempt currently owns the controller.
func (s State) InFlight() bool {
	switch s {
	case StateLoading, StateAwaitingWidget, StateSubmitting:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s ends an attempt.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}
