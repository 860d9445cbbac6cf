package session

import "fmt"

// SessionUpdateError reports that the backend did not accept the widget
// result. No order exists yet.
type SessionUpdateError struct {
	Status  int
	Message string
	Err     error
}

func (e *SessionUpdateError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("update payment session: %s", e.Message)
	case e.Err != nil:
		return fmt.Sprintf("update payment session: %v", e.Err)
	default:
		return fmt.Sprintf("update payment session: status %d", e.Status)
	}
}

func (e *SessionUpdateError) Unwrap() error { return e.Err }

// OrderCompletionError reports a failure while turning the cart into an
// order. Message is the backend text and is meant to be shown to the shopper.
type OrderCompletionError struct {
	Status  int
	Message string
	Err     error
}

func (e *OrderCompletionError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("complete order: %s", e.Message)
	case e.Err != nil:
		return fmt.Sprintf("complete order: %v", e.Err)
	default:
		return fmt.Sprintf("complete order: status %d", e.Status)
	}
}

func (e *OrderCompletionError) Unwrap() error { return e.Err }
