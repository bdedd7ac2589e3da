package dispatch

import "errors"

var (
	// ErrNotFound is returned when the request id is unknown.
	ErrNotFound = errors.New("dispatch: request not found")

	// ErrAlreadyAssigned is returned to an Accept call that lost the
	// assignment race. Clients surface it as "case already taken".
	ErrAlreadyAssigned = errors.New("dispatch: request already assigned")

	// ErrRequestExpired is returned when a transition is attempted on an
	// expired request.
	ErrRequestExpired = errors.New("dispatch: request expired")

	// ErrRequestNotPending is returned when a transition requires a pending
	// request but the request is in another state.
	ErrRequestNotPending = errors.New("dispatch: request not pending")

	// ErrNotNotified is returned when a veterinarian who never received the
	// fan-out tries to decline. Accepting is allowed regardless, declining
	// would violate declined ⊆ notified.
	ErrNotNotified = errors.New("dispatch: veterinarian was not notified")

	// ErrInvalidTransition guards Escalate/Expire against terminal requests.
	// It signals a programming error, not a user-facing condition.
	ErrInvalidTransition = errors.New("dispatch: invalid transition")
)
