package trip

import "errors"

// Expected failure conditions callers are meant to branch on. The HTTP layer
// maps these with errors.Is; anything else is treated as a dependency failure.
var (
	ErrValidation        = errors.New("invalid input")
	ErrOutOfServiceArea  = errors.New("out of service area")
	ErrStaleOffer        = errors.New("trip no longer available")
	ErrUnauthorized      = errors.New("caller is not a participant")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("trip not found")
	ErrAlreadyRated      = errors.New("trip already rated by caller")
	ErrDependency        = errors.New("dependency unavailable")
)
