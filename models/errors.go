package models

import "errors"

// Domain error taxonomy. Engine functions wrap these with fmt.Errorf("%w: ...")
// so callers classify with errors.Is and still get a useful message. All of
// them abort the enclosing transaction; none are retried automatically.
var (
	ErrNotFound            = errors.New("record not found")
	ErrValidation          = errors.New("validation failed")
	ErrPartMismatch        = errors.New("part mismatch")
	ErrDuplicateLink       = errors.New("duplicate link")
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrPreconditionFailed  = errors.New("precondition failed")
)
