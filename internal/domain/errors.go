package domain

import "errors"

// ErrInvalidTransition is returned when a task cannot move to the requested status.
var ErrInvalidTransition = errors.New("invalid status transition")
