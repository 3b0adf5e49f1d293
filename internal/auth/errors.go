package auth

import (
	"errors"
	"fmt"
)

// ErrNoAcquirer is returned when a new credential is needed but the run is
// not allowed to prompt for one.
var ErrNoAcquirer = errors.New("interactive authorization is disabled")

// AuthError wraps every failure to produce a usable credential.
type AuthError struct {
	Op  string // "load", "refresh", "acquire", "save"
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
