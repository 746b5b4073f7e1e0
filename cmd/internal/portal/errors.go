package portal

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConfig             = errors.New("portal: invalid config")
	ErrInvalidCredentials = errors.New("portal: invalid credentials")
	ErrInvalidToken       = errors.New("portal: invalid token")
	ErrThrottled          = errors.New("portal: too many attempts")
	ErrInvalidHash        = errors.New("portal: invalid password hash")
	ErrPasswordTooShort   = errors.New("portal: password too short")
	ErrPasswordTooLong    = errors.New("portal: password too long")
)

// ThrottleError reports how long a client must wait before retrying.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e ThrottleError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", ErrThrottled, e.RetryAfter)
}

func (e ThrottleError) Unwrap() error { return ErrThrottled }
