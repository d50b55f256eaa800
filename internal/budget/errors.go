package budget

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyUserID   = errors.New("user_id is required")
	ErrInvalidConfig = errors.New("invalid budget configuration")
	ErrStoreClosed   = errors.New("budget store is closed")
)

// DeniedError is returned by Consume when the user has no points left.
type DeniedError struct {
	State      State
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("health points exhausted: next point in %s", e.RetryAfter.Round(time.Second))
}

// IsDenied reports whether err is a DeniedError and returns it.
func IsDenied(err error) (*DeniedError, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied, true
	}
	return nil, false
}
