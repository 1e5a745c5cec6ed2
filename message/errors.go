package message

import (
	"errors"
	"fmt"
)

// ErrNoHandler reports a remote-dependent operation on a Message that was
// constructed without a mail handler.
var ErrNoHandler = errors.New("message has no mail handler to fetch through")

// MissingFieldError reports a required payload key that was absent during
// construction.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("payload is missing required field %q", e.Field)
}

// DateParseError reports a payload date string that does not match the
// service's "YYYY-MM-DD HH:MM:SS" format.
type DateParseError struct {
	Value string
	Err   error
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("parse message date %q: %v", e.Value, e.Err)
}

func (e *DateParseError) Unwrap() error {
	return e.Err
}
