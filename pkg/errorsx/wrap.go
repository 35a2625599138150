// Package errorsx tags errors with a reason code so the engine can map a
// failure to its spoken apology and its metrics tag without string
// matching. Wrapping is idempotent: the first reason attached wins, the
// one closest to the failure.
package errorsx

import "errors"

// ReasonedError is an error carrying a ReasonCode. It unwraps normally,
// so errors.Is and errors.As still see the cause.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// Wrap attaches reason to err. Nil stays nil; an already reasoned error
// keeps its original reason.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	if hasAnyReason(err) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason returns the reason attached to err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var re ReasonedError
	if err != nil && errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason reports whether err carries exactly the given reason.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

func hasAnyReason(err error) bool {
	var re ReasonedError
	return errors.As(err, &re)
}
