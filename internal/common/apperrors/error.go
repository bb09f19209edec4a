// Package apperrors provides the application error type used across the
// tracker. It extends the standard error interface with error chaining and
// status codes so that user-facing failures (insufficient funds, invalid
// selections) carry a displayable reason while staying compatible with
// errors.Is / errors.As.
package apperrors

// Error is the interface implemented by all tracker errors. All methods
// return Error to support method chaining.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	New(msg string) Error                  // fresh error using current as template
	Msg(msg string) Error                  // new error with message, wraps original
	MsgErr(msg string, err ...error) Error // new error with message, wraps extra errors
	Err(err ...error) Error                // attaches additional errors to current error
	SetStatusCode(int) Error               // sets the status code
	StatusCode() int                       // returns the current status code
	ErrorAll() string                      // full message including wrapped errors
	UnwrapAll() []error                    // all wrapped errors
}
