package errors

import "errors"

// Common dashcore errors. Callers compare with errors.Is.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input provided")
	ErrFetchFailed    = errors.New("dataset fetch failed")
	ErrAlreadyMounted = errors.New("component already mounted")
	ErrLeak           = errors.New("component left live registrations behind")
)

// Wrap adds context to an existing error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
