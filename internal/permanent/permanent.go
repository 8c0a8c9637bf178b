package permanent

import "errors"

// Error wraps a delivery failure that retrying cannot fix, such as a
// rejected recipient address or a provider 4xx.
// Params: wrapped root cause.
// Returns: marker recognized by the dispatch retry policy.
type Error struct {
	Err error
}

// Error returns the wrapped failure message.
// Params: none.
// Returns: cause text, or a placeholder when no cause was attached.
func (e Error) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

// Unwrap exposes the cause to errors.Is and errors.As.
// Params: none.
// Returns: wrapped cause.
func (e Error) Unwrap() error {
	return e.Err
}

// Permanent tags the error as non-retryable.
// Params: none.
// Returns: true.
func (Error) Permanent() bool {
	return true
}

// Mark flags an error so the retry loop gives up on it immediately.
// Params: source error.
// Returns: marked error, or nil when the source is nil.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return Error{Err: err}
}

// Is reports whether any error in the chain carries the marker.
// Params: candidate error.
// Returns: true when the failure must not be retried.
func Is(err error) bool {
	if err == nil {
		return false
	}
	type marker interface {
		Permanent() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.Permanent()
}
