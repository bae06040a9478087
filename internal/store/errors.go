package store

import "errors"

// NotFoundError marks lookups that came back empty where a row was expected.
// Callers that treat absence as a valid result (selection fallbacks) check
// with IsNotFound instead of propagating.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return "NOT_FOUND: " + e.Entity
}

// NotFound builds a NotFoundError for the named entity.
func NotFound(entity string) error {
	return &NotFoundError{Entity: entity}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
