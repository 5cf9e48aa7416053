package shared

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated indicates no identity was resolved for the request.
	ErrUnauthenticated = errors.New("unauthenticated")
)
