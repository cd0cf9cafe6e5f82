package inference

import "errors"

// Backend errors. ErrUnavailable wraps transport and service failures so
// callers can classify them as retryable; ErrBadResponse marks payloads
// the backend returned but the client could not interpret.
var (
	ErrUnavailable = errors.New("inference backend unavailable")
	ErrBadResponse = errors.New("inference backend returned an invalid response")
)
