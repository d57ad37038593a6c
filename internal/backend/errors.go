package backend

import (
	"errors"
	"fmt"
)

// Sentinel errors for common client-side cases.
var (
	// ErrNoData indicates the backend returned an empty result where one row was expected.
	ErrNoData = errors.New("no data returned")
)

// APIError is a non-2xx response from the hosted backend. It carries the HTTP
// status so the classifier can map failures without substring matching.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend: %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
