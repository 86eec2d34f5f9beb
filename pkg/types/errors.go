package types

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID         = errors.New("id must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrMissingID         = errors.New("doubt payload carries no identifier")
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 100")
	ErrInvalidStatus     = errors.New("invalid doubt status")
	ErrInvalidRole       = errors.New("invalid role: must be 'student', 'mentor' or 'admin'")
	ErrInvalidAction     = errors.New("invalid resolve action: must be 'verify_ai' or 'override'")
	ErrInvalidApproval   = errors.New("invalid approval status: must be 'approved' or 'rejected'")
	ErrInvalidPayload    = errors.New("invalid JSON payload")
	ErrInvalidRoom       = errors.New("room requires a join event and a key")
)

// APIError is a failure reported by the backend, unwrapped to its plain message
type APIError struct {
	Status  int
	Message string
	Path    string
}

// Error returns the server message, falling back to the status line
func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request to %s failed with status %d", e.Path, e.Status)
}

// IsUnauthorized reports whether the backend rejected the caller's credentials
func (e *APIError) IsUnauthorized() bool {
	return e.Status == 401 || e.Status == 403
}

// IsNotFound reports a 404 from the backend
func (e *APIError) IsNotFound() bool {
	return e.Status == 404
}
