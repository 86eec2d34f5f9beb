package api

import "errors"

var (
	ErrInvalidBaseURL = errors.New("API base URL must be an absolute http(s) URL")
	ErrInvalidCookie  = errors.New("session cookie must have the form name=value")
	ErrEmptyReason    = errors.New("escalation reason cannot be empty")
	ErrMalformedBody  = errors.New("backend returned a malformed response")
)
