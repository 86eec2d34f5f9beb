package controller

import "errors"

var (
	ErrNotAuthenticated = errors.New("no signed-in user")
	ErrForbidden        = errors.New("signed-in user's role cannot open this view")
	ErrUnmounted        = errors.New("view was unmounted before the response arrived")
	ErrNotLoaded        = errors.New("doubt has not been loaded")
	ErrEmptyAnswer      = errors.New("answer text is required")
	ErrUnknownMentor    = errors.New("mentor is not in the pending list")
	ErrApprovalPending  = errors.New("an approval for this mentor is already in flight")
)
