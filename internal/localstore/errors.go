package localstore

import "errors"

var (
	ErrInvalidTheme = errors.New("theme must be 'light' or 'dark'")
	ErrEmptyKey     = errors.New("preference key cannot be empty")
	ErrStoreClosed  = errors.New("local store is closed")
)
