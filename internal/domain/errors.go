package domain

import "errors"

var (
	// ErrNotFound signals a missing record in any repository.
	ErrNotFound = errors.New("domain: not found")
	// ErrUserInactive signals the record was merged away or deactivated.
	ErrUserInactive = errors.New("domain: user inactive")
)
