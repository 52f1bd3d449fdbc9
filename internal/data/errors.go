package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrUserIDRequired is returned when a user id argument is blank.
	ErrUserIDRequired = errors.New("user id is required")
	// ErrEmailRequired is returned when EnsureUser is called without an email.
	ErrEmailRequired = errors.New("email is required")
)
