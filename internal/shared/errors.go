package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrMissingParty occurs when a request carries no acting party.
	ErrMissingParty = errors.New("acting party required")
)
