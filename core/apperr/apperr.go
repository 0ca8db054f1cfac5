// Package apperr holds the error kinds shared by the fulfillment packages.
// Callers match them with errors.Is; concrete errors wrap one of these.
package apperr

import "errors"

var (
	// ErrConfigurationMissing means a required secret or URL is absent.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrSignatureInvalid means an inbound webhook failed verification.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrNotFound means a course or user record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUpstream means the content backend or the conversion API failed.
	ErrUpstream = errors.New("upstream failure")

	// ErrSkipped means an event carried nothing worth applying.
	ErrSkipped = errors.New("skipped")
)
