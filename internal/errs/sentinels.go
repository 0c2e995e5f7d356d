// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoCode indicates the client's cursor has no further unflagged code to serve.
	ErrNoCode = errors.New("no code available")

	// ErrNotFetched indicates a pop was attempted without a preceding fetch.
	ErrNotFetched = errors.New("head not fetched")

	// ErrUnauthorized indicates a missing or incorrect shared secret.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary register lockout due to repeated auth failures.
	ErrRateLimited = errors.New("rate limited")
)
