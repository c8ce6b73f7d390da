package models

import "errors"

// Protocol-level error kinds. Handlers and agents match these with
// errors.Is; transport layers map them to status codes.
var (
	// ErrNotFound indicates a missing identity or key record.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates the caller's role lacks the capability
	// for the requested operation. Rejected before any cryptographic
	// work is attempted.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSetupConflict indicates setup found an existing non-empty
	// private-key blob. Resolved by returning the existing blob,
	// never by overwriting it.
	ErrSetupConflict = errors.New("setup already completed")
	// ErrNoDataKey indicates the identity has working keys but no
	// wrapped data key yet. Recoverable only by an admin grant.
	ErrNoDataKey = errors.New("no data key granted")
	// ErrNoLocalSecret indicates the agent holds no password-derived
	// secret. Recoverable by re-authenticating.
	ErrNoLocalSecret = errors.New("no local secret")
	// ErrDataKeyExists indicates bootstrap was attempted after the
	// shared data key had already been generated.
	ErrDataKeyExists = errors.New("data key already exists")
	// ErrBadCredentials indicates a password verifier mismatch.
	ErrBadCredentials = errors.New("invalid credentials")
	// ErrInvalidInput indicates a request that fails protocol
	// validation before any state is touched.
	ErrInvalidInput = errors.New("invalid input")
)
