package models

import "errors"

// Validation errors mean bad input that no retry fixes.
var (
	ErrInvalidContract = errors.New("invalid contract")
	ErrInvalidTicket   = errors.New("invalid ticket")
	ErrContractExpired = errors.New("contract not active")
)

// Storage errors returned by every Store implementation.
var (
	// ErrStorageConflict is a uniqueness violation. Writers treat it as "already exists".
	ErrStorageConflict = errors.New("storage conflict")

	// ErrStorageUnavailable is fatal to the current invocation only.
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrNotFound = errors.New("not found")
)
