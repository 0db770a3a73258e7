package domain

import "errors"

var (
	// ErrValidation indicates bad or missing input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates a referenced identity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReferenceNotFound is returned by the store when a dependent record references missing content.
	ErrReferenceNotFound = ErrNotFound

	// ErrInvalidState indicates an operation that the content state machine does not allow.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict indicates a write that would overwrite a field that may only be set once.
	ErrConflict = errors.New("conflict")

	// ErrDuplicateIdentity indicates a generated identity collided with an existing record.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrPersistenceUnavailable indicates a store or transport failure.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrCapabilityFailed indicates the content-producing capability returned an error.
	ErrCapabilityFailed = errors.New("capability failed")

	// ErrInternal indicates an invariant violation.
	ErrInternal = errors.New("internal error")
)
