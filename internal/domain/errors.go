package domain

import "errors"

var (
	// ErrNotAuthenticated means no verified identity was attached to the
	// connection. Fatal for the operation, reported to the caller only.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAccessDenied covers both "not a participant" and "no such
	// conversation". Callers must not distinguish the two.
	ErrAccessDenied = errors.New("access denied or not found")

	// ErrDecryptionFailed marks a payload that could not be decrypted.
	// Batch readers skip the affected message instead of aborting.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrConflictingState rejects operations that do not fit the current
	// call-session state, e.g. accepting your own call.
	ErrConflictingState = errors.New("conflicting call state")

	ErrInvalidRequest = errors.New("invalid request")
)
