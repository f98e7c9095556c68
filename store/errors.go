package store

import "errors"

var (
	// ErrNotFound is returned when an operation requires an existing record and none exists.
	ErrNotFound = errors.New("roster: record not found")

	// ErrUnknownOwner is returned when a child record references an owner that doesn't exist.
	ErrUnknownOwner = errors.New("roster: owner not found")

	// ErrCorruptRecord is returned when a stored document cannot be decoded.
	ErrCorruptRecord = errors.New("roster: corrupt record")

	// ErrWriteFailure is returned when the backend rejects or fails a write.
	ErrWriteFailure = errors.New("roster: write failed")

	// ErrAlreadyExists is returned by backends when an insert targets an existing id.
	ErrAlreadyExists = errors.New("roster: record already exists")

	// ErrConcurrentModification is returned when a record changed between read and
	// write (version mismatch) more often than the store is configured to retry.
	ErrConcurrentModification = errors.New("roster: record was modified concurrently")
)
