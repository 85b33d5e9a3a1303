// ABOUTME: Sentinel errors shared by the document stores and the services built on them
// ABOUTME: Callers match with errors.Is; the HTTP layers map them to status codes

package store

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating an entity whose key is taken
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidGroup is returned when a variable references an unknown group
	ErrInvalidGroup = errors.New("invalid group")

	// ErrProtected is returned when mutating the default group or Default token
	ErrProtected = errors.New("protected")

	// ErrInvalidArgument is returned when a required field is missing
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIO wraps persistence read/write failures
	ErrIO = errors.New("storage I/O failure")

	// ErrNoDocument is returned by a Backend when the named document was never written
	ErrNoDocument = errors.New("document does not exist")

	// ErrUnchanged may be returned from an Update mutation to skip the write
	ErrUnchanged = errors.New("document unchanged")
)
