package store

import "errors"

var (
	// ErrDuplicate is returned when an item id has already been persisted.
	ErrDuplicate = errors.New("item already persisted")

	// ErrTargetReached is returned when the store already holds its limit.
	ErrTargetReached = errors.New("target reached")

	// ErrLocked is returned when another writer holds the output lock.
	ErrLocked = errors.New("output is locked by another writer")

	// ErrClosed is returned by Append after Close.
	ErrClosed = errors.New("store closed")

	// ErrHeaderMismatch is returned when an existing file has a different header.
	ErrHeaderMismatch = errors.New("csv header does not match item columns")

	// ErrIndexMismatch is returned when the id index lists more items than the output holds.
	ErrIndexMismatch = errors.New("id index does not match output rows")
)
