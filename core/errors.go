package core

import "errors"

var (
	// ErrUserNotFound is returned for operations on unregistered users.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when registering an id twice.
	ErrUserExists = errors.New("user already exists")
	// ErrStorage wraps persistence failures; the caller owns the retry policy.
	ErrStorage = errors.New("storage failure")
	// ErrInvalidBadge flags a malformed badge code.
	ErrInvalidBadge = errors.New("invalid badge code")
	// ErrInvalidAction rejects an action context the ledger cannot price.
	ErrInvalidAction = errors.New("invalid action")
	// ErrPointsOverflow means an award does not fit in an int64.
	ErrPointsOverflow = errors.New("points overflow")
)

// IsRetryable reports whether err is a storage failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) && !errors.Is(err, ErrUserNotFound)
}
