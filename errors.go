package labwatch

import (
	"errors"

	"github.com/labwatch/labwatch/internal/store"
)

// Sentinel errors returned by the labwatch API. Wrapped errors are
// detectable with [errors.Is].
var (
	// ErrStorage indicates the session database could not be opened,
	// initialized, or written. It also covers opening a file that is not a
	// labwatch session database.
	ErrStorage = store.ErrStorage

	// ErrClosedStore is returned by store operations after the session has
	// shut down and closed its database.
	ErrClosedStore = store.ErrClosed

	// ErrInvalidName is returned when a variable or parameter name is empty
	// or contains control characters.
	ErrInvalidName = store.ErrInvalidName

	// ErrInvalidActivity is returned by [Session.Run] when an activity is
	// the zero value or has no function, before anything starts.
	ErrInvalidActivity = errors.New("invalid activity")
)
