package labwatch

// Reading is one recorded sample: a variable name, the wall-clock time it
// was appended (seconds since the Unix epoch), and its value.
//
// Reading is immutable after creation. All values appended in a single
// [Session.Append] call share one timestamp.
type Reading struct {
	// Name is the variable the sample belongs to.
	Name string `json:"name"`

	// Timestamp is the append time in seconds since the Unix epoch.
	Timestamp float64 `json:"timestamp"`

	// Value is the recorded measurement.
	Value float64 `json:"value"`
}

// ReadingCallback is invoked for every reading appended to the session.
//
// Callbacks run synchronously on the appending goroutine, after the data is
// durably stored. They must be non-blocking; long-running work should be
// dispatched to a separate goroutine. Panics within callbacks are recovered
// and logged with a correlation ID; they do not crash the session.
type ReadingCallback func(Reading)
