package labwatch

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// chartSpec is one configured live chart: a label and the watched variables.
type chartSpec struct {
	name      string
	variables []string
}

// sessionConfig holds mutable state during Session construction.
type sessionConfig struct {
	sessionName    string
	title          string
	dataDir        string
	port           int
	serveHTTP      bool
	tickInterval   time.Duration
	windowCapacity int
	charts         []chartSpec
	probes         []Probe
	logger         *slog.Logger
	callbacks      []ReadingCallback
}

// Option is a function that configures a [Session] instance during
// construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithSessionName], [WithDataDir], [WithPort],
// [WithoutServer], [WithTickInterval], [WithWindowCapacity], [WithChart],
// [WithProbe], [WithProbes], [WithLogger], [WithTitle],
// [WithReadingCallback].
type Option func(*sessionConfig) error

// WithSessionName sets the session's name, which is required.
//
// The name becomes the database filename (<data dir>/<name>.db), so a
// session reopened under the same name continues the same log. It must be a
// valid variable-style name: non-empty, no control characters, no path
// separators.
//
// Example:
//
//	session, err := labwatch.New(
//	    labwatch.WithSessionName("heating_run_42"),
//	)
func WithSessionName(name string) Option {
	return func(cfg *sessionConfig) error {
		if name == "" {
			return errors.New("session name cannot be empty")
		}
		for _, r := range name {
			if r < 0x20 || r == 0x7f || r == '/' || r == '\\' {
				return fmt.Errorf("session name contains invalid character %q", r)
			}
		}
		cfg.sessionName = name
		return nil
	}
}

// WithDataDir sets the directory the session database lives in.
//
// The directory is created if it does not exist. Defaults to the current
// working directory.
//
// Example:
//
//	session, err := labwatch.New(
//	    labwatch.WithSessionName("run"),
//	    labwatch.WithDataDir("/data/experiments"),
//	)
func WithDataDir(dir string) Option {
	return func(cfg *sessionConfig) error {
		if dir == "" {
			return errors.New("data directory cannot be empty")
		}
		cfg.dataDir = dir
		return nil
	}
}

// WithPort sets the HTTP port for the dashboard server.
//
// The dashboard UI and API will be available at http://localhost:<port>.
// Defaults to 8080 if not specified.
//
// Example:
//
//	session, err := labwatch.New(
//	    labwatch.WithSessionName("run"),
//	    labwatch.WithPort(9090),
//	)
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *sessionConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		cfg.serveHTTP = true
		return nil
	}
}

// WithoutServer disables the HTTP dashboard entirely.
//
// Use this for headless batch runs where only the durable log matters.
// Charts configured via [WithChart] still run; their state is reachable
// programmatically and their view geometry is still persisted.
func WithoutServer() Option {
	return func(cfg *sessionConfig) error {
		cfg.serveHTTP = false
		return nil
	}
}

// WithTickInterval sets the pause between chart rendering ticks.
//
// Each tick pulls the rows appended since the last one, so a shorter
// interval means a more responsive chart at the cost of more frequent
// queries. Defaults to 1 second.
//
// Returns an error if the duration is zero or negative.
func WithTickInterval(d time.Duration) Option {
	return func(cfg *sessionConfig) error {
		if d <= 0 {
			return errors.New("tick interval must be positive")
		}
		cfg.tickInterval = d
		return nil
	}
}

// WithWindowCapacity sets how many points each chart keeps per variable.
//
// When a series outgrows the capacity, the oldest points are dropped first.
// Defaults to 1000.
//
// Returns an error if the capacity is zero or negative.
func WithWindowCapacity(n int) Option {
	return func(cfg *sessionConfig) error {
		if n <= 0 {
			return errors.New("window capacity must be positive")
		}
		cfg.windowCapacity = n
		return nil
	}
}

// WithChart adds a live chart watching the given variables.
//
// Can be called multiple times to configure several independent charts.
// Each chart runs as its own activity, keeps its own bounded point windows,
// and persists its own view geometry keyed by its variable set.
//
// Example:
//
//	session, err := labwatch.New(
//	    labwatch.WithSessionName("run"),
//	    labwatch.WithChart("temperatures", "t_top", "t_bottom"),
//	    labwatch.WithChart("pressure", "p0"),
//	)
//
// Returns an error if the chart name is empty or no variables are given.
func WithChart(name string, variables ...string) Option {
	return func(cfg *sessionConfig) error {
		if name == "" {
			return errors.New("chart name cannot be empty")
		}
		if len(variables) == 0 {
			return errors.New("chart requires at least one variable")
		}
		vars := make([]string, len(variables))
		copy(vars, variables)
		cfg.charts = append(cfg.charts, chartSpec{name: name, variables: vars})
		return nil
	}
}

// WithProbe adds a single [Probe] to the session.
//
// Can be called multiple times to add multiple probes. Each probe runs as
// its own repeating activity.
//
// Example:
//
//	session, err := labwatch.New(
//	    labwatch.WithSessionName("run"),
//	    labwatch.WithProbe(ovenProbe),
//	)
func WithProbe(p Probe) Option {
	return func(cfg *sessionConfig) error {
		cfg.probes = append(cfg.probes, p)
		return nil
	}
}

// WithProbes adds multiple [Probe] values to the session.
//
// This is a convenience function for adding several probes at once, such as
// the output of [NewProbeGrid]. Equivalent to calling [WithProbe] multiple
// times.
//
// Example:
//
//	probes, _ := labwatch.NewProbeGrid("daq", ...)
//	session, err := labwatch.New(
//	    labwatch.WithSessionName("run"),
//	    labwatch.WithProbes(probes...),
//	)
func WithProbes(probes ...Probe) Option {
	return func(cfg *sessionConfig) error {
		cfg.probes = append(cfg.probes, probes...)
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the session.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	session, err := labwatch.New(
//	    labwatch.WithSessionName("run"),
//	    labwatch.WithLogger(logger),
//	)
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *sessionConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithTitle sets the dashboard title displayed in the browser tab and header.
//
// If not specified, defaults to the session name.
//
// Example:
//
//	session, err := labwatch.New(
//	    labwatch.WithSessionName("run_42"),
//	    labwatch.WithTitle("Heating Run 42"),
//	)
func WithTitle(title string) Option {
	return func(cfg *sessionConfig) error {
		cfg.title = title
		return nil
	}
}

// WithReadingCallback registers a function to be called for every appended
// reading.
//
// The callback receives a [Reading] after the sample is durably stored. Use
// it for alerting, mirroring to another system, or driving actuators.
//
// Multiple callbacks may be registered by calling WithReadingCallback
// multiple times; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. Long-running operations should
// dispatch work to a separate goroutine. Blocking callbacks will delay the
// appending activity.
//
// Callbacks are invoked synchronously on the appending goroutine. Panics
// within callbacks are recovered and logged; they do not crash the session.
//
// Example:
//
//	session, err := labwatch.New(
//	    labwatch.WithSessionName("run"),
//	    labwatch.WithReadingCallback(func(r labwatch.Reading) {
//	        if r.Name == "temperature" && r.Value > 90 {
//	            log.Printf("ALERT: overheating, %.1f C", r.Value)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithReadingCallback(cb ReadingCallback) Option {
	return func(cfg *sessionConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}
