package labwatch

import (
	"errors"
	"net/http"
	"time"
)

// probeConfig holds mutable state during probe construction.
type probeConfig struct {
	headers   map[string]string
	timeout   time.Duration
	extractor ValueExtractor
	method    string
	interval  time.Duration
}

// ProbeOption is a function that configures a [Probe] during construction.
//
// ProbeOption implements the functional options pattern, allowing optional
// configuration to be passed to [NewProbe] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithProbeHeaders], [WithProbeTimeout],
// [WithProbeExtractor], [WithProbeMethod], [WithProbeInterval].
type ProbeOption func(*probeConfig) error

// WithProbeHeaders adds custom HTTP headers to sample requests.
//
// Use this for instruments that require authentication or custom headers.
// Headers are sent with every sample request.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
//
// Example:
//
//	probe, err := labwatch.NewProbe("daq", url, "voltage",
//	    labwatch.WithProbeHeaders("Authorization", "Bearer token123"),
//	)
//
// Returns an error if an odd number of arguments is provided.
func WithProbeHeaders(keyValues ...string) ProbeOption {
	return func(cfg *probeConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithProbeHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithProbeTimeout sets the HTTP request timeout for this probe.
//
// If the instrument does not respond within this duration, the sample is
// skipped and logged. Defaults to 10 seconds if not specified.
//
// Example:
//
//	probe, err := labwatch.NewProbe("slow-daq", url, "flow",
//	    labwatch.WithProbeTimeout(30 * time.Second),
//	)
//
// Returns an error if the duration is zero or negative.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(cfg *probeConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithProbeExtractor sets a custom [ValueExtractor] for this probe.
//
// The extractor determines how to pull a numeric value out of the HTTP
// response. If not specified, the probe uses [DefaultExtractor], which tries
// a bare number first and then a JSON "value" field.
//
// Example:
//
//	probe, err := labwatch.NewProbe("oven", url, "oven_temp",
//	    labwatch.WithProbeExtractor(labwatch.JSONFieldExtractor("data.celsius")),
//	)
func WithProbeExtractor(e ValueExtractor) ProbeOption {
	return func(cfg *probeConfig) error {
		cfg.extractor = e
		return nil
	}
}

// WithProbeMethod sets the HTTP method for sample requests.
//
// Supported methods are GET (default) and POST. Use POST for instruments
// whose read endpoint requires it.
//
// If not specified, GET is used.
//
// Returns an error if the method is not GET or POST.
func WithProbeMethod(method string) ProbeOption {
	return func(cfg *probeConfig) error {
		switch method {
		case http.MethodGet, http.MethodPost:
			cfg.method = method
			return nil
		default:
			return errors.New("method must be GET or POST")
		}
	}
}

// WithProbeInterval sets the pause between samples for this probe.
//
// The interval must be at least 100 milliseconds and at most 1 hour.
// Defaults to 15 seconds if not specified.
//
// Note: The interval is measured from when a sample completes, so the
// effective period is interval + request duration.
//
// Example:
//
//	fast, _ := labwatch.NewProbe("pressure", url, "p0",
//	    labwatch.WithProbeInterval(time.Second),
//	)
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(cfg *probeConfig) error {
		if d < 100*time.Millisecond {
			return errors.New("interval must be at least 100ms")
		}
		if d > time.Hour {
			return errors.New("interval must not exceed 1 hour")
		}
		cfg.interval = d
		return nil
	}
}
