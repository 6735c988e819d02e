package labwatch

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// gridConfig holds configuration during probe grid construction.
type gridConfig struct {
	urlTemplate      string
	variableTemplate string
	dimensions       map[string][]string
	headers          map[string]string
	timeout          time.Duration
	extractor        ValueExtractor
	method           string
	interval         time.Duration
}

// GridOption configures probe grid generation.
// GridOption implements the functional options pattern for [NewProbeGrid].
type GridOption func(*gridConfig) error

// WithURLTemplate sets the URL template for probe generation.
// The template uses Go's text/template syntax with dimension keys as variables.
//
// Example:
//
//	WithURLTemplate("http://daq.lab/read?channel={{.channel}}&range={{.range}}")
//
// Returns an error if the template string is empty.
func WithURLTemplate(tmpl string) GridOption {
	return func(cfg *gridConfig) error {
		if tmpl == "" {
			return errors.New("URL template required")
		}
		cfg.urlTemplate = tmpl
		return nil
	}
}

// WithVariableTemplate sets the variable-name template for probe generation.
// Each generated probe appends its samples under the rendered name, so the
// template must produce a distinct name per dimension combination.
//
// Example:
//
//	WithVariableTemplate("temp_{{.zone}}_{{.channel}}")
//
// Returns an error if the template string is empty.
func WithVariableTemplate(tmpl string) GridOption {
	return func(cfg *gridConfig) error {
		if tmpl == "" {
			return errors.New("variable template required")
		}
		cfg.variableTemplate = tmpl
		return nil
	}
}

// WithDimensions sets the dimension values for cartesian product expansion.
// Each key in the map becomes a template variable, and the cartesian product
// of all values generates the probe combinations.
//
// Example:
//
//	WithDimensions(map[string][]string{
//	    "zone":    {"top", "bottom"},
//	    "channel": {"0", "1"},
//	})
//
// Returns an error if the map is empty, any dimension has no values,
// or any value is an empty string.
func WithDimensions(dims map[string][]string) GridOption {
	return func(cfg *gridConfig) error {
		if len(dims) == 0 {
			return errors.New("at least one dimension required")
		}
		for k, vals := range dims {
			if len(vals) == 0 {
				return fmt.Errorf("dimension '%s' has no values", k)
			}
			for i, v := range vals {
				if v == "" {
					return fmt.Errorf("dimension '%s' contains empty value at index %d", k, i)
				}
			}
		}
		cfg.dimensions = dims
		return nil
	}
}

// WithGridHeaders adds HTTP headers to all generated probes.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
//
// Example:
//
//	WithGridHeaders("Authorization", "Bearer token")
func WithGridHeaders(keyValues ...string) GridOption {
	return func(cfg *gridConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithGridHeaders requires an even number of arguments (key-value pairs)")
		}
		if cfg.headers == nil {
			cfg.headers = make(map[string]string)
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithGridTimeout sets the HTTP request timeout for all generated probes.
//
// Returns an error if the duration is negative.
// A duration of zero is valid and means use the probe default.
func WithGridTimeout(d time.Duration) GridOption {
	return func(cfg *gridConfig) error {
		if d < 0 {
			return errors.New("timeout cannot be negative")
		}
		cfg.timeout = d
		return nil
	}
}

// WithGridExtractor sets a custom [ValueExtractor] for all generated probes.
// If nil, probes use [DefaultExtractor].
func WithGridExtractor(e ValueExtractor) GridOption {
	return func(cfg *gridConfig) error {
		cfg.extractor = e
		return nil
	}
}

// WithGridMethod sets the HTTP method for all generated probes.
//
// Supported methods are GET (default) and POST.
//
// Returns an error if the method is not GET or POST.
func WithGridMethod(method string) GridOption {
	return func(cfg *gridConfig) error {
		switch method {
		case http.MethodGet, http.MethodPost:
			cfg.method = method
			return nil
		default:
			return errors.New("method must be GET or POST")
		}
	}
}

// WithGridInterval sets the sampling interval for all generated probes.
//
// The interval must be between 100 milliseconds and 1 hour.
// A zero duration means use the probe default.
//
// Example:
//
//	WithGridInterval(time.Second)
func WithGridInterval(d time.Duration) GridOption {
	return func(cfg *gridConfig) error {
		if d < 0 {
			return errors.New("interval cannot be negative")
		}
		if d != 0 && d < 100*time.Millisecond {
			return errors.New("interval must be at least 100ms")
		}
		if d > time.Hour {
			return errors.New("interval must not exceed 1 hour")
		}
		cfg.interval = d
		return nil
	}
}
