package labwatch

import (
	"errors"
	"net/url"
	"time"
)

const (
	defaultProbeTimeout  = 10 * time.Second
	defaultProbeInterval = 15 * time.Second
)

// Probe represents a networked instrument to sample over HTTP.
//
// A probe is a built-in repeatable activity: at its interval, the session
// requests the probe's URL, runs the configured [ValueExtractor] on the
// response, and appends the extracted value to the store under the probe's
// variable name. A failed request or extraction is logged and the sample
// skipped; the probe keeps running.
//
// Probe is immutable after creation via [NewProbe]. All fields are private
// with getter methods that return copies of mutable data (maps), ensuring
// the probe cannot be modified after construction.
type Probe struct {
	name      string
	url       string
	variable  string
	headers   map[string]string
	timeout   time.Duration
	extractor ValueExtractor
	method    string
	interval  time.Duration
}

// Name returns the probe's display name, used in logs.
func (p Probe) Name() string {
	return p.name
}

// URL returns the instrument URL the probe samples.
func (p Probe) URL() string {
	return p.url
}

// Variable returns the variable name the probe's samples are appended under.
func (p Probe) Variable() string {
	return p.variable
}

// Headers returns a copy of the probe's custom HTTP headers.
// These headers are sent with every sample request.
// Returns nil if no custom headers are set.
func (p Probe) Headers() map[string]string {
	return copyMap(p.headers)
}

// Timeout returns the probe's HTTP request timeout.
// Defaults to 10 seconds if not explicitly set via [WithProbeTimeout].
func (p Probe) Timeout() time.Duration {
	return p.timeout
}

// Extractor returns the probe's [ValueExtractor] function.
// Returns nil if no custom extractor was specified. When nil, the sampling
// layer applies [DefaultExtractor].
func (p Probe) Extractor() ValueExtractor {
	return p.extractor
}

// Method returns the HTTP method for sample requests.
// Returns empty string if not explicitly set, which means GET will be used.
func (p Probe) Method() string {
	return p.method
}

// Interval returns the pause between samples.
// Defaults to 15 seconds if not explicitly set via [WithProbeInterval].
func (p Probe) Interval() time.Duration {
	return p.interval
}

// NewProbe creates a [Probe] with the given name, URL, variable, and options.
//
// The name parameter is a human-readable identifier used in logs. The rawURL
// parameter must be a valid URL with a scheme (http:// or https://). The
// variable parameter is the store name samples are appended under.
//
// Options are applied in order using the functional options pattern.
// See [WithProbeHeaders], [WithProbeTimeout], [WithProbeExtractor],
// [WithProbeMethod], and [WithProbeInterval].
//
// Example:
//
//	probe, err := labwatch.NewProbe("oven", "http://oven.lab/api/temp", "oven_temp",
//	    labwatch.WithProbeExtractor(labwatch.JSONFieldExtractor("celsius")),
//	    labwatch.WithProbeInterval(5 * time.Second),
//	)
func NewProbe(name, rawURL, variable string, opts ...ProbeOption) (Probe, error) {
	if name == "" {
		return Probe{}, errors.New("probe name cannot be empty")
	}
	if variable == "" {
		return Probe{}, errors.New("probe variable cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Probe{}, errors.New("invalid URL: " + err.Error())
	}
	if parsedURL.Scheme == "" {
		return Probe{}, errors.New("URL must have a scheme (http:// or https://)")
	}

	cfg := &probeConfig{
		headers:  make(map[string]string),
		timeout:  defaultProbeTimeout,
		interval: defaultProbeInterval,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Probe{}, err
		}
	}

	return Probe{
		name:      name,
		url:       rawURL,
		variable:  variable,
		headers:   cfg.headers,
		timeout:   cfg.timeout,
		extractor: cfg.extractor,
		method:    cfg.method,
		interval:  cfg.interval,
	}, nil
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
