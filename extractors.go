package labwatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ValueExtractor is a function type that pulls a numeric measurement out of
// an instrument's HTTP response.
//
// ValueExtractor follows functional programming principles: it is a pure
// function where the same inputs always produce the same output. This makes
// extractors easy to test, compose, and reason about.
//
// Parameters:
//   - body: The HTTP response body as bytes
//   - statusCode: The HTTP status code (e.g., 200, 404, 500)
//
// Returns the extracted value, or an error when the response does not
// contain one.
//
// Several built-in extractors are provided: [NumberExtractor],
// [JSONFieldExtractor], [RegexExtractor], and [FirstMatch] for composition.
//
// # Panic Safety
//
// ValueExtractor functions are called within a panic recovery boundary. If
// an extractor panics, the sample is dropped and an error with a correlation
// ID is logged along with the full stack trace. A misbehaving extractor
// cannot crash the session.
type ValueExtractor func(body []byte, statusCode int) (float64, error)

// NumberExtractor is a [ValueExtractor] for instruments that answer with a
// bare number, optionally surrounded by whitespace.
var NumberExtractor ValueExtractor = func(body []byte, statusCode int) (float64, error) {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return 0, errors.New("empty response body")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("response is not a number: %q", truncate(s, 40))
	}
	return v, nil
}

// JSONFieldExtractor returns a [ValueExtractor] that extracts a numeric
// value from a JSON field using dot notation to navigate nested objects.
//
// The path parameter specifies the field to extract. For example,
// "data.sensor.value" navigates to {"data": {"sensor": {"value": 21.5}}}.
//
// Numeric JSON values are returned directly. String values are parsed as
// numbers, and booleans map to 1 and 0. Anything else is an error.
//
// Example:
//
//	// For response: {"channels": {"a0": 3.14}}
//	extractor := labwatch.JSONFieldExtractor("channels.a0")
func JSONFieldExtractor(path string) ValueExtractor {
	parts := strings.Split(path, ".")

	return func(body []byte, statusCode int) (float64, error) {
		var data interface{}
		if err := json.Unmarshal(body, &data); err != nil {
			return 0, fmt.Errorf("invalid JSON: %w", err)
		}

		current := data
		for _, part := range parts {
			obj, ok := current.(map[string]interface{})
			if !ok {
				return 0, fmt.Errorf("field %q not found", path)
			}
			current, ok = obj[part]
			if !ok {
				return 0, fmt.Errorf("field %q not found", path)
			}
		}

		switch v := current.(type) {
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return 0, fmt.Errorf("field %q is not numeric: %q", path, truncate(v, 40))
			}
			return f, nil
		case bool:
			if v {
				return 1, nil
			}
			return 0, nil
		default:
			return 0, fmt.Errorf("field %q is not numeric", path)
		}
	}
}

// RegexExtractor returns a [ValueExtractor] that matches the response body
// against a regular expression pattern and parses the first capture group as
// a number.
//
// The pattern must contain at least one capture group.
//
// Returns an error if the pattern is invalid.
//
// Example:
//
//	// Match "T=21.53 C"
//	extractor, err := labwatch.RegexExtractor(`T=([-0-9.eE+]+)`)
func RegexExtractor(pattern string) (ValueExtractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	return func(body []byte, statusCode int) (float64, error) {
		matches := re.FindSubmatch(body)
		if len(matches) < 2 {
			return 0, fmt.Errorf("pattern %q found no match", pattern)
		}
		v, err := strconv.ParseFloat(string(matches[1]), 64)
		if err != nil {
			return 0, fmt.Errorf("captured %q is not a number", matches[1])
		}
		return v, nil
	}, nil
}

// MustRegexExtractor is like [RegexExtractor] but panics if the pattern
// is invalid.
//
// Use this for compile-time constant patterns where you want to fail fast
// on invalid regex. For runtime patterns, use [RegexExtractor] instead.
//
// Example:
//
//	var tempExtractor = labwatch.MustRegexExtractor(`"celsius":\s*([-0-9.]+)`)
func MustRegexExtractor(pattern string) ValueExtractor {
	extractor, err := RegexExtractor(pattern)
	if err != nil {
		panic("labwatch: invalid regex pattern: " + err.Error())
	}
	return extractor
}

// FirstMatch returns a [ValueExtractor] that tries multiple extractors in
// order, returning the first successful result.
//
// This is useful for composing extractors with fallback behavior. Each
// extractor is tried in sequence until one succeeds. If all fail, the last
// error is returned.
//
// Example:
//
//	// Try a JSON field first, fall back to a bare number
//	extractor := labwatch.FirstMatch(
//	    labwatch.JSONFieldExtractor("value"),
//	    labwatch.NumberExtractor,
//	)
func FirstMatch(extractors ...ValueExtractor) ValueExtractor {
	return func(body []byte, statusCode int) (float64, error) {
		var lastErr error
		for _, extractor := range extractors {
			v, err := extractor(body, statusCode)
			if err == nil {
				return v, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = errors.New("no extractors configured")
		}
		return 0, lastErr
	}
}

// DefaultExtractor is the [ValueExtractor] used when no extractor is
// specified on a [Probe].
//
// DefaultExtractor uses [FirstMatch] to try:
//  1. [NumberExtractor] (for instruments answering with a bare number)
//  2. [JSONFieldExtractor] with path "value" (for {"value": N} responses)
//
// This covers the two most common instrument response shapes.
var DefaultExtractor = FirstMatch(
	NumberExtractor,
	JSONFieldExtractor("value"),
)

// truncate shortens a string for inclusion in error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
