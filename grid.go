package labwatch

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"text/template"
)

// NewProbeGrid creates multiple probes from URL and variable templates and
// dimensions using cartesian product expansion.
//
// Both templates use Go's text/template syntax with dimension keys as
// variables. Dimension values are URL-encoded before interpolation into the
// URL template (the variable template receives them as-is). Missing template
// keys cause an error (fail-fast).
//
// Each probe name includes dimension values in the format:
// "Base Name (val1/val2)" (values from alphabetically sorted keys).
//
// Example:
//
//	probes, err := labwatch.NewProbeGrid("thermocouple",
//	    labwatch.WithURLTemplate("http://daq.lab/read?channel={{.channel}}"),
//	    labwatch.WithVariableTemplate("temp_{{.channel}}"),
//	    labwatch.WithDimensions(map[string][]string{
//	        "channel": {"0", "1", "2"},
//	    }),
//	)
//	// Returns 3 probes, usable with WithProbes(probes...)
func NewProbeGrid(baseName string, opts ...GridOption) ([]Probe, error) {
	if strings.TrimSpace(baseName) == "" {
		return nil, errors.New("base name cannot be empty")
	}

	cfg := &gridConfig{
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.urlTemplate == "" {
		return nil, errors.New("URL template required")
	}
	if cfg.variableTemplate == "" {
		return nil, errors.New("variable template required")
	}
	if len(cfg.dimensions) == 0 {
		return nil, errors.New("at least one dimension required")
	}

	// missingkey=error for fail-fast behaviour
	urlTmpl, err := template.New("url").Option("missingkey=error").Parse(cfg.urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid URL template: %w", err)
	}
	varTmpl, err := template.New("variable").Option("missingkey=error").Parse(cfg.variableTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid variable template: %w", err)
	}

	combinations := cartesianProduct(cfg.dimensions)
	if len(combinations) == 0 {
		return nil, nil
	}

	probes := make([]Probe, 0, len(combinations))
	for _, combo := range combinations {
		// URL-encode values for the URL template only
		urlStr, err := executeTemplate(urlTmpl, urlEncodeMap(combo))
		if err != nil {
			return nil, fmt.Errorf("URL template execution failed: %w", err)
		}
		variable, err := executeTemplate(varTmpl, combo)
		if err != nil {
			return nil, fmt.Errorf("variable template execution failed: %w", err)
		}

		name := formatProbeName(baseName, combo)

		probeOpts := []ProbeOption{}
		if len(cfg.headers) > 0 {
			probeOpts = append(probeOpts, WithProbeHeaders(flattenMap(cfg.headers)...))
		}
		if cfg.timeout > 0 {
			probeOpts = append(probeOpts, WithProbeTimeout(cfg.timeout))
		}
		if cfg.extractor != nil {
			probeOpts = append(probeOpts, WithProbeExtractor(cfg.extractor))
		}
		if cfg.method != "" {
			probeOpts = append(probeOpts, WithProbeMethod(cfg.method))
		}
		if cfg.interval > 0 {
			probeOpts = append(probeOpts, WithProbeInterval(cfg.interval))
		}

		p, err := NewProbe(name, urlStr, variable, probeOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create probe '%s': %w", name, err)
		}
		probes = append(probes, p)
	}

	return probes, nil
}

// cartesianProduct generates all combinations of dimension values.
// Keys are sorted alphabetically for deterministic output.
// Values maintain their original slice order.
//
// Example:
//
//	Input:  {"x": ["a","b"], "y": ["1","2"]}
//	Output: [{"x":"a","y":"1"}, {"x":"a","y":"2"}, {"x":"b","y":"1"}, {"x":"b","y":"2"}]
func cartesianProduct(dims map[string][]string) []map[string]string {
	if len(dims) == 0 {
		return nil
	}

	// sort keys for deterministic iteration
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// defensive check for empty dimensions (also validated in WithDimensions)
	for _, k := range keys {
		if len(dims[k]) == 0 {
			return nil
		}
	}

	total := 1
	for _, k := range keys {
		total *= len(dims[k])
	}

	result := make([]map[string]string, 0, total)

	indices := make([]int, len(keys))
	for {
		combo := make(map[string]string, len(keys))
		for i, k := range keys {
			combo[k] = dims[k][indices[i]]
		}
		result = append(result, combo)

		// increment indices (rightmost first)
		for i := len(keys) - 1; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(dims[keys[i]]) {
				break
			}
			indices[i] = 0
			if i == 0 {
				return result
			}
		}
	}
}

// urlEncodeMap returns a new map with all values URL-encoded.
func urlEncodeMap(m map[string]string) map[string]string {
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = url.QueryEscape(v)
	}
	return result
}

// executeTemplate renders the template with the given data.
func executeTemplate(tmpl *template.Template, data map[string]string) (string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatProbeName creates a name in the format "Base (v1/v2)".
// Values are ordered by sorted keys for consistent naming.
func formatProbeName(baseName string, combo map[string]string) string {
	keys := make([]string, 0, len(combo))
	for k := range combo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = combo[k]
	}
	return fmt.Sprintf("%s (%s)", baseName, strings.Join(parts, "/"))
}

// flattenMap converts a map to a slice of key-value pairs for variadic functions.
// Keys are sorted for deterministic output.
func flattenMap(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(m)*2)
	for _, k := range keys {
		result = append(result, k, m[k])
	}
	return result
}
