// Package config provides YAML configuration parsing for labwatch.
//
// This package enables running labwatch as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	session: heating_run_42
//	port: 8080
//	tick_interval: 1s
//
//	charts:
//	  - name: bench
//	    variables: [oven_temp, pressure]
//
//	probes:
//	  - name: oven
//	    url: http://oven.lab/api/temp
//	    variable: oven_temp
//	    interval: 5s
//	    extractor: json:celsius
//
//	grids:
//	  - name: thermocouple
//	    url_template: "http://daq.lab/read?ch={{.ch}}"
//	    variable_template: "temp_{{.ch}}"
//	    dimensions:
//	      ch: ["0", "1", "2"]
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

// minTickInterval is the minimum allowed chart tick interval. This prevents
// a config typo from turning the renderer into a busy loop on the database.
const minTickInterval = 100 * time.Millisecond

// minProbeInterval is the minimum allowed probe sampling interval.
const minProbeInterval = 100 * time.Millisecond

// Config is the root configuration structure for labwatch.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Session is the session name. The database lives at
	// <data_dir>/<session>.db. Required.
	Session string `yaml:"session"`

	// Title is the dashboard title. Defaults to the session name.
	Title string `yaml:"title"`

	// DataDir is the directory the session database lives in.
	// Defaults to the current working directory.
	DataDir string `yaml:"data_dir"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// TickInterval is the pause between chart rendering ticks.
	// Accepts duration strings like "1s", "500ms". Defaults to 1s.
	TickInterval Duration `yaml:"tick_interval"`

	// WindowCapacity is how many points each chart keeps per variable.
	// Defaults to 1000.
	WindowCapacity int `yaml:"window_capacity"`

	// Charts defines live charts over sets of variables.
	Charts []ChartConfig `yaml:"charts"`

	// Probes defines individual instrument probes.
	Probes []ProbeConfig `yaml:"probes"`

	// Grids defines probe grids that expand via cartesian product.
	Grids []GridConfig `yaml:"grids"`
}

// ChartConfig defines one live chart.
type ChartConfig struct {
	// Name is the chart label shown in the dashboard.
	Name string `yaml:"name"`

	// Variables are the watched variable names.
	Variables []string `yaml:"variables"`
}

// ProbeConfig defines a single instrument probe.
type ProbeConfig struct {
	// Name is the display name used in logs.
	Name string `yaml:"name"`

	// URL is the instrument endpoint.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Variable is the store name samples are appended under.
	Variable string `yaml:"variable"`

	// Method is the HTTP method (GET, POST). Defaults to GET.
	Method string `yaml:"method"`

	// Timeout is the request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Extractor determines how to pull the value out of the response.
	// Can be shorthand ("number", "json:path", "regex:pattern") or
	// structured.
	Extractor ExtractorConfig `yaml:"extractor"`

	// Interval is the pause between samples. Defaults to 15s.
	// Must be between 100ms and 1h.
	Interval Duration `yaml:"interval"`
}

// GridConfig defines a probe grid that expands via cartesian product.
//
// For example, with dimensions {zone: [top, bottom], ch: [0, 1]}, the grid
// expands to 4 probes: top/0, top/1, bottom/0, bottom/1.
type GridConfig struct {
	// Name is the base name for generated probes.
	Name string `yaml:"name"`

	// URLTemplate is a Go template for generating probe URLs.
	// Dimension keys are available as template variables: {{.zone}}, {{.ch}}
	// Supports environment variable substitution in the template.
	URLTemplate string `yaml:"url_template"`

	// VariableTemplate is a Go template for the generated variable names.
	// It must produce a distinct name per dimension combination.
	VariableTemplate string `yaml:"variable_template"`

	// Dimensions maps dimension names to their possible values.
	// The cartesian product of all dimensions generates the probes.
	Dimensions map[string][]string `yaml:"dimensions"`

	// Method is the HTTP method for all generated probes.
	Method string `yaml:"method"`

	// Timeout is the request timeout for all generated probes.
	Timeout Duration `yaml:"timeout"`

	// Headers are custom HTTP headers for all generated probes.
	Headers map[string]string `yaml:"headers"`

	// Extractor determines how to pull values out of responses for all
	// generated probes.
	Extractor ExtractorConfig `yaml:"extractor"`

	// Interval is the sampling interval for all generated probes.
	// Must be between 100ms and 1h.
	Interval Duration `yaml:"interval"`
}

// ExtractorConfig specifies how to pull a numeric value out of a response.
//
// It supports two formats in YAML:
//
// Shorthand string:
//
//	extractor: number
//	extractor: json:data.sensor.value
//	extractor: regex:T=([-0-9.]+)
//	extractor: default
//
// Structured object:
//
//	extractor:
//	  type: json
//	  path: data.sensor.value
type ExtractorConfig struct {
	// Type is the extractor type: "default", "number", "json", "regex".
	Type string

	// Path is the JSON field path (for type: json).
	Path string

	// Pattern is the regular expression (for type: regex). The first
	// capture group is parsed as the value.
	Pattern string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for ExtractorConfig.
func (e *ExtractorConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return e.parseShorthand(s)
	}

	if node.Kind == yaml.MappingNode {
		// temporary struct to avoid infinite recursion
		var raw struct {
			Type    string `yaml:"type"`
			Path    string `yaml:"path"`
			Pattern string `yaml:"pattern"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		e.Type = raw.Type
		e.Path = raw.Path
		e.Pattern = raw.Pattern
		return nil
	}

	return fmt.Errorf("extractor must be a string or object, got %v", node.Kind)
}

// parseShorthand parses extractor shorthand syntax.
//
// Supported formats:
//   - "default" → bare number, then JSON "value" field
//   - "number" → body is the number
//   - "json:path" → extract from JSON field
//   - "regex:pattern" → first capture group is the value
func (e *ExtractorConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if idx := strings.Index(s, ":"); idx != -1 {
		e.Type = s[:idx]
		value := s[idx+1:]

		switch e.Type {
		case "json":
			e.Path = value
		case "regex":
			e.Pattern = value
		default:
			return fmt.Errorf("unknown extractor type %q", e.Type)
		}
		return nil
	}

	switch s {
	case "default", "number":
		e.Type = s
	default:
		return fmt.Errorf("unknown extractor %q (expected 'default', 'number', 'json:path', or 'regex:pattern')", s)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		// submatches[2] is ":-..." (non-empty if default syntax was used)
		// submatches[3] is the actual default value (may be empty for ${VAR:-})
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in URL, URLTemplate, and Header values.
// Defaults are applied for Port (8080) and TickInterval (1s).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = Duration(time.Second)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Session == "" {
		return errors.New("session is required")
	}
	if strings.ContainsAny(c.Session, "/\\") {
		return fmt.Errorf("session %q must not contain path separators", c.Session)
	}

	if c.TickInterval.Duration() < minTickInterval {
		return fmt.Errorf("tick_interval must be at least %s, got %s", minTickInterval, c.TickInterval.Duration())
	}
	if c.WindowCapacity < 0 {
		return fmt.Errorf("window_capacity cannot be negative, got %d", c.WindowCapacity)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	seenCharts := make(map[string]struct{}, len(c.Charts))
	for i := range c.Charts {
		ch := &c.Charts[i]
		if ch.Name == "" {
			return fmt.Errorf("charts[%d]: name is required", i)
		}
		if _, dup := seenCharts[ch.Name]; dup {
			return fmt.Errorf("charts[%d]: duplicate chart name %q", i, ch.Name)
		}
		seenCharts[ch.Name] = struct{}{}
		if len(ch.Variables) == 0 {
			return fmt.Errorf("charts[%d] (%s): at least one variable is required", i, ch.Name)
		}
		for j, v := range ch.Variables {
			if v == "" {
				return fmt.Errorf("charts[%d] (%s): variables[%d] is empty", i, ch.Name, j)
			}
		}
	}

	for i := range c.Probes {
		p := &c.Probes[i]

		if p.Name == "" {
			return fmt.Errorf("probes[%d]: name is required", i)
		}
		if p.Variable == "" {
			return fmt.Errorf("probes[%d] (%s): variable is required", i, p.Name)
		}

		if p.URL == "" {
			return fmt.Errorf("probes[%d] (%s): url is required", i, p.Name)
		}
		expanded, err := expandEnvVars(p.URL)
		if err != nil {
			return fmt.Errorf("probes[%d] (%s): url: %w", i, p.Name, err)
		}
		p.URL = expanded

		parsedURL, err := url.Parse(p.URL)
		if err != nil {
			return fmt.Errorf("probes[%d] (%s): invalid url: %w", i, p.Name, err)
		}
		if parsedURL.Scheme == "" {
			return fmt.Errorf("probes[%d] (%s): url must have a scheme (http:// or https://)", i, p.Name)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("probes[%d] (%s): url scheme must be http or https, got %q", i, p.Name, parsedURL.Scheme)
		}

		for k, v := range p.Headers {
			expanded, err := expandEnvVars(v)
			if err != nil {
				return fmt.Errorf("probes[%d] (%s): headers[%s]: %w", i, p.Name, k, err)
			}
			p.Headers[k] = expanded
		}

		if p.Method != "" && p.Method != "GET" && p.Method != "POST" {
			return fmt.Errorf("probes[%d] (%s): method must be GET or POST", i, p.Name)
		}

		if p.Timeout != 0 && p.Timeout.Duration() <= 0 {
			return fmt.Errorf("probes[%d] (%s): timeout must be positive, got %s",
				i, p.Name, p.Timeout.Duration())
		}

		if p.Interval != 0 {
			if p.Interval.Duration() < minProbeInterval {
				return fmt.Errorf("probes[%d] (%s): interval must be at least %s, got %s",
					i, p.Name, minProbeInterval, p.Interval.Duration())
			}
			if p.Interval.Duration() > time.Hour {
				return fmt.Errorf("probes[%d] (%s): interval must not exceed 1h, got %s",
					i, p.Name, p.Interval.Duration())
			}
		}

		if err := validateExtractor(&p.Extractor, fmt.Sprintf("probes[%d] (%s)", i, p.Name)); err != nil {
			return err
		}
	}

	for i := range c.Grids {
		g := &c.Grids[i]

		if g.Name == "" {
			return fmt.Errorf("grids[%d]: name is required", i)
		}

		if g.URLTemplate == "" {
			return fmt.Errorf("grids[%d] (%s): url_template is required", i, g.Name)
		}
		expanded, err := expandEnvVars(g.URLTemplate)
		if err != nil {
			return fmt.Errorf("grids[%d] (%s): url_template: %w", i, g.Name, err)
		}
		g.URLTemplate = expanded

		// fail fast before the SDK tries to use an invalid template
		if _, err := template.New("").Parse(g.URLTemplate); err != nil {
			return fmt.Errorf("grids[%d] (%s): invalid url_template: %w", i, g.Name, err)
		}

		if g.VariableTemplate == "" {
			return fmt.Errorf("grids[%d] (%s): variable_template is required", i, g.Name)
		}
		if _, err := template.New("").Parse(g.VariableTemplate); err != nil {
			return fmt.Errorf("grids[%d] (%s): invalid variable_template: %w", i, g.Name, err)
		}

		if len(g.Dimensions) == 0 {
			return fmt.Errorf("grids[%d] (%s): at least one dimension is required", i, g.Name)
		}
		for dimName, dimValues := range g.Dimensions {
			if len(dimValues) == 0 {
				return fmt.Errorf("grids[%d] (%s): dimension %q has no values", i, g.Name, dimName)
			}
			seen := make(map[string]struct{}, len(dimValues))
			for _, v := range dimValues {
				if _, exists := seen[v]; exists {
					return fmt.Errorf("grids[%d] (%s): dimension %q has duplicate value %q", i, g.Name, dimName, v)
				}
				seen[v] = struct{}{}
			}
		}

		for k, v := range g.Headers {
			expanded, err := expandEnvVars(v)
			if err != nil {
				return fmt.Errorf("grids[%d] (%s): headers[%s]: %w", i, g.Name, k, err)
			}
			g.Headers[k] = expanded
		}

		if g.Method != "" && g.Method != "GET" && g.Method != "POST" {
			return fmt.Errorf("grids[%d] (%s): method must be GET or POST", i, g.Name)
		}

		if g.Timeout != 0 && g.Timeout.Duration() <= 0 {
			return fmt.Errorf("grids[%d] (%s): timeout must be positive, got %s",
				i, g.Name, g.Timeout.Duration())
		}

		if g.Interval != 0 {
			if g.Interval.Duration() < minProbeInterval {
				return fmt.Errorf("grids[%d] (%s): interval must be at least %s, got %s",
					i, g.Name, minProbeInterval, g.Interval.Duration())
			}
			if g.Interval.Duration() > time.Hour {
				return fmt.Errorf("grids[%d] (%s): interval must not exceed 1h, got %s",
					i, g.Name, g.Interval.Duration())
			}
		}

		if err := validateExtractor(&g.Extractor, fmt.Sprintf("grids[%d] (%s)", i, g.Name)); err != nil {
			return err
		}
	}

	return nil
}

// validateExtractor validates an extractor configuration.
func validateExtractor(e *ExtractorConfig, context string) error {
	if e.Type == "" {
		return nil // empty means default, which is valid
	}

	switch e.Type {
	case "default", "number":
		// no additional validation needed
	case "json":
		if e.Path == "" {
			return fmt.Errorf("%s: extractor type 'json' requires a path", context)
		}
	case "regex":
		if e.Pattern == "" {
			return fmt.Errorf("%s: extractor type 'regex' requires a pattern", context)
		}
		if _, err := regexp.Compile(e.Pattern); err != nil {
			return fmt.Errorf("%s: invalid regex pattern: %w", context, err)
		}
	default:
		return fmt.Errorf("%s: unknown extractor type %q", context, e.Type)
	}

	return nil
}
