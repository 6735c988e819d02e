package config

import (
	"sort"

	"github.com/labwatch/labwatch"
)

// BuildOptions converts parsed configuration into SDK options for
// [labwatch.New].
//
// It covers the session settings, charts, direct probes, and grids
// (cartesian product expansion happens in the SDK).
func BuildOptions(cfg *Config) ([]labwatch.Option, error) {
	opts := []labwatch.Option{
		labwatch.WithSessionName(cfg.Session),
		labwatch.WithPort(cfg.Port),
		labwatch.WithTickInterval(cfg.TickInterval.Duration()),
	}

	if cfg.Title != "" {
		opts = append(opts, labwatch.WithTitle(cfg.Title))
	}
	if cfg.DataDir != "" {
		opts = append(opts, labwatch.WithDataDir(cfg.DataDir))
	}
	if cfg.WindowCapacity > 0 {
		opts = append(opts, labwatch.WithWindowCapacity(cfg.WindowCapacity))
	}

	for _, ch := range cfg.Charts {
		opts = append(opts, labwatch.WithChart(ch.Name, ch.Variables...))
	}

	probes, err := BuildProbes(cfg)
	if err != nil {
		return nil, err
	}
	if len(probes) > 0 {
		opts = append(opts, labwatch.WithProbes(probes...))
	}

	return opts, nil
}

// BuildProbes converts parsed configuration into SDK Probe objects.
//
// It processes both direct probes and grids, returning a combined slice.
// Grid dimensions are expanded via cartesian product.
func BuildProbes(cfg *Config) ([]labwatch.Probe, error) {
	var probes []labwatch.Probe

	for _, pc := range cfg.Probes {
		p, err := buildProbe(pc)
		if err != nil {
			return nil, err
		}
		probes = append(probes, p)
	}

	for _, gc := range cfg.Grids {
		gridProbes, err := buildGridProbes(gc)
		if err != nil {
			return nil, err
		}
		probes = append(probes, gridProbes...)
	}

	return probes, nil
}

// buildProbe converts a single ProbeConfig to an SDK Probe.
func buildProbe(pc ProbeConfig) (labwatch.Probe, error) {
	var opts []labwatch.ProbeOption

	if pc.Method != "" {
		opts = append(opts, labwatch.WithProbeMethod(pc.Method))
	}

	if pc.Timeout != 0 {
		opts = append(opts, labwatch.WithProbeTimeout(pc.Timeout.Duration()))
	}

	if len(pc.Headers) > 0 {
		opts = append(opts, labwatch.WithProbeHeaders(mapToKeyValuePairs(pc.Headers)...))
	}

	extractor, err := buildExtractor(pc.Extractor)
	if err != nil {
		return labwatch.Probe{}, err
	}
	if extractor != nil {
		opts = append(opts, labwatch.WithProbeExtractor(extractor))
	}

	if pc.Interval != 0 {
		opts = append(opts, labwatch.WithProbeInterval(pc.Interval.Duration()))
	}

	return labwatch.NewProbe(pc.Name, pc.URL, pc.Variable, opts...)
}

// buildGridProbes expands a GridConfig into multiple probes using the SDK's
// cartesian product expansion.
func buildGridProbes(gc GridConfig) ([]labwatch.Probe, error) {
	opts := []labwatch.GridOption{
		labwatch.WithURLTemplate(gc.URLTemplate),
		labwatch.WithVariableTemplate(gc.VariableTemplate),
		labwatch.WithDimensions(gc.Dimensions),
	}

	if len(gc.Headers) > 0 {
		opts = append(opts, labwatch.WithGridHeaders(mapToKeyValuePairs(gc.Headers)...))
	}
	if gc.Timeout != 0 {
		opts = append(opts, labwatch.WithGridTimeout(gc.Timeout.Duration()))
	}
	if gc.Method != "" {
		opts = append(opts, labwatch.WithGridMethod(gc.Method))
	}
	if gc.Interval != 0 {
		opts = append(opts, labwatch.WithGridInterval(gc.Interval.Duration()))
	}

	extractor, err := buildExtractor(gc.Extractor)
	if err != nil {
		return nil, err
	}
	if extractor != nil {
		opts = append(opts, labwatch.WithGridExtractor(extractor))
	}

	return labwatch.NewProbeGrid(gc.Name, opts...)
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// buildExtractor converts ExtractorConfig to a ValueExtractor function.
// Returns nil for default/empty extractors (SDK uses DefaultExtractor).
func buildExtractor(ec ExtractorConfig) (labwatch.ValueExtractor, error) {
	switch ec.Type {
	case "", "default":
		// nil signals the SDK to use DefaultExtractor
		return nil, nil
	case "number":
		return labwatch.NumberExtractor, nil
	case "json":
		return labwatch.JSONFieldExtractor(ec.Path), nil
	case "regex":
		return labwatch.RegexExtractor(ec.Pattern)
	default:
		// validation should catch this, but fail loud as fallback
		return nil, nil
	}
}
