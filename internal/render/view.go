package render

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ViewState is the persisted presentation state of one chart: its axis
// extents. Stored as structured JSON, never evaluated text, so a restarted
// session watching the same variables restores the same view.
type ViewState struct {
	XMin float64 `json:"xmin"`
	XMax float64 `json:"xmax"`
	YMin float64 `json:"ymin"`
	YMax float64 `json:"ymax"`
}

// FigSize is the persisted size descriptor of one chart's figure, in pixels.
// Opaque to the renderer beyond round-tripping.
type FigSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// paramKey derives a deterministic parameter key from a chart's watched
// variable set. The names are sorted so distinct variable groupings persist
// independent state regardless of declaration order.
func paramKey(prefix string, variables []string) string {
	sorted := make([]string, len(variables))
	copy(sorted, variables)
	sort.Strings(sorted)
	return prefix + strings.Join(sorted, "_")
}

// WindowParamKey returns the parameter key holding a chart's [ViewState].
func WindowParamKey(variables []string) string {
	return paramKey("_window_", variables)
}

// FigSizeParamKey returns the parameter key holding a chart's [FigSize].
func FigSizeParamKey(variables []string) string {
	return paramKey("_figsize_", variables)
}

// EncodeViewState serializes a ViewState for the parameter table.
func EncodeViewState(v ViewState) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode view state: %w", err)
	}
	return string(data), nil
}

// DecodeViewState parses a ViewState previously written with
// [EncodeViewState].
func DecodeViewState(s string) (ViewState, error) {
	var v ViewState
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return ViewState{}, fmt.Errorf("failed to decode view state: %w", err)
	}
	return v, nil
}

// EncodeFigSize serializes a FigSize for the parameter table.
func EncodeFigSize(f FigSize) (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to encode figure size: %w", err)
	}
	return string(data), nil
}

// DecodeFigSize parses a FigSize previously written with [EncodeFigSize].
func DecodeFigSize(s string) (FigSize, error) {
	var f FigSize
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return FigSize{}, fmt.Errorf("failed to decode figure size: %w", err)
	}
	return f, nil
}
