package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/labwatch/labwatch/internal/runtime"
	"github.com/labwatch/labwatch/internal/store"
)

// DefaultTickInterval is the pause between rendering ticks when none is
// configured.
const DefaultTickInterval = 1 * time.Second

// defaultFigSize is used until a client reports its real canvas size and
// when no prior session persisted one.
var defaultFigSize = FigSize{Width: 960, Height: 540}

// Source is the read/persist surface the renderer needs from the session
// store.
type Source interface {
	ReadSince(name string, ts float64) ([]store.Point, error)
	ParameterText(name string) (string, bool, error)
	SetParameterText(name, value string) error
}

// Frame is one published chart state: the windowed series of every watched
// variable plus the current view. Consumed by the dashboard.
type Frame struct {
	Chart     string          `json:"chart"`
	Variables []string        `json:"variables"`
	Series    map[string][]XY `json:"series"`
	View      ViewState       `json:"view"`
	FigSize   FigSize         `json:"figsize"`
	Seq       uint64          `json:"seq"`
}

// Renderer incrementally turns the session log into a bounded, auto-scaling
// chart state.
//
// Each tick it pulls the rows appended since its per-variable checkpoints,
// extends the series windows, and widens the view to cover the new data.
// The view only grows within a session: widening avoids visual jitter; it
// never shrinks back. On shutdown the view and figure size are flushed to
// the parameter table under keys derived from the watched variable set, so
// a future session watching the same variables restores the presentation.
type Renderer struct {
	chart     string
	variables []string
	tick      time.Duration
	source    Source
	logger    *slog.Logger

	mu      sync.RWMutex
	windows map[string]*SeriesWindow
	view    ViewState
	hasView bool
	figsize FigSize
	seq     uint64
}

// New creates a renderer for one chart over the given watched variable set.
// A non-positive capacity or tick falls back to the defaults.
func New(chart string, variables []string, capacity int, tick time.Duration, src Source, logger *slog.Logger) (*Renderer, error) {
	if len(variables) == 0 {
		return nil, errors.New("at least one watched variable is required")
	}
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	windows := make(map[string]*SeriesWindow, len(variables))
	vars := make([]string, len(variables))
	copy(vars, variables)
	for _, name := range vars {
		windows[name] = NewSeriesWindow(capacity)
	}

	return &Renderer{
		chart:     chart,
		variables: vars,
		tick:      tick,
		source:    src,
		logger:    logger,
		windows:   windows,
		figsize:   defaultFigSize,
	}, nil
}

// Chart returns the chart's label.
func (r *Renderer) Chart() string {
	return r.chart
}

// Variables returns a copy of the watched variable set.
func (r *Renderer) Variables() []string {
	cp := make([]string, len(r.variables))
	copy(cp, r.variables)
	return cp
}

// Run drives the tick loop until the session stops, then flushes the
// presentation state. It is scheduled as a self-managed task: it restores
// any prior view first, then alternates one tick with one cooperative sleep.
// The flush runs on every exit path, including a failing tick.
func (r *Renderer) Run(ctx context.Context, rt *runtime.Runtime) error {
	r.restoreView()

	var tickErr error
	for rt.Running() {
		if err := r.Tick(); err != nil {
			tickErr = err
			break
		}
		rt.Sleep(r.tick, false)
	}

	if err := r.persistView(); err != nil {
		r.logger.Warn("failed to persist chart view", "chart", r.chart, "error", err)
		if tickErr == nil {
			tickErr = err
		}
	}
	return tickErr
}

// Tick performs one incremental rendering pass over every watched variable:
// pull rows past the checkpoint, extend the window, widen the view. A
// variable with no new rows is skipped.
func (r *Renderer) Tick() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, name := range r.variables {
		w := r.windows[name]

		batch, err := r.source.ReadSince(name, w.Checkpoint())
		if err != nil {
			return fmt.Errorf("chart %q: %w", r.chart, err)
		}
		if len(batch) == 0 {
			continue
		}

		w.Extend(batch)
		r.widenView(w)
		changed = true
	}

	if changed {
		r.seq++
	}
	return nil
}

// widenView grows the view to cover a window's bounds. Must hold r.mu.
func (r *Renderer) widenView(w *SeriesWindow) {
	xmin, xmax, ymin, ymax, ok := w.Bounds()
	if !ok {
		return
	}

	if !r.hasView {
		r.view = ViewState{XMin: xmin, XMax: xmax, YMin: ymin, YMax: ymax}
		r.hasView = true
		return
	}

	if xmin < r.view.XMin {
		r.view.XMin = xmin
	}
	if xmax > r.view.XMax {
		r.view.XMax = xmax
	}
	if ymin < r.view.YMin {
		r.view.YMin = ymin
	}
	if ymax > r.view.YMax {
		r.view.YMax = ymax
	}
}

// Snapshot returns the current frame: a copy of every window plus the view.
func (r *Renderer) Snapshot() Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()

	series := make(map[string][]XY, len(r.windows))
	for name, w := range r.windows {
		series[name] = w.Points()
	}

	return Frame{
		Chart:     r.chart,
		Variables: r.Variables(),
		Series:    series,
		View:      r.view,
		FigSize:   r.figsize,
		Seq:       r.seq,
	}
}

// SetFigSize records the figure size reported by a connected client. The
// value is opaque presentation state, persisted on shutdown.
func (r *Renderer) SetFigSize(f FigSize) {
	if f.Width <= 0 || f.Height <= 0 {
		return
	}
	r.mu.Lock()
	r.figsize = f
	r.mu.Unlock()
}

// restoreView loads the view and figure size a prior session persisted for
// this watched variable set. Missing or malformed state is ignored; the
// view then re-initializes from the first data.
func (r *Renderer) restoreView() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if enc, ok, err := r.source.ParameterText(WindowParamKey(r.variables)); err == nil && ok {
		if v, err := DecodeViewState(enc); err == nil {
			r.view = v
			r.hasView = true
		} else {
			r.logger.Warn("ignoring malformed saved view", "chart", r.chart, "error", err)
		}
	}

	if enc, ok, err := r.source.ParameterText(FigSizeParamKey(r.variables)); err == nil && ok {
		if f, err := DecodeFigSize(enc); err == nil && f.Width > 0 && f.Height > 0 {
			r.figsize = f
		}
	}
}

// persistView flushes the current view and figure size to the parameter
// table.
func (r *Renderer) persistView() error {
	r.mu.RLock()
	view, hasView, figsize := r.view, r.hasView, r.figsize
	r.mu.RUnlock()

	if hasView {
		enc, err := EncodeViewState(view)
		if err != nil {
			return err
		}
		if err := r.source.SetParameterText(WindowParamKey(r.variables), enc); err != nil {
			return err
		}
	}

	enc, err := EncodeFigSize(figsize)
	if err != nil {
		return err
	}
	return r.source.SetParameterText(FigSizeParamKey(r.variables), enc)
}
