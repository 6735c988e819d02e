package labwatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/labwatch/labwatch/dashboard"
	"github.com/labwatch/labwatch/internal/probe"
	"github.com/labwatch/labwatch/internal/render"
	"github.com/labwatch/labwatch/internal/runtime"
	"github.com/labwatch/labwatch/internal/server"
	"github.com/labwatch/labwatch/internal/store"
)

const (
	defaultPort           = 8080
	defaultDataDir        = "."
	defaultTickInterval   = 1 * time.Second
	defaultWindowCapacity = 1000
)

// Session is the main orchestrator of a monitoring run.
//
// A Session coordinates a durable time-series store, a set of cooperating
// activities (caller loops, probes, chart renderers), and an HTTP dashboard.
// It is created using [New] with functional options and started with
// [Session.Run].
//
// The typical lifecycle is:
//
//	session, err := labwatch.New(labwatch.WithSessionName("run_42"))
//	if err != nil {
//	    slog.Error("failed to create session", "error", err)
//	    os.Exit(1)
//	}
//
//	err = session.Run(context.Background(), activities...) // blocks until interrupt
//
// Run installs its own interrupt handling: the first SIGINT or SIGTERM stops
// the session gracefully and Run returns nil. Cancelling the context has the
// same effect.
type Session struct {
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

	mu    sync.RWMutex
	store *store.Store
	hub   *store.Hub
	rt    *runtime.Runtime
}

// New creates a new [Session] instance with the given options.
//
// A session name must be configured via [WithSessionName]. Other options
// have sensible defaults:
//   - Data directory: current working directory
//   - Port: 8080
//   - Tick interval: 1 second
//   - Window capacity: 1000 points per variable
//
// Returns an error if the session name is missing or any option is invalid.
//
// Example:
//
//	session, err := labwatch.New(
//	    labwatch.WithSessionName("heating_run_42"),
//	    labwatch.WithChart("bench", "temperature", "pressure"),
//	    labwatch.WithPort(9090),
//	)
func New(opts ...Option) (*Session, error) {
	cfg := &sessionConfig{
		dataDir:        defaultDataDir,
		port:           defaultPort,
		serveHTTP:      true,
		tickInterval:   defaultTickInterval,
		windowCapacity: defaultWindowCapacity,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.sessionName == "" {
		return nil, fmt.Errorf("a session name is required: %w", ErrInvalidName)
	}

	// chart and probe names must be unique (they become activity names)
	seenCharts := make(map[string]bool, len(cfg.charts))
	for _, c := range cfg.charts {
		if seenCharts[c.name] {
			return nil, fmt.Errorf("duplicate chart name: %q", c.name)
		}
		seenCharts[c.name] = true
	}
	seenProbes := make(map[string]bool, len(cfg.probes))
	for _, p := range cfg.probes {
		if seenProbes[p.name] {
			return nil, fmt.Errorf("duplicate probe name: %q", p.name)
		}
		seenProbes[p.name] = true
	}

	title := cfg.title
	if title == "" {
		title = cfg.sessionName
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		sessionName:    cfg.sessionName,
		title:          title,
		dataDir:        cfg.dataDir,
		port:           cfg.port,
		serveHTTP:      cfg.serveHTTP,
		tickInterval:   cfg.tickInterval,
		windowCapacity: cfg.windowCapacity,
		charts:         cfg.charts,
		probes:         cfg.probes,
		logger:         logger,
		callbacks:      cfg.callbacks,
	}, nil
}

// Run opens the store and drives every activity until the session stops.
//
// Run is a blocking call. During execution:
//
//   - The session database is opened (created on first run) at
//     <data dir>/<session name>.db
//   - Every configured chart, probe, and caller activity runs concurrently
//   - The dashboard is served at http://localhost:<port>
//
// The session stops on the first SIGINT/SIGTERM, on context cancellation,
// or when any activity returns an error. All activities get to finish their
// shutdown flush, and the store is closed on every path. A run with no
// activities still serves the dashboard until it is stopped.
//
// Returns nil on interrupt or cancellation (the normal end of a run), the
// first activity error otherwise. An invalid activity fails with
// [ErrInvalidActivity] before anything starts.
func (s *Session) Run(ctx context.Context, activities ...Activity) error {
	for _, a := range activities {
		if err := a.validate(); err != nil {
			return fmt.Errorf("activity %q: %w", a.name, err)
		}
	}

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(s.dataDir, s.sessionName+".db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open session database: %w", err)
	}

	rt := runtime.New(s.logger)
	hub := store.NewHub()

	s.mu.Lock()
	s.store = st
	s.hub = hub
	s.rt = rt
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.store = nil
		s.mu.Unlock()
		if cerr := st.Close(); cerr != nil {
			s.logger.Error("failed to close session database", "error", cerr)
		}
	}()

	s.logger.Info("labwatch session starting",
		"session", s.sessionName,
		"database", dbPath,
		"activities", len(activities),
		"probes", len(s.probes),
		"charts", len(s.charts),
	)

	var tasks []runtime.Task

	// chart renderers, one self-managed activity each
	renderers := make([]*render.Renderer, 0, len(s.charts))
	for _, c := range s.charts {
		r, err := render.New(c.name, c.variables, s.windowCapacity, s.tickInterval, st, s.logger)
		if err != nil {
			return fmt.Errorf("chart %q: %w", c.name, err)
		}
		renderers = append(renderers, r)
		tasks = append(tasks, runtime.Task{
			Name: "chart:" + c.name,
			Kind: runtime.KindSelfManaged,
			Run: func(taskCtx context.Context) error {
				return r.Run(taskCtx, rt)
			},
		})
	}

	// probe sampling loops
	if len(s.probes) > 0 {
		client := probe.NewClient()
		defer client.Close()
		for _, p := range s.probes {
			tasks = append(tasks, s.probeTask(client, p))
		}
	}

	// caller-supplied activities
	for _, a := range activities {
		kind := runtime.KindRepeat
		if a.kind == kindSelfManaged {
			kind = runtime.KindSelfManaged
		}
		fn := a.fn
		tasks = append(tasks, runtime.Task{
			Name: a.name,
			Kind: kind,
			Run: func(taskCtx context.Context) error {
				return fn(taskCtx, s)
			},
		})
	}

	// the server lives exactly as long as the run
	srvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.serveHTTP {
		httpServer := server.NewServer(st, hub, renderers, s.port, dashboard.Assets, s.title, s.logger)
		if err := httpServer.Start(srvCtx); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		s.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", s.port))

		// the server counts as an activity of its own: a run with nothing
		// but probes that all fail, or no activities at all, still serves
		// the dashboard until the first interrupt
		tasks = append(tasks, runtime.Task{
			Name: "server",
			Kind: runtime.KindSelfManaged,
			Run: func(taskCtx context.Context) error {
				<-taskCtx.Done()
				return nil
			},
		})
	}

	err = rt.Run(ctx, tasks)
	cancel()

	s.logger.Info("labwatch session stopped", "session", s.sessionName)
	return err
}

// probeTask builds the repeating activity that samples one probe.
func (s *Session) probeTask(client *probe.Client, p Probe) runtime.Task {
	extractor := p.extractor
	if extractor == nil {
		extractor = DefaultExtractor
	}

	return runtime.Task{
		Name: "probe:" + p.name,
		Kind: runtime.KindRepeat,
		Run: func(ctx context.Context) error {
			resp := client.Fetch(ctx, p.method, p.url, p.headers, p.timeout)
			switch {
			case resp.Error != nil:
				// instrument hiccups skip a sample, they don't end the run
				s.logger.Warn("probe request failed",
					"probe", p.name, "url", p.url, "error", resp.Error)

			default:
				value, err := safeExtract(extractor, resp.Body, resp.StatusCode, p.name, s.logger)
				if err != nil {
					s.logger.Warn("probe extraction failed", "probe", p.name, "error", err)
					break
				}
				if err := s.Append(map[string]float64{p.variable: value}); err != nil {
					return fmt.Errorf("probe %q: %w", p.name, err)
				}
				s.logger.Debug("probe sampled",
					"probe", p.name,
					"variable", p.variable,
					"value", value,
					"latency_ms", resp.Latency.Milliseconds(),
				)
			}

			s.Sleep(p.interval)
			return nil
		},
	}
}

// Append records one value per variable under a single shared wall-clock
// timestamp, durably and atomically. Unseen variable names are registered
// on first use.
//
// After the data is stored, the readings are published to live dashboard
// streams and every registered [ReadingCallback] is invoked.
//
// Returns [ErrClosedStore] outside a run, [ErrInvalidName] for a bad
// variable name, and [ErrStorage] when the database write fails.
func (s *Session) Append(values map[string]float64) error {
	s.mu.RLock()
	st, hub := s.store, s.hub
	s.mu.RUnlock()

	if st == nil {
		return ErrClosedStore
	}

	readings, err := st.Append(values)
	if err != nil {
		return err
	}

	if hub != nil {
		hub.PublishBatch(readings)
	}

	for _, r := range readings {
		pub := Reading{Name: r.Name, Timestamp: r.Timestamp, Value: r.Value}
		for _, cb := range s.callbacks {
			invokeCallbackSafe(cb, pub, s.logger)
		}
	}
	return nil
}

// Latest returns the most recent reading of a variable. The second return
// is false when the variable has no samples yet.
func (s *Session) Latest(name string) (Reading, bool, error) {
	st, err := s.openStore()
	if err != nil {
		return Reading{}, false, err
	}
	p, ok, err := st.Latest(name)
	if err != nil || !ok {
		return Reading{}, false, err
	}
	return Reading{Name: name, Timestamp: p.Timestamp, Value: p.Value}, true, nil
}

// ReadAll returns a variable's full history in ascending timestamp order.
// An unknown variable yields an empty slice, not an error.
func (s *Session) ReadAll(name string) ([]Reading, error) {
	st, err := s.openStore()
	if err != nil {
		return nil, err
	}
	points, err := st.ReadAll(name)
	if err != nil {
		return nil, err
	}
	return toReadings(name, points), nil
}

// ReadSince returns a variable's samples strictly newer than ts, in
// ascending timestamp order.
func (s *Session) ReadSince(name string, ts float64) ([]Reading, error) {
	st, err := s.openStore()
	if err != nil {
		return nil, err
	}
	points, err := st.ReadSince(name, ts)
	if err != nil {
		return nil, err
	}
	return toReadings(name, points), nil
}

// SetParameter stores a named scalar with upsert semantics: writing an
// existing name replaces its value. Use parameters for run conditions and
// annotations that have one current value rather than a history.
func (s *Session) SetParameter(name string, value float64) error {
	st, err := s.openStore()
	if err != nil {
		return err
	}
	return st.SetParameter(name, value)
}

// Parameter returns a stored parameter. The second return is false when the
// parameter does not exist or does not hold a number.
func (s *Session) Parameter(name string) (float64, bool, error) {
	st, err := s.openStore()
	if err != nil {
		return 0, false, err
	}
	return st.Parameter(name)
}

// HasParameter reports whether a parameter has been stored.
func (s *Session) HasParameter(name string) (bool, error) {
	st, err := s.openStore()
	if err != nil {
		return false, err
	}
	return st.HasParameter(name)
}

// Parameters returns every stored parameter. Values are float64 or string
// depending on how they were written.
func (s *Session) Parameters() (map[string]any, error) {
	st, err := s.openStore()
	if err != nil {
		return nil, err
	}
	return st.Parameters()
}

// Sleep pauses cooperatively for the given duration, returning early once
// the session stops. Activities should use it instead of [time.Sleep] so a
// shutdown never waits out a long pause. Outside a run it returns
// immediately.
func (s *Session) Sleep(d time.Duration) {
	s.mu.RLock()
	rt := s.rt
	s.mu.RUnlock()
	if rt == nil {
		return
	}
	rt.Sleep(d, false)
}

// Running reports whether the session is still running. Self-managed
// activities poll it to decide when to wind down.
func (s *Session) Running() bool {
	s.mu.RLock()
	rt := s.rt
	s.mu.RUnlock()
	return rt != nil && rt.Running()
}

// Stop flips the session into shutdown, exactly as an interrupt would.
// Safe to call from any goroutine, repeatedly.
func (s *Session) Stop() {
	s.mu.RLock()
	rt := s.rt
	s.mu.RUnlock()
	if rt != nil {
		rt.Stop()
	}
}

// SessionName returns the configured session name.
func (s *Session) SessionName() string {
	return s.sessionName
}

// Port returns the configured HTTP port for the dashboard server.
func (s *Session) Port() int {
	return s.port
}

// TickInterval returns the configured pause between chart rendering ticks.
func (s *Session) TickInterval() time.Duration {
	return s.tickInterval
}

// Probes returns a copy of the configured probes.
//
// The returned slice is a copy; modifying it does not affect the Session.
// Each [Probe] in the slice is immutable.
func (s *Session) Probes() []Probe {
	cp := make([]Probe, len(s.probes))
	copy(cp, s.probes)
	return cp
}

// openStore snapshots the store handle, failing with ErrClosedStore outside
// a run.
func (s *Session) openStore() (*store.Store, error) {
	s.mu.RLock()
	st := s.store
	s.mu.RUnlock()
	if st == nil {
		return nil, ErrClosedStore
	}
	return st, nil
}

// toReadings attaches the variable name to raw store points.
func toReadings(name string, points []store.Point) []Reading {
	out := make([]Reading, len(points))
	for i, p := range points {
		out[i] = Reading{Name: name, Timestamp: p.Timestamp, Value: p.Value}
	}
	return out
}

// safeExtract calls a value extractor with panic recovery. A panic is
// logged with a correlation ID and the full stack trace, and converted into
// an error so the probe skips the sample.
func safeExtract(extractor ValueExtractor, body []byte, statusCode int, probeName string, logger *slog.Logger) (value float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			logger.Error("extractor panicked",
				"probe", probeName,
				"panic", r,
				"correlation_id", correlationID,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("extractor panicked (correlation_id: %s)", correlationID)
		}
	}()
	return extractor(body, statusCode)
}

// invokeCallbackSafe calls a reading callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb ReadingCallback, r Reading, logger *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("reading callback panicked",
				"panic", rec,
				"variable", r.Name,
			)
		}
	}()
	cb(r)
}
