// Package labwatch is a monitoring-session runtime for long-running
// experiments.
//
// A labwatch [Session] owns a durable SQLite time-series log, a set of
// cooperating activities (caller-supplied measurement loops, HTTP probes
// against networked instruments, live chart renderers), and an embedded
// status dashboard. The session runs until it is interrupted or an activity
// fails, then shuts everything down cleanly and closes the store.
//
// # Quick Start
//
//	session, err := labwatch.New(
//	    labwatch.WithSessionName("heating_run_42"),
//	    labwatch.WithChart("bench", "temperature", "pressure"),
//	)
//	if err != nil {
//	    slog.Error("failed to create session", "error", err)
//	    os.Exit(1)
//	}
//
//	measure := labwatch.Repeat("measure", func(ctx context.Context, s *labwatch.Session) error {
//	    if err := s.Append(map[string]float64{
//	        "temperature": readTemperature(),
//	        "pressure":    readPressure(),
//	    }); err != nil {
//	        return err
//	    }
//	    s.Sleep(5 * time.Second)
//	    return nil
//	})
//
//	if err := session.Run(context.Background(), measure); err != nil {
//	    slog.Error("session failed", "error", err)
//	    os.Exit(1)
//	}
//
// Run blocks until Ctrl-C (the success path), context cancellation, or an
// activity error. While running, the dashboard is available at
// http://localhost:<port> with live charts of every configured variable.
//
// # Architecture
//
// The package follows a layered design:
//
//   - Public API (this package): Session, Activity, Probe, ValueExtractor
//   - internal/store: SQLite time-series log + pub/sub hub
//   - internal/runtime: cooperative scheduler, interrupt handling
//   - internal/probe: HTTP sampling client
//   - internal/render: bounded chart windows with widen-only autoscale
//   - internal/server: dashboard, JSON API, SSE and WebSocket streams
//
// All data written through [Session.Append] survives process restarts; a new
// session opened on the same name continues the same database.
package labwatch
