package labwatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labwatch/labwatch/internal/render"
	"github.com/labwatch/labwatch/internal/store"
)

// newTestSession creates a headless session writing into a temp directory.
func newTestSession(t *testing.T, opts ...Option) *Session {
	t.Helper()

	base := []Option{
		WithSessionName("test_run"),
		WithDataDir(t.TempDir()),
		WithoutServer(),
	}
	s, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

// runSession runs s in a goroutine and returns a channel with the result.
func runSession(t *testing.T, s *Session, activities ...Activity) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), activities...) }()
	return done
}

// waitRun fails the test if Run does not return within two seconds.
func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after stop")
		return nil
	}
}

func TestSessionRun_AppendsAndStops(t *testing.T) {
	s := newTestSession(t)

	count := 0
	measure := Repeat("measure", func(ctx context.Context, s *Session) error {
		count++
		if err := s.Append(map[string]float64{"temperature": 20.0 + float64(count)}); err != nil {
			return err
		}
		if count >= 3 {
			s.Stop()
			return nil
		}
		s.Sleep(10 * time.Millisecond)
		return nil
	})

	if err := waitRun(t, runSession(t, s, measure)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if count != 3 {
		t.Errorf("iterations = %d, want 3", count)
	}
}

func TestSessionRun_DataIsDurable(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(t, WithDataDir(dir))

	measure := Repeat("measure", func(ctx context.Context, s *Session) error {
		if err := s.Append(map[string]float64{"pressure": 1013.25}); err != nil {
			return err
		}
		if err := s.SetParameter("setpoint", 42); err != nil {
			return err
		}
		s.Stop()
		return nil
	})

	if err := waitRun(t, runSession(t, s, measure)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// the database outlives the run
	st, err := store.Open(filepath.Join(dir, "test_run.db"))
	if err != nil {
		t.Fatalf("reopening database: %v", err)
	}
	defer st.Close()

	points, err := st.ReadAll("pressure")
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(points) != 1 || points[0].Value != 1013.25 {
		t.Errorf("ReadAll() = %+v, want one pressure sample", points)
	}

	v, ok, err := st.Parameter("setpoint")
	if err != nil || !ok || v != 42 {
		t.Errorf("Parameter() = (%v, %v, %v), want (42, true, nil)", v, ok, err)
	}
}

func TestSessionRun_RejectsInvalidActivity(t *testing.T) {
	s := newTestSession(t)

	err := s.Run(context.Background(), Activity{})
	if !errors.Is(err, ErrInvalidActivity) {
		t.Errorf("Run() error = %v, want ErrInvalidActivity", err)
	}

	err = s.Run(context.Background(), Repeat("nil-fn", nil))
	if !errors.Is(err, ErrInvalidActivity) {
		t.Errorf("Run() error = %v, want ErrInvalidActivity", err)
	}
}

func TestSessionRun_CancelledContextIsNoop(t *testing.T) {
	s := newTestSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx); err != nil {
		t.Errorf("Run() error = %v for pre-cancelled context, want nil", err)
	}
}

func TestSessionRun_ActivityErrorPropagates(t *testing.T) {
	s := newTestSession(t)
	boom := errors.New("instrument on fire")

	failing := Repeat("failing", func(ctx context.Context, s *Session) error {
		return boom
	})
	survivor := SelfManaged("survivor", func(ctx context.Context, s *Session) error {
		for s.Running() {
			s.Sleep(10 * time.Millisecond)
		}
		return nil
	})

	err := waitRun(t, runSession(t, s, failing, survivor))
	if !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want the activity error", err)
	}
}

func TestSessionRun_ContextCancelStops(t *testing.T) {
	s := newTestSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	idle := SelfManaged("idle", func(ctx context.Context, s *Session) error {
		for s.Running() {
			s.Sleep(10 * time.Millisecond)
		}
		return nil
	})
	go func() { done <- s.Run(ctx, idle) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := waitRun(t, done); err != nil {
		t.Errorf("Run() error = %v on cancellation, want nil", err)
	}
}

func TestSessionAppend_OutsideRun(t *testing.T) {
	s := newTestSession(t)

	err := s.Append(map[string]float64{"temperature": 20})
	if !errors.Is(err, ErrClosedStore) {
		t.Errorf("Append() error = %v outside a run, want ErrClosedStore", err)
	}
	if _, _, err := s.Latest("temperature"); !errors.Is(err, ErrClosedStore) {
		t.Errorf("Latest() error = %v outside a run, want ErrClosedStore", err)
	}
}

func TestSessionReads_DuringRun(t *testing.T) {
	s := newTestSession(t)

	var latest Reading
	var ok bool
	var readErr error

	measure := Repeat("measure", func(ctx context.Context, s *Session) error {
		if err := s.Append(map[string]float64{"temperature": 21.5}); err != nil {
			return err
		}
		latest, ok, readErr = s.Latest("temperature")
		s.Stop()
		return nil
	})

	if err := waitRun(t, runSession(t, s, measure)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if readErr != nil || !ok {
		t.Fatalf("Latest() = (%v, %v), want a reading", ok, readErr)
	}
	if latest.Name != "temperature" || latest.Value != 21.5 {
		t.Errorf("Latest() = %+v, want temperature=21.5", latest)
	}
}

func TestSessionParameters_DuringRun(t *testing.T) {
	s := newTestSession(t)

	var params map[string]any
	var paramsErr error

	measure := Repeat("measure", func(ctx context.Context, s *Session) error {
		if err := s.SetParameter("offset", 5); err != nil {
			return err
		}
		// upsert: second write replaces, never appends
		if err := s.SetParameter("offset", 9); err != nil {
			return err
		}
		params, paramsErr = s.Parameters()
		s.Stop()
		return nil
	})

	if err := waitRun(t, runSession(t, s, measure)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if paramsErr != nil {
		t.Fatalf("Parameters() error = %v", paramsErr)
	}
	if len(params) != 1 {
		t.Fatalf("Parameters() = %v, want exactly one entry", params)
	}
	if v, ok := params["offset"].(float64); !ok || v != 9 {
		t.Errorf("Parameters()[offset] = %v, want 9", params["offset"])
	}
}

func TestSessionRun_NoActivitiesServesUntilStop(t *testing.T) {
	// reserve a free port for the dashboard
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s, err := New(
		WithSessionName("test_run"),
		WithDataDir(t.TempDir()),
		WithPort(port),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := runSession(t, s)

	// the dashboard comes up even though there is nothing to measure
	url := fmt.Sprintf("http://127.0.0.1:%d/api/latest", port)
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("GET /api/latest status = %d, want 200", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dashboard never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// the run keeps serving rather than returning with nothing scheduled
	select {
	case err := <-done:
		t.Fatalf("Run() returned %v before a stop, want it to block", err)
	case <-time.After(200 * time.Millisecond):
	}

	s.Stop()
	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run() error = %v after stop", err)
	}
}

func TestSessionRun_ProbeSamplesInstrument(t *testing.T) {
	instrument := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("21.53"))
	}))
	defer instrument.Close()

	p, err := NewProbe("mock", instrument.URL, "temperature",
		WithProbeInterval(100*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}

	s := newTestSession(t, WithProbe(p))

	watcher := SelfManaged("watcher", func(ctx context.Context, s *Session) error {
		for s.Running() {
			if _, ok, err := s.Latest("temperature"); err != nil {
				return err
			} else if ok {
				s.Stop()
				return nil
			}
			s.Sleep(10 * time.Millisecond)
		}
		return nil
	})

	if err := waitRun(t, runSession(t, s, watcher)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	readings, err := func() ([]store.Point, error) {
		st, err := store.Open(filepath.Join(s.dataDir, "test_run.db"))
		if err != nil {
			return nil, err
		}
		defer st.Close()
		return st.ReadAll("temperature")
	}()
	if err != nil {
		t.Fatalf("reading back samples: %v", err)
	}
	if len(readings) == 0 {
		t.Fatal("probe appended no samples")
	}
	if readings[0].Value != 21.53 {
		t.Errorf("sample = %v, want 21.53", readings[0].Value)
	}
}

func TestSessionRun_ProbeSurvivesInstrumentFailure(t *testing.T) {
	hits := 0
	instrument := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("7.0"))
	}))
	defer instrument.Close()

	p, err := NewProbe("flaky", instrument.URL, "flow",
		WithProbeInterval(100*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}

	s := newTestSession(t, WithProbe(p))
	watcher := SelfManaged("watcher", func(ctx context.Context, s *Session) error {
		for s.Running() {
			if _, ok, err := s.Latest("flow"); err != nil {
				return err
			} else if ok {
				s.Stop()
				return nil
			}
			s.Sleep(10 * time.Millisecond)
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), watcher) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("probe never recovered from the failed sample")
	}
	if hits < 2 {
		t.Errorf("instrument hits = %d, want the probe to retry", hits)
	}
}

func TestSessionRun_ChartPersistsView(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(t,
		WithDataDir(dir),
		WithChart("bench", "temperature"),
		WithTickInterval(10*time.Millisecond),
	)

	measure := Repeat("measure", func(ctx context.Context, s *Session) error {
		if err := s.Append(map[string]float64{"temperature": 20.5}); err != nil {
			return err
		}
		s.Sleep(10 * time.Millisecond)
		return nil
	})
	stopper := SelfManaged("stopper", func(ctx context.Context, s *Session) error {
		s.Sleep(150 * time.Millisecond)
		s.Stop()
		return nil
	})

	if err := waitRun(t, runSession(t, s, measure, stopper)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st, err := store.Open(filepath.Join(dir, "test_run.db"))
	if err != nil {
		t.Fatalf("reopening database: %v", err)
	}
	defer st.Close()

	enc, ok, err := st.ParameterText(render.WindowParamKey([]string{"temperature"}))
	if err != nil || !ok {
		t.Fatalf("view state not persisted: ok=%v err=%v", ok, err)
	}
	if _, err := render.DecodeViewState(enc); err != nil {
		t.Errorf("persisted view undecodable: %v", err)
	}
}

func TestSessionRun_PanickingActivityFailsTheRun(t *testing.T) {
	s := newTestSession(t)

	panicky := Repeat("panicky", func(ctx context.Context, s *Session) error {
		panic("measurement exploded")
	})

	err := waitRun(t, runSession(t, s, panicky))
	if err == nil {
		t.Fatal("Run() error = nil, want recovered panic error")
	}
}

func TestSession_AccessorsOutsideRun(t *testing.T) {
	s := newTestSession(t)

	if s.Running() {
		t.Error("Running() = true outside a run")
	}
	// must return immediately and not panic
	s.Sleep(time.Hour)
	s.Stop()
	if s.SessionName() != "test_run" {
		t.Errorf("SessionName() = %q", s.SessionName())
	}
}
