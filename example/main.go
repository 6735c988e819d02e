package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labwatch/labwatch"
)

func main() {
	// start mock instrument (see mock_server.go)
	go StartMockInstrumentServer(":9999")
	time.Sleep(100 * time.Millisecond)

	// grid API: 4 thermocouple channels from one declaration
	probes, err := labwatch.NewProbeGrid("Thermocouple",
		labwatch.WithURLTemplate("http://localhost:9999/read?ch={{.ch}}"),
		labwatch.WithVariableTemplate("temp_{{.ch}}"),
		labwatch.WithDimensions(map[string][]string{
			"ch": {"0", "1", "2", "3"},
		}),
		labwatch.WithGridInterval(2*time.Second),
	)
	if err != nil {
		slog.Error("failed to create probe grid", "error", err)
		os.Exit(1)
	}

	// add the pressure gauge with its own sampling interval and extractor
	pressure, _ := labwatch.NewProbe("Pressure gauge", "http://localhost:9999/api/pressure", "pressure",
		labwatch.WithProbeExtractor(labwatch.JSONFieldExtractor("pressure")),
		labwatch.WithProbeInterval(5*time.Second),
	)
	probes = append(probes, pressure)

	// a derived variable computed in-process rather than probed
	meanTemp := labwatch.Repeat("mean_temp", func(ctx context.Context, s *labwatch.Session) error {
		var sum float64
		var n int
		for _, ch := range []string{"0", "1", "2", "3"} {
			r, ok, err := s.Latest("temp_" + ch)
			if err != nil {
				return err
			}
			if ok {
				sum += r.Value
				n++
			}
		}
		if n > 0 {
			if err := s.Append(map[string]float64{"temp_mean": sum / float64(n)}); err != nil {
				return err
			}
		}
		s.Sleep(2 * time.Second)
		return nil
	})

	s, err := labwatch.New(
		labwatch.WithSessionName("demo_run"),
		labwatch.WithTitle("Labwatch Demo"),
		labwatch.WithDataDir("."),
		labwatch.WithPort(8080),
		labwatch.WithProbes(probes...),
		labwatch.WithChart("temperatures", "temp_0", "temp_1", "temp_2", "temp_3", "temp_mean"),
		labwatch.WithChart("pressure", "pressure"),
	)
	if err != nil {
		slog.Error("failed to create session", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  Labwatch Demo")
	fmt.Println()
	fmt.Println("  Open http://localhost:8080 in your browser")
	fmt.Println()
	fmt.Println("  Variables:")
	fmt.Println("  - temp_0..temp_3 (4 channels via probe grid, 2s interval)")
	fmt.Println("  - pressure (JSON extractor, 5s interval)")
	fmt.Println("  - temp_mean (derived in a Repeat activity)")
	fmt.Println()
	fmt.Println("  Data is recorded in ./demo_run.db; re-running appends to it.")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx, meanTemp); err != nil {
		slog.Error("session error", "error", err)
		os.Exit(1)
	}
}
