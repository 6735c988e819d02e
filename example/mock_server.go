package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// mockInstrument simulates a slow lab bench: four thermocouple channels
// warming toward different setpoints, and a pressure gauge.
type mockInstrument struct {
	start time.Time

	mu   sync.Mutex
	temp map[int]float64
}

// StartMockInstrumentServer runs a mock instrument HTTP server.
// Call this in a goroutine before starting the session.
//
//	GET /read?ch=N      -> plain-text temperature for channel N
//	GET /api/pressure   -> {"pressure": <mbar>, "unit": "mbar"}
func StartMockInstrumentServer(addr string) {
	inst := &mockInstrument{
		start: time.Now(),
		temp:  make(map[int]float64),
	}

	http.HandleFunc("/read", inst.handleRead)
	http.HandleFunc("/api/pressure", inst.handlePressure)

	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("mock instrument error", "error", err)
	}
}

func (m *mockInstrument) handleRead(w http.ResponseWriter, r *http.Request) {
	ch, err := strconv.Atoi(r.URL.Query().Get("ch"))
	if err != nil || ch < 0 {
		http.Error(w, "bad channel", http.StatusBadRequest)
		return
	}

	// simulate small latency variance
	time.Sleep(time.Duration(10+rand.Intn(40)) * time.Millisecond)

	m.mu.Lock()
	t, exists := m.temp[ch]
	if !exists {
		t = 20.0 + rand.Float64()
	}
	// each channel relaxes toward its own setpoint with measurement noise
	setpoint := 60.0 + 15.0*float64(ch)
	t += (setpoint - t) * 0.01
	t += rand.NormFloat64() * 0.05
	m.temp[ch] = t
	m.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "%.3f", t)
}

func (m *mockInstrument) handlePressure(w http.ResponseWriter, r *http.Request) {
	elapsed := time.Since(m.start).Seconds()

	// slow pump-down curve with a little sensor noise
	p := 1013.0*math.Exp(-elapsed/300.0) + 0.5 + rand.NormFloat64()*0.2

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"pressure": p,
		"unit":     "mbar",
	}); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
