// Standalone mock instrument for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/labwatch serve -c example/config.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

func main() {
	fmt.Println("Mock instrument starting on :9999")
	fmt.Println("  GET /read?ch=N     plain-text thermocouple reading")
	fmt.Println("  GET /api/pressure  JSON pressure reading")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		start = time.Now()
		mu    sync.Mutex
		temp  = make(map[int]float64)
	)

	http.HandleFunc("/read", func(w http.ResponseWriter, r *http.Request) {
		ch, err := strconv.Atoi(r.URL.Query().Get("ch"))
		if err != nil || ch < 0 {
			http.Error(w, "bad channel", http.StatusBadRequest)
			return
		}

		time.Sleep(time.Duration(10+rand.Intn(40)) * time.Millisecond)

		mu.Lock()
		t, exists := temp[ch]
		if !exists {
			t = 20.0 + rand.Float64()
		}
		setpoint := 60.0 + 15.0*float64(ch)
		t += (setpoint - t) * 0.01
		t += rand.NormFloat64() * 0.05
		temp[ch] = t
		mu.Unlock()

		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "%.3f", t)
	})

	http.HandleFunc("/api/pressure", func(w http.ResponseWriter, r *http.Request) {
		elapsed := time.Since(start).Seconds()
		p := 1013.0*math.Exp(-elapsed/300.0) + 0.5 + rand.NormFloat64()*0.2

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pressure": p,
			"unit":     "mbar",
		})
	})

	if err := http.ListenAndServe(":9999", nil); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
