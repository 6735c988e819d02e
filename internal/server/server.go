package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labwatch/labwatch/internal/render"
	"github.com/labwatch/labwatch/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write.
	// Prevents goroutine leaks when clients are slow or disconnected.
	sseWriteTimeout = 5 * time.Second

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "labwatch"

	// titlePlaceholder is the marker in HTML replaced with the actual title.
	titlePlaceholder = "{{.Title}}"
)

// DataSource is the read surface the server needs from the session store.
// Every request computes a fresh snapshot; the server caches nothing.
type DataSource interface {
	LatestAll() (map[string]*store.Point, error)
	ReadSince(name string, ts float64) ([]store.Point, error)
	Parameters() (map[string]any, error)
}

// Stream is the live-reading subscription surface (the store hub).
type Stream interface {
	Subscribe() <-chan store.Reading
	Unsubscribe(ch <-chan store.Reading)
}

// Server answers the session's network surface.
//
// Routes:
//   - GET /            the embedded dashboard page
//   - GET /api/latest  latest (timestamp, value) per registered variable
//   - GET /api/series  one variable's rows since a timestamp
//   - GET /api/params  parameter table dump
//   - GET /api/charts  current frame of every live chart
//   - GET /api/frame   one chart's current frame
//   - POST /api/figsize  record a client's reported figure size
//   - GET /api/sse     Server-Sent Events stream of readings
//   - GET /ws          WebSocket stream of readings
//
// The server shuts down gracefully on context cancellation.
type Server struct {
	source     DataSource
	stream     Stream
	charts     []*render.Renderer
	port       int
	httpServer *http.Server
	assets     fs.FS
	title      string
	logger     *slog.Logger
}

// NewServer creates the session's HTTP [Server]. It is not started until
// [Server.Start] is called.
func NewServer(source DataSource, stream Stream, charts []*render.Renderer, port int, assets fs.FS, title string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		source: source,
		stream: stream,
		charts: charts,
		port:   port,
		assets: assets,
		title:  title,
		logger: logger,
	}
}

// Start begins serving in a background goroutine.
//
// Start is non-blocking and returns once the listener is bound, so a busy
// port fails synchronously. The server runs until ctx is cancelled, then
// shuts down gracefully with a 5-second timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler: s.routes(),
		// request contexts derive from the session context, so cancelling
		// it also unwinds long-running SSE/WebSocket handlers
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/series", s.handleSeries)
	mux.HandleFunc("/api/params", s.handleParams)
	mux.HandleFunc("/api/charts", s.handleCharts)
	mux.HandleFunc("/api/frame", s.handleFrame)
	mux.HandleFunc("/api/figsize", s.handleFigSize)
	mux.HandleFunc("/api/sse", s.handleSSE)
	mux.HandleFunc("/ws", s.handleWS)

	if s.assets != nil {
		mux.HandleFunc("/", s.handleDashboard)
	}

	return mux
}

// handleDashboard serves the embedded dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	content, err := fs.ReadFile(s.assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	title := s.title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

// handleLatest returns a fresh latest-value snapshot of every registered
// variable. A registered variable with no samples maps to null.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	latest, err := s.source.LatestAll()
	if err != nil {
		s.logger.Error("failed to read latest values", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, latest)
}

// handleSeries returns one variable's samples strictly newer than the
// "since" query parameter (default 0, i.e. full history).
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name parameter is required", http.StatusBadRequest)
		return
	}

	since := 0.0
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	points, err := s.source.ReadSince(name, since)
	if err != nil {
		s.logger.Error("failed to read series", "name", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []store.Point{}
	}

	s.writeJSON(w, points)
}

// handleParams returns the full parameter table.
func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params, err := s.source.Parameters()
	if err != nil {
		s.logger.Error("failed to read parameters", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, params)
}

// handleCharts returns the current frame of every live chart.
func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	frames := make([]render.Frame, 0, len(s.charts))
	for _, c := range s.charts {
		frames = append(frames, c.Snapshot())
	}
	s.writeJSON(w, frames)
}

// findChart resolves the chart query parameter. An empty name with exactly
// one configured chart resolves to that chart.
func (s *Server) findChart(name string) *render.Renderer {
	if name == "" && len(s.charts) == 1 {
		return s.charts[0]
	}
	for _, c := range s.charts {
		if c.Chart() == name {
			return c
		}
	}
	return nil
}

// handleFrame returns one chart's current frame.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chart := s.findChart(r.URL.Query().Get("chart"))
	if chart == nil {
		http.Error(w, "unknown chart", http.StatusNotFound)
		return
	}

	s.writeJSON(w, chart.Snapshot())
}

// handleFigSize records the figure size a dashboard client reports, so the
// renderer can persist it as presentation state on shutdown.
func (s *Server) handleFigSize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chart := s.findChart(r.URL.Query().Get("chart"))
	if chart == nil {
		http.Error(w, "unknown chart", http.StatusNotFound)
		return
	}

	var f render.FigSize
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&f); err != nil {
		http.Error(w, "invalid figure size", http.StatusBadRequest)
		return
	}

	chart.SetFigSize(f)
	w.WriteHeader(http.StatusNoContent)
}

// writeJSON writes a JSON response with no-cache headers.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// handleSSE streams readings via Server-Sent Events.
//
// Writes carry deadlines so a slow or disconnected client cannot block the
// handler past shutdown.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.stream.Subscribe()
	defer s.stream.Unsubscribe(ch)

	// initial snapshot so a fresh client has every variable immediately
	latest, err := s.source.LatestAll()
	if err == nil {
		for name, p := range latest {
			if p == nil {
				continue
			}
			data, err := json.Marshal(store.Reading{Name: name, Timestamp: p.Timestamp, Value: p.Value})
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}
		}
	}

	for {
		select {
		case reading, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(reading)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on both client disconnect and session shutdown, since
			// request contexts derive from the session context
			return
		}
	}
}
