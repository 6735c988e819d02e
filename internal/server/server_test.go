package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labwatch/labwatch/internal/render"
	"github.com/labwatch/labwatch/internal/store"
)

// fakeData implements both DataSource and render.Source for tests.
type fakeData struct {
	latest map[string]*store.Point
	series map[string][]store.Point
	params map[string]any
	text   map[string]string
	err    error
}

func newFakeData() *fakeData {
	return &fakeData{
		latest: make(map[string]*store.Point),
		series: make(map[string][]store.Point),
		params: make(map[string]any),
		text:   make(map[string]string),
	}
}

func (f *fakeData) LatestAll() (map[string]*store.Point, error) {
	return f.latest, f.err
}

func (f *fakeData) ReadSince(name string, ts float64) ([]store.Point, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []store.Point
	for _, p := range f.series[name] {
		if p.Timestamp > ts {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeData) Parameters() (map[string]any, error) {
	return f.params, f.err
}

func (f *fakeData) ParameterText(name string) (string, bool, error) {
	v, ok := f.text[name]
	return v, ok, nil
}

func (f *fakeData) SetParameterText(name, value string) error {
	f.text[name] = value
	return nil
}

type testFixture struct {
	data *fakeData
	hub  *store.Hub
	srv  *Server
	ts   *httptest.Server
}

func newTestFixture(t *testing.T, charts ...*render.Renderer) *testFixture {
	t.Helper()

	data := newFakeData()
	hub := store.NewHub()

	assets := fstest.MapFS{
		"assets/index.html": &fstest.MapFile{
			Data: []byte("<html><title>{{.Title}}</title></html>"),
		},
	}

	srv := NewServer(data, hub, charts, 0, assets, "Test Bench", nil)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	return &testFixture{data: data, hub: hub, srv: srv, ts: ts}
}

func TestLatestEndpoint(t *testing.T) {
	f := newTestFixture(t)
	f.data.latest["temp"] = &store.Point{Timestamp: 100, Value: 21.5}
	f.data.latest["pressure"] = nil

	resp, err := http.Get(f.ts.URL + "/api/latest")
	if err != nil {
		t.Fatalf("GET /api/latest: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var got map[string]*store.Point
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got["temp"] == nil || got["temp"].Value != 21.5 {
		t.Errorf("temp = %+v, want value 21.5", got["temp"])
	}
	if v, ok := got["pressure"]; !ok || v != nil {
		t.Errorf("pressure = %+v present=%v, want explicit null", v, ok)
	}
}

func TestLatestEndpoint_MethodNotAllowed(t *testing.T) {
	f := newTestFixture(t)

	resp, err := http.Post(f.ts.URL+"/api/latest", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/latest: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestLatestEndpoint_StorageError(t *testing.T) {
	f := newTestFixture(t)
	f.data.err = errors.New("database gone")

	resp, err := http.Get(f.ts.URL + "/api/latest")
	if err != nil {
		t.Fatalf("GET /api/latest: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestSeriesEndpoint(t *testing.T) {
	f := newTestFixture(t)
	f.data.series["temp"] = []store.Point{
		{Timestamp: 100, Value: 20},
		{Timestamp: 200, Value: 21},
		{Timestamp: 300, Value: 22},
	}

	resp, err := http.Get(f.ts.URL + "/api/series?name=temp&since=100")
	if err != nil {
		t.Fatalf("GET /api/series: %v", err)
	}
	defer resp.Body.Close()

	var got []store.Point
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (strictly newer than since)", len(got))
	}
	if got[0].Timestamp != 200 {
		t.Errorf("first timestamp = %v, want 200", got[0].Timestamp)
	}
}

func TestSeriesEndpoint_UnknownNameIsEmptyArray(t *testing.T) {
	f := newTestFixture(t)

	resp, err := http.Get(f.ts.URL + "/api/series?name=ghost")
	if err != nil {
		t.Fatalf("GET /api/series: %v", err)
	}
	defer resp.Body.Close()

	var got []store.Point
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("body = %v, want empty array (not null)", got)
	}
}

func TestSeriesEndpoint_BadRequests(t *testing.T) {
	f := newTestFixture(t)

	for _, url := range []string{
		"/api/series",
		"/api/series?name=temp&since=banana",
	} {
		resp, err := http.Get(f.ts.URL + url)
		if err != nil {
			t.Fatalf("GET %s: %v", url, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", url, resp.StatusCode)
		}
	}
}

func TestParamsEndpoint(t *testing.T) {
	f := newTestFixture(t)
	f.data.params["setpoint"] = 42.0
	f.data.params["operator"] = "jdoe"

	resp, err := http.Get(f.ts.URL + "/api/params")
	if err != nil {
		t.Fatalf("GET /api/params: %v", err)
	}
	defer resp.Body.Close()

	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got["setpoint"] != 42.0 {
		t.Errorf("setpoint = %v, want 42", got["setpoint"])
	}
	if got["operator"] != "jdoe" {
		t.Errorf("operator = %v, want jdoe", got["operator"])
	}
}

func newTestChart(t *testing.T, name string, data *fakeData, vars ...string) *render.Renderer {
	t.Helper()
	r, err := render.New(name, vars, 10, time.Second, data, nil)
	if err != nil {
		t.Fatalf("render.New() error = %v", err)
	}
	return r
}

func TestFrameEndpoint(t *testing.T) {
	data := newFakeData()
	chart := newTestChart(t, "bench", data, "temp")
	f := newTestFixture(t, chart)

	resp, err := http.Get(f.ts.URL + "/api/frame?chart=bench")
	if err != nil {
		t.Fatalf("GET /api/frame: %v", err)
	}
	defer resp.Body.Close()

	var frame render.Frame
	if err := json.NewDecoder(resp.Body).Decode(&frame); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if frame.Chart != "bench" {
		t.Errorf("chart = %q, want bench", frame.Chart)
	}
}

func TestFrameEndpoint_SingleChartDefault(t *testing.T) {
	data := newFakeData()
	chart := newTestChart(t, "bench", data, "temp")
	f := newTestFixture(t, chart)

	resp, err := http.Get(f.ts.URL + "/api/frame")
	if err != nil {
		t.Fatalf("GET /api/frame: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 (sole chart resolves implicitly)", resp.StatusCode)
	}
}

func TestFrameEndpoint_UnknownChart(t *testing.T) {
	f := newTestFixture(t)

	resp, err := http.Get(f.ts.URL + "/api/frame?chart=nope")
	if err != nil {
		t.Fatalf("GET /api/frame: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChartsEndpoint(t *testing.T) {
	data := newFakeData()
	a := newTestChart(t, "alpha", data, "temp")
	b := newTestChart(t, "beta", data, "pressure")
	f := newTestFixture(t, a, b)

	resp, err := http.Get(f.ts.URL + "/api/charts")
	if err != nil {
		t.Fatalf("GET /api/charts: %v", err)
	}
	defer resp.Body.Close()

	var frames []render.Frame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("len = %d, want 2", len(frames))
	}
}

func TestFigSizeEndpoint(t *testing.T) {
	data := newFakeData()
	chart := newTestChart(t, "bench", data, "temp")
	f := newTestFixture(t, chart)

	body := strings.NewReader(`{"width": 800, "height": 450}`)
	resp, err := http.Post(f.ts.URL+"/api/figsize?chart=bench", "application/json", body)
	if err != nil {
		t.Fatalf("POST /api/figsize: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	got := chart.Snapshot().FigSize
	if got.Width != 800 || got.Height != 450 {
		t.Errorf("figsize = %+v, want 800x450", got)
	}
}

func TestFigSizeEndpoint_InvalidBody(t *testing.T) {
	data := newFakeData()
	chart := newTestChart(t, "bench", data, "temp")
	f := newTestFixture(t, chart)

	resp, err := http.Post(f.ts.URL+"/api/figsize?chart=bench", "application/json",
		strings.NewReader("not json"))
	if err != nil {
		t.Fatalf("POST /api/figsize: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDashboard_TitleSubstitution(t *testing.T) {
	f := newTestFixture(t)

	resp, err := http.Get(f.ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 1024)
	n, _ := resp.Body.Read(buf)
	page := string(buf[:n])

	if !strings.Contains(page, "Test Bench") {
		t.Errorf("page does not contain the configured title: %q", page)
	}
	if strings.Contains(page, "{{.Title}}") {
		t.Error("placeholder not substituted")
	}
}

func TestDashboard_UnknownPathIs404(t *testing.T) {
	f := newTestFixture(t)

	resp, err := http.Get(f.ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSSE_StreamsReadings(t *testing.T) {
	f := newTestFixture(t)

	resp, err := http.Get(f.ts.URL + "/api/sse")
	if err != nil {
		t.Fatalf("GET /api/sse: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	// give the handler a moment to subscribe before publishing
	time.Sleep(50 * time.Millisecond)
	f.hub.Publish(store.Reading{Name: "temp", Timestamp: 100, Value: 21.5})

	type result struct {
		reading store.Reading
		err     error
	}
	results := make(chan result, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var r store.Reading
			err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &r)
			results <- result{r, err}
			return
		}
		results <- result{err: scanner.Err()}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			t.Fatalf("reading SSE stream: %v", res.err)
		}
		if res.reading.Name != "temp" || res.reading.Value != 21.5 {
			t.Errorf("reading = %+v, want temp=21.5", res.reading)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no SSE event received")
	}
}

func TestSSE_SendsInitialSnapshot(t *testing.T) {
	f := newTestFixture(t)
	f.data.latest["temp"] = &store.Point{Timestamp: 100, Value: 19.0}

	resp, err := http.Get(f.ts.URL + "/api/sse")
	if err != nil {
		t.Fatalf("GET /api/sse: %v", err)
	}
	defer resp.Body.Close()

	results := make(chan store.Reading, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var r store.Reading
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &r) == nil {
				results <- r
			}
			return
		}
	}()

	select {
	case r := <-results:
		if r.Name != "temp" || r.Value != 19.0 {
			t.Errorf("snapshot reading = %+v, want temp=19", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot event received")
	}
}

func TestWebSocket_StreamsReadings(t *testing.T) {
	f := newTestFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	f.hub.Publish(store.Reading{Name: "pressure", Timestamp: 200, Value: 1013.25})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got store.Reading
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Name != "pressure" || got.Value != 1013.25 {
		t.Errorf("reading = %+v, want pressure=1013.25", got)
	}
}

func TestStart_PortAlreadyBound(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := NewServer(newFakeData(), store.NewHub(), nil, port, nil, "", nil)
	if err := srv.Start(context.Background()); err == nil {
		t.Error("Start() error = nil for a port already in use")
	}
}

func TestStart_ServesAndShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("finding a free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(newFakeData(), store.NewHub(), nil, port, nil, "", nil)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/latest", port)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := http.Get(url); err != nil {
			return // server stopped accepting
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("server still serving after context cancellation")
}
