package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TheCacophonyProject/walkingpad-controller/internal/session"
	"github.com/TheCacophonyProject/walkingpad-controller/internal/telemetry"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubController struct {
	mu       sync.Mutex
	snap     session.Snapshot
	err      error
	calls    []string
	adjusted []float64
	stepped  []float64
}

func (s *stubController) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.err
}

func (s *stubController) Connect(ctx context.Context) (session.ConnectionState, error) {
	err := s.record("connect")
	return session.Connected, err
}

func (s *stubController) Start() error  { return s.record("start") }
func (s *stubController) Pause() error  { return s.record("pause") }
func (s *stubController) Resume() error { return s.record("resume") }

func (s *stubController) AdjustSpeed(kmh float64) (float64, error) {
	if err := s.record("adjust"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjusted = append(s.adjusted, kmh)
	return kmh, nil
}

func (s *stubController) StepSpeed(delta float64) (float64, error) {
	if err := s.record("step"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepped = append(s.stepped, delta)
	return 3 + delta, nil
}

func (s *stubController) Snapshot() session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *stubController) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func runningSnapshot() session.Snapshot {
	return session.Snapshot{
		Connection: session.Connected,
		Session:    session.Running,
		SessionID:  "0f8fad5b-d9cb-469f-a165-70867728950e",
		Stats: telemetry.Stats{
			DistanceKm: 2.5,
			Steps:      3300,
			SpeedKmh:   4.0,
		},
		ResumeSpeedKmh: 2.0,
	}
}

func newTestServer(ctl Controller) *Server {
	return NewServer(DefaultConfig(), ctl, nil, nil)
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(&stubController{})
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, resp)["status"])
}

func TestStats(t *testing.T) {
	s := newTestServer(&stubController{snap: runningSnapshot()})
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	stats := decode(t, resp)
	assert.Equal(t, true, stats["is_connected"])
	assert.Equal(t, true, stats["is_running"])
	assert.Equal(t, 2.5, stats["speed"])
	assert.Equal(t, 1.55, stats["distance"])
	assert.Equal(t, 3300.0, stats["steps"])
	assert.Equal(t, 148.0, stats["calories"])
}

func TestSnapshot(t *testing.T) {
	s := newTestServer(&stubController{snap: runningSnapshot()})
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	snap := decode(t, resp)
	assert.Equal(t, "connected", snap["connection"])
	assert.Equal(t, "running", snap["session"])
	assert.Equal(t, "active_session", snap["view"])
	assert.Equal(t, "0f8fad5b-d9cb-469f-a165-70867728950e", snap["sessionId"])
	assert.Equal(t, 2.0, snap["resumeSpeed"])
}

func TestActions(t *testing.T) {
	for path, call := range map[string]string{
		"/start":          "start",
		"/pause":          "pause",
		"/pause_session":  "pause",
		"/resume":         "resume",
		"/resume_session": "resume",
	} {
		for _, method := range []string{http.MethodGet, http.MethodPost} {
			ctl := &stubController{snap: runningSnapshot()}
			s := newTestServer(ctl)
			resp, err := s.App.Test(httptest.NewRequest(method, path, nil))
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode, "%s %s", method, path)
			assert.Equal(t, []string{call}, ctl.Calls(), "%s %s", method, path)
		}
	}
}

func TestActionErrors(t *testing.T) {
	for _, tc := range []struct {
		err    error
		status int
	}{
		{session.ErrNotConnected, http.StatusConflict},
		{session.ErrNotRunning, http.StatusConflict},
		{session.ErrQueueFull, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	} {
		s := newTestServer(&stubController{err: tc.err})
		resp, err := s.App.Test(httptest.NewRequest(http.MethodPost, "/start", nil))
		require.NoError(t, err)
		assert.Equal(t, tc.status, resp.StatusCode)
		assert.Equal(t, tc.err.Error(), decode(t, resp)["error"])
	}
}

func TestSpeedPresets(t *testing.T) {
	ctl := &stubController{snap: runningSnapshot()}
	s := newTestServer(ctl)
	for _, path := range []string{"/increase_speed", "/decrease_speed", "/slow_speed", "/max_speed"} {
		resp, err := s.App.Test(httptest.NewRequest(http.MethodPost, path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
	assert.Equal(t, []float64{0.6, -0.6}, ctl.stepped)
	assert.Equal(t, []float64{4.5, 6.0}, ctl.adjusted)
}

func TestSetSpeed(t *testing.T) {
	ctl := &stubController{snap: runningSnapshot()}
	s := newTestServer(ctl)

	req := httptest.NewRequest(http.MethodPost, "/speed", strings.NewReader(`{"kmh": 3.4}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3.4, decode(t, resp)["kmh"])

	req = httptest.NewRequest(http.MethodPost, "/speed", strings.NewReader(`{"mph": 2}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = s.App.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, []float64{3.4}, ctl.adjusted)
}

func TestReconnect(t *testing.T) {
	ctl := &stubController{}
	s := newTestServer(ctl)
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/reconnect", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Eventually(t, func() bool {
		return len(ctl.Calls()) == 1
	}, time.Second, 5*time.Millisecond)

	// Nothing to do while connected.
	ctl = &stubController{snap: runningSnapshot()}
	s = newTestServer(ctl)
	resp, err = s.App.Test(httptest.NewRequest(http.MethodGet, "/manual_reconnect", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, ctl.Calls())
}

func TestShutdown(t *testing.T) {
	called := make(chan struct{})
	s := NewServer(DefaultConfig(), &stubController{}, func() { close(called) }, nil)

	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/shutdown", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = s.App.Test(httptest.NewRequest(http.MethodPost, "/shutdown", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("shutdown not called")
	}
}

func TestMetrics(t *testing.T) {
	s := newTestServer(&stubController{})
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "walkingpad_queue_depth")
}

func TestWebsocketUpgradeRequired(t *testing.T) {
	s := newTestServer(&stubController{})
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.NoError(t, err)
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketStream(t *testing.T) {
	ctl := &stubController{snap: runningSnapshot()}
	cfg := DefaultConfig()
	cfg.StreamInterval = 10 * time.Millisecond
	s := NewServer(cfg, ctl, nil, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		_ = s.App.Listener(ln)
	}()
	defer func() { _ = s.App.Shutdown() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.streamSnapshots(ctx)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// The current snapshot, then the periodic updates.
	for i := 0; i < 2; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		msg := map[string]interface{}{}
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "active_session", msg["view"])
	}
	assert.Equal(t, 1, s.Stream.Count())
}
