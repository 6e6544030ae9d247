package feed

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/tablesight/internal/config"
	"github.com/lox/tablesight/internal/fusion"
	"github.com/lox/tablesight/internal/publisher"
)

type harness struct {
	engine *fusion.Engine
	hub    *Hub
	feed   *Server
	http   *httptest.Server
	clock  *quartz.Mock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := quartz.NewMock(t)
	logger := log.New(io.Discard)

	hub := NewHub(8)
	engine, err := fusion.New(config.DefaultFusion(),
		fusion.WithClock(clock), fusion.WithLogger(logger), fusion.WithMonitor(hub))
	require.NoError(t, err)

	feed := NewServer(engine, hub, quartz.NewReal(), logger)
	srv := httptest.NewServer(feed.Handler())
	t.Cleanup(func() {
		feed.Close()
		srv.Close()
	})
	return &harness{engine: engine, hub: hub, feed: feed, http: srv, clock: clock}
}

func (h *harness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (h *harness) get(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(h.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func readSnapshot(t *testing.T, conn *websocket.Conn) publisher.Snapshot {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var snap publisher.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	return snap
}

func TestHealthAndStats(t *testing.T) {
	h := newHarness(t)

	var health healthResponse
	assert.Equal(t, http.StatusOK, h.get(t, "/health", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "WAITING_FOR_HAND", health.Phase)
	assert.Equal(t, publisher.TrustOK, health.Trust)

	var stats statsResponse
	assert.Equal(t, http.StatusOK, h.get(t, "/stats", &stats))
	assert.Equal(t, 0, stats.Subscribers)
	assert.Zero(t, stats.Submitted)
}

func TestSnapshotEndpoint(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusNotFound, h.get(t, "/snapshot", nil))

	_, err := h.engine.Heartbeat()
	require.NoError(t, err)

	var snap publisher.Snapshot
	assert.Equal(t, http.StatusOK, h.get(t, "/snapshot", &snap))
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, publisher.ReasonHeartbeat, snap.Reason)
}

func TestPostObservations(t *testing.T) {
	h := newHarness(t)

	body := `[
		{"field": "pot_size", "value": "$30", "confidence": 0.9},
		{"field": "player[7].stack", "value": "100", "confidence": 0.9},
		{"field": "community_card[0]", "value": "Zz", "confidence": 0.9},
		{"field": "player[0].hole_card[1]", "value": "Kd", "confidence": 0.95, "observed_at": "2026-04-01T19:59:59Z"}
	]`
	resp, err := http.Post(h.http.URL+"/observations", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res BatchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 2, res.Accepted)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, 1, res.Rejected[0].Index)
	assert.Equal(t, 2, res.Rejected[1].Index)

	assert.Equal(t, uint64(2), h.engine.Stats().Submitted)
}

func TestPostObservationsBadRequest(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Post(h.http.URL+"/observations", "application/json", strings.NewReader(`{"field": "pot_size"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostObservationsAfterShutdown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Shutdown(false))

	body := bytes.NewBufferString(`[{"field": "pot_size", "value": "30", "confidence": 0.9}]`)
	resp, err := http.Post(h.http.URL+"/observations", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSnapshotSocket(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Heartbeat()
	require.NoError(t, err)

	conn := h.dial(t, "/ws/snapshots")
	first := readSnapshot(t, conn)
	assert.Equal(t, uint64(1), first.Version, "latest snapshot is sent on connect")
	require.Equal(t, 1, h.hub.Subscribers())

	for range 3 {
		_, err := h.engine.Heartbeat()
		require.NoError(t, err)
	}
	var versions []uint64
	for range 3 {
		versions = append(versions, readSnapshot(t, conn).Version)
	}
	assert.Equal(t, []uint64{2, 3, 4}, versions)
}

func TestSnapshotSocketClosedOnShutdown(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "/ws/snapshots")
	require.Eventually(t, func() bool { return h.hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.feed.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, h.hub.Subscribers())

	resp, err := http.Get(h.http.URL + "/ws/snapshots")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestObservationSocket(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "/ws/observations")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"field": "pot_size", "value": "45", "confidence": 0.8,
	}))
	require.NoError(t, conn.WriteJSON(map[string]any{
		"field": "pot_size", "value": "45", "confidence": 1.5,
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var reply Reply
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "pot_size", reply.Field)
	assert.NotEmpty(t, reply.Error)

	assert.Eventually(t, func() bool { return h.engine.Stats().Submitted == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubDropsOldestForSlowSubscriber(t *testing.T) {
	hub := NewHub(2)
	sub, ok := hub.Subscribe()
	require.True(t, ok)

	for v := uint64(1); v <= 5; v++ {
		hub.OnSnapshot(publisher.Snapshot{Version: v})
	}
	assert.Equal(t, uint64(3), hub.Dropped())
	assert.Equal(t, uint64(4), (<-sub.C()).Version)
	assert.Equal(t, uint64(5), (<-sub.C()).Version)

	hub.Close()
	_, open := <-sub.C()
	assert.False(t, open)
	_, ok = hub.Subscribe()
	assert.False(t, ok)
}
