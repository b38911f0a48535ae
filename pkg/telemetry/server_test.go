package telemetry

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg ServerConfig, trigger TriggerFunc) (*httptest.Server, *Store, *Hub) {
	t.Helper()
	store := NewStore()
	hub := NewHub(store, nil)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("heartglow_samples_total 3\n"))
	})
	srv := NewServer(cfg, store, hub, metrics, trigger, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store, hub
}

func TestServerState(t *testing.T) {
	ts, store, _ := newTestServer(t, DefaultServerConfig(), nil)
	v := 72
	store.Publish(Snapshot{IR: 51000, Red: 40000, BPMAvg: &v, Beat: true})

	resp, err := http.Get(ts.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"ir":51000,"red":40000,"bpm_instant":null,"bpm_avg":72,"beat":true}`, string(body))
}

func TestServerStateMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t, DefaultServerConfig(), nil)

	resp, err := http.Post(ts.URL+"/state", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerTrigger(t *testing.T) {
	calls := 0
	ts, _, _ := newTestServer(t, DefaultServerConfig(), func() bool {
		calls++
		return calls == 1
	})

	resp, err := http.Post(ts.URL+"/trigger", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Queue full.
	resp, err = http.Post(ts.URL+"/trigger", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/trigger")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, 2, calls)
}

func TestServerHealth(t *testing.T) {
	ts, store, _ := newTestServer(t, DefaultServerConfig(), nil)
	store.SetStatus(Status{Sensor: "faulted", Animation: "idle", Network: "degraded"})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "faulted", st.Sensor)
	assert.Equal(t, "degraded", st.Network)
}

func TestServerMetrics(t *testing.T) {
	ts, _, _ := newTestServer(t, DefaultServerConfig(), nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "heartglow_samples_total"))
}

func TestServerBasicAuth(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Username = "admin"
	cfg.Password = "secret"
	ts, _, _ := newTestServer(t, cfg, nil)

	resp, err := http.Get(ts.URL + "/state")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/state", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/state", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open for liveness checks.
	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerListen(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Address = "127.0.0.1:0"
	srv := NewServer(cfg, NewStore(), nil, nil, nil, nil)
	require.NoError(t, srv.Listen())
	defer srv.Shutdown(t.Context())

	assert.True(t, srv.IsRunning())
	resp, err := http.Get("http://" + srv.Address() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketStream(t *testing.T) {
	ts, store, hub := newTestServer(t, DefaultServerConfig(), nil)
	store.Publish(Snapshot{IR: 1})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The current snapshot arrives on connect.
	var snap Snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, 1, snap.IR)

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast(Snapshot{IR: 2, Beat: true})

	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, 2, snap.IR)
	assert.True(t, snap.Beat)
}
