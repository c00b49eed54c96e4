package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yetiwatch/yetiwatch/pkg/controller"
	"github.com/yetiwatch/yetiwatch/pkg/energy"
	"github.com/yetiwatch/yetiwatch/pkg/mqtt"
	"github.com/yetiwatch/yetiwatch/pkg/storage"
	"github.com/yetiwatch/yetiwatch/pkg/types"
)

type fakeDevice struct {
	mu       sync.Mutex
	snap     types.DeviceSnapshot
	info     types.DeviceInfo
	stateErr error
	setErr   error
	infoErr  error
	sets     int
}

func (d *fakeDevice) GetState(ctx context.Context) (types.DeviceSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stateErr != nil {
		return types.DeviceSnapshot{}, d.stateErr
	}
	s := d.snap
	s.CapturedAt = time.Now()
	return s, nil
}

func (d *fakeDevice) SetState(ctx context.Context, field string, value int) (types.DeviceSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.setErr != nil {
		return types.DeviceSnapshot{}, d.setErr
	}
	d.sets++
	switch field {
	case types.FieldACPort:
		d.snap.ACPortStatus = value
	case types.FieldChargeLimit:
		d.snap.ChargeLimit = value
	}
	s := d.snap
	s.CapturedAt = time.Now()
	return s, nil
}

func (d *fakeDevice) GetDeviceInfo(ctx context.Context) (types.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.infoErr != nil {
		return types.DeviceInfo{}, d.infoErr
	}
	return d.info, nil
}

func (d *fakeDevice) BaseURL() string { return "http://yeti.local" }

func (d *fakeDevice) SetBaseURL(u string) error { return nil }

func (d *fakeDevice) setCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sets
}

func (d *fakeDevice) setSOC(pct int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.SOCPercent = pct
}

func newTestDevice() *fakeDevice {
	return &fakeDevice{
		snap: types.DeviceSnapshot{
			ThingName:    "yeti34234d",
			SOCPercent:   80,
			ChargeLimit:  100,
			WifiStrength: -47,
			SSID:         "workshop",
			IPAddr:       "192.168.4.16",
		},
		info: types.DeviceInfo{
			Name:  "yeti34234d",
			Model: "Yeti 1400",
		},
	}
}

func newTestServer(dev *fakeDevice) (*Server, *controller.Controller, *storage.Memory) {
	db := storage.NewMemory()
	ctrl := controller.New(dev, db, &mqtt.Publisher{}, 20*time.Millisecond, time.Minute)
	srv := &Server{
		ctrl:       ctrl,
		bypassAuth: true,
		serverName: "yetiwatch/test",
		liveConns:  map[chan types.DeviceSnapshot]struct{}{},
	}
	ctrl.Subscribe(srv.broadcastSnapshot)
	return srv, ctrl, db
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body), "error body should be JSON")
	return body.Error
}

func TestStatusEndpoints(t *testing.T) {
	ctx := context.Background()

	t.Run("Status Before First Refresh", func(t *testing.T) {
		srv, _, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/api/status")
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "no snapshot yet", decodeError(t, resp))
	})

	t.Run("Status After Refresh", func(t *testing.T) {
		srv, ctrl, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		_, err := ctrl.Refresh(ctx)
		require.NoError(t, err, "refresh should succeed")

		resp, err := http.Get(ts.URL + "/api/status")
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "yetiwatch/test", resp.Header.Get("Server"))
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

		var body statusResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body), "body should decode")
		assert.Equal(t, "yeti34234d", body.Snapshot.ThingName)
		assert.Equal(t, 80, body.Snapshot.SOCPercent)
		assert.False(t, body.Stale)
	})

	t.Run("Refresh Returns Snapshot", func(t *testing.T) {
		srv, _, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/api/refresh", "application/json", nil)
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body statusResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body), "body should decode")
		assert.Equal(t, 80, body.Snapshot.SOCPercent)
	})

	t.Run("Refresh Device Timeout", func(t *testing.T) {
		dev := newTestDevice()
		dev.stateErr = context.DeadlineExceeded
		srv, _, _ := newTestServer(dev)
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/api/refresh", "application/json", nil)
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	})

	t.Run("Refresh Device Error", func(t *testing.T) {
		dev := newTestDevice()
		dev.stateErr = errors.New("connection reset")
		srv, _, _ := newTestServer(dev)
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/api/refresh", "application/json", nil)
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})

	t.Run("Refresh Requires POST", func(t *testing.T) {
		srv, _, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/api/refresh")
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("Network", func(t *testing.T) {
		srv, ctrl, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/api/network")
		require.NoError(t, err, "request should succeed")
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		_, err = ctrl.Refresh(ctx)
		require.NoError(t, err, "refresh should succeed")

		resp, err = http.Get(ts.URL + "/api/network")
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body types.NetworkStatus
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body), "body should decode")
		assert.Equal(t, "workshop", body.SSID)
		assert.Equal(t, "excellent", body.Quality)
	})

	t.Run("Device", func(t *testing.T) {
		srv, _, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/api/device")
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body types.DeviceInfo
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body), "body should decode")
		assert.Equal(t, "Yeti 1400", body.Model)
	})

	t.Run("Device Unreachable", func(t *testing.T) {
		dev := newTestDevice()
		dev.infoErr = errors.New("connection refused")
		srv, _, _ := newTestServer(dev)
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/api/device")
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})

	t.Run("Energy", func(t *testing.T) {
		srv, ctrl, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		_, err := ctrl.Refresh(ctx)
		require.NoError(t, err, "refresh should succeed")

		resp, err := http.Get(ts.URL + "/api/energy")
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body energy.Report
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body), "body should decode")
		assert.Equal(t, 80, body.SOCPercent)
		assert.Equal(t, 1, body.Samples)
	})

	t.Run("Healthz", func(t *testing.T) {
		srv, _, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func postCommand(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/api/command", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err, "request should succeed")
	return resp
}

func TestCommandEndpoint(t *testing.T) {
	ctx := context.Background()

	t.Run("Applied Without Submit", func(t *testing.T) {
		dev := newTestDevice()
		dev.snap.ACPortStatus = 1
		srv, ctrl, _ := newTestServer(dev)
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		_, err := ctrl.Refresh(ctx)
		require.NoError(t, err, "refresh should succeed")

		resp := postCommand(t, ts.URL, `{"field":"acPortStatus","value":"on"}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var out types.CommandOutcome
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out), "body should decode")
		assert.Equal(t, types.OutcomeApplied, out.Status)
		assert.Zero(t, out.Polls, "no verification should be needed")
		assert.Zero(t, dev.setCount(), "an already-applied value should not be submitted")

		recs, err := ctrl.Commands(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		require.NoError(t, err, "command history should succeed")
		require.Len(t, recs, 1, "the outcome should be recorded")
	})

	t.Run("Rejected Invalid Value", func(t *testing.T) {
		srv, ctrl, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		_, err := ctrl.Refresh(ctx)
		require.NoError(t, err, "refresh should succeed")

		resp := postCommand(t, ts.URL, `{"field":"chargeLimit","value":200}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var out types.CommandOutcome
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out), "body should decode")
		assert.Equal(t, types.OutcomeRejected, out.Status)
		assert.Equal(t, types.RejectInvalidValue, out.Reason)
	})

	t.Run("Rejected Unknown Field", func(t *testing.T) {
		srv, _, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		resp := postCommand(t, ts.URL, `{"field":"fluxCapacitor","value":3}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var out types.CommandOutcome
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out), "body should decode")
		assert.Equal(t, types.OutcomeRejected, out.Status)
		assert.Equal(t, types.RejectInvalidValue, out.Reason)
		assert.Contains(t, out.Detail, "unknown field")
	})

	t.Run("Bad Value Type", func(t *testing.T) {
		srv, _, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		resp := postCommand(t, ts.URL, `{"field":"acPortStatus","value":"sideways"}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, decodeError(t, resp), "not a valid toggle value")
	})

	t.Run("Missing Field", func(t *testing.T) {
		srv, _, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		resp := postCommand(t, ts.URL, `{"value":1}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "field is required", decodeError(t, resp))
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		srv, _, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		resp := postCommand(t, ts.URL, `{`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Transport Failure", func(t *testing.T) {
		dev := newTestDevice()
		srv, ctrl, _ := newTestServer(dev)
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		_, err := ctrl.Refresh(ctx)
		require.NoError(t, err, "refresh should succeed")
		dev.mu.Lock()
		dev.setErr = errors.New("connection refused")
		dev.mu.Unlock()

		resp := postCommand(t, ts.URL, `{"field":"acPortStatus","value":1}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

		var out types.CommandOutcome
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out), "body should decode")
		assert.Equal(t, types.OutcomeRejected, out.Status)
		assert.Equal(t, types.RejectTransportFailure, out.Reason)
	})

	t.Run("Cancelled Request Times Out", func(t *testing.T) {
		srv, _, _ := newTestServer(newTestDevice())

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		req := httptest.NewRequest(http.MethodPost, "/api/command",
			bytes.NewBufferString(`{"field":"acPortStatus","value":1}`)).WithContext(cancelled)
		rr := httptest.NewRecorder()
		srv.handleCommand(rr, req)

		assert.Equal(t, http.StatusGatewayTimeout, rr.Code)

		var out types.CommandOutcome
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&out), "body should decode")
		assert.Equal(t, types.OutcomeTimedOut, out.Status)
	})
}

func TestHistoryEndpoints(t *testing.T) {
	ctx := context.Background()

	t.Run("Telemetry History", func(t *testing.T) {
		srv, ctrl, db := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		_, err := ctrl.Refresh(ctx)
		require.NoError(t, err, "refresh should succeed")

		base := time.Now().Add(-2 * time.Hour)
		for i := 0; i < 3; i++ {
			snap := types.DeviceSnapshot{ThingName: "yeti34234d", SOCPercent: 70 + i, CapturedAt: base.Add(time.Duration(i) * time.Minute)}
			require.NoError(t, db.InsertTelemetry(ctx, "yeti34234d", snap), "insert should succeed")
		}

		u := ts.URL + "/api/history?start=" + base.Add(-time.Minute).UTC().Format(time.RFC3339) +
			"&end=" + base.Add(30*time.Minute).UTC().Format(time.RFC3339)
		resp, err := http.Get(u)
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var recs []types.DeviceSnapshot
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs), "body should decode")
		assert.Len(t, recs, 3, "only the rows in the window should come back")
	})

	t.Run("Default Range Is Last Day", func(t *testing.T) {
		srv, ctrl, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		_, err := ctrl.Refresh(ctx)
		require.NoError(t, err, "refresh should succeed")

		resp, err := http.Get(ts.URL + "/api/history")
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "private, max-age=60", resp.Header.Get("Cache-Control"))

		var recs []types.DeviceSnapshot
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs), "body should decode")
		assert.NotEmpty(t, recs, "the refresh should have persisted a snapshot")
	})

	t.Run("Past Range Cached Longer", func(t *testing.T) {
		srv, _, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		end := time.Now().AddDate(0, 0, -2).Truncate(time.Hour)
		start := end.Add(-12 * time.Hour)
		u := ts.URL + "/api/history?start=" + start.UTC().Format(time.RFC3339) +
			"&end=" + end.UTC().Format(time.RFC3339)
		resp, err := http.Get(u)
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "private, max-age=86400", resp.Header.Get("Cache-Control"))
	})

	t.Run("Invalid Ranges", func(t *testing.T) {
		srv, _, _ := newTestServer(newTestDevice())
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		for name, query := range map[string]string{
			"end before start": "?start=2026-08-20T12:00:00Z&end=2026-08-20T00:00:00Z",
			"over 24 hours":    "?start=2026-08-18T00:00:00Z&end=2026-08-20T00:00:00Z",
			"bad timestamp":    "?start=yesterday&end=2026-08-20T00:00:00Z",
		} {
			resp, err := http.Get(ts.URL + "/api/history" + query)
			require.NoError(t, err, "request should succeed")
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%s should be rejected", name)
		}
	})

	t.Run("Command History", func(t *testing.T) {
		dev := newTestDevice()
		dev.snap.ACPortStatus = 1
		srv, ctrl, _ := newTestServer(dev)
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		_, err := ctrl.Refresh(ctx)
		require.NoError(t, err, "refresh should succeed")
		out := ctrl.Dispatch(ctx, types.CommandRequest{Field: types.FieldACPort, Value: 1})
		require.Equal(t, types.OutcomeApplied, out.Status, "dispatch should apply")

		resp, err := http.Get(ts.URL + "/api/commands")
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var recs []types.CommandOutcome
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs), "body should decode")
		require.Len(t, recs, 1)
		assert.Equal(t, out.ID, recs[0].ID)
	})
}

func TestAuthMiddleware(t *testing.T) {
	newAuthServer := func() (*Server, *httptest.Server) {
		srv, _, _ := newTestServer(newTestDevice())
		srv.bypassAuth = false
		srv.oidcAudience = "test-audience"
		srv.oidcVerifiers = map[string]tokenVerifier{
			"test": func(ctx context.Context, raw string) (string, string, error) {
				if raw == "valid-token" {
					return "user@example.com", "subject-1", nil
				}
				return "", "", assert.AnError
			},
		}
		return srv, httptest.NewServer(srv.setupHandler())
	}

	t.Run("Missing Header", func(t *testing.T) {
		_, ts := newAuthServer()
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/api/energy")
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Invalid Scheme", func(t *testing.T) {
		_, ts := newAuthServer()
		defer ts.Close()

		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/energy", nil)
		require.NoError(t, err, "building request should succeed")
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Invalid Token", func(t *testing.T) {
		_, ts := newAuthServer()
		defer ts.Close()

		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/energy", nil)
		require.NoError(t, err, "building request should succeed")
		req.Header.Set("Authorization", "Bearer wrong-token")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Valid Token", func(t *testing.T) {
		_, ts := newAuthServer()
		defer ts.Close()

		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/energy", nil)
		require.NoError(t, err, "building request should succeed")
		req.Header.Set("Authorization", "Bearer valid-token")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Healthz Bypasses Auth", func(t *testing.T) {
		_, ts := newAuthServer()
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err, "request should succeed")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestLiveStream(t *testing.T) {
	ctx := context.Background()
	dev := newTestDevice()
	srv, ctrl, _ := newTestServer(dev)
	ts := httptest.NewServer(srv.setupHandler())
	defer ts.Close()

	_, err := ctrl.Refresh(ctx)
	require.NoError(t, err, "refresh should succeed")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/live"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "dial should succeed")
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// the first message is the retained snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var snap types.DeviceSnapshot
	require.NoError(t, conn.ReadJSON(&snap), "should receive the retained snapshot")
	assert.Equal(t, 80, snap.SOCPercent)

	// a new capture is streamed as it happens
	dev.setSOC(81)
	_, err = ctrl.Refresh(ctx)
	require.NoError(t, err, "refresh should succeed")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&snap), "should receive the new snapshot")
	assert.Equal(t, 81, snap.SOCPercent)

	require.NoError(t, conn.Close(), "close should succeed")
	require.Eventually(t, func() bool {
		srv.liveMu.Lock()
		defer srv.liveMu.Unlock()
		return len(srv.liveConns) == 0
	}, time.Second, 10*time.Millisecond, "closing the socket should unregister the connection")
}
