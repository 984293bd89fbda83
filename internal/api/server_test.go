// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowbridge/internal/bridge"
	"grimm.is/flowbridge/internal/clock"
	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/metrics"
	"grimm.is/flowbridge/internal/testutil"
)

func tcpPacket(t *testing.T, src, dst string, sport, dport uint16) []byte {
	return testutil.TCP(t, src, dst, sport, dport, []byte("hello"))
}

type fixture struct {
	ctrl   *bridge.Controller
	server *Server
	reg    *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(nil)
	require.NoError(t, m.Register(reg))

	cfg := bridge.DefaultConfig()
	cfg.TargetAddr = netip.MustParseAddr("10.0.0.100")
	ctrl, err := bridge.New(cfg, bridge.Options{
		Clock:       clock.NewMockClock(time.Unix(1000, 0)),
		Metrics:     m,
		ManualSweep: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })

	s, err := NewServer(ServerOptions{
		Bridge:       ctrl,
		Gatherer:     reg,
		StreamPeriod: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return &fixture{ctrl: ctrl, server: s, reg: reg}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	return rr
}

func TestNewServer_RequiresBridge(t *testing.T) {
	_, err := NewServer(ServerOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestHandleStatus(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, "GET", "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var st bridge.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, bridge.Version, st.Version)
	assert.Equal(t, bridge.StateActive, st.State)
	assert.True(t, st.Active)
	assert.Equal(t, "10.0.0.100", st.TargetAddr.String())
	assert.Equal(t, uint16(8080), st.TargetPort)
	assert.Equal(t, 100, st.MaxConnections)
	assert.Equal(t, f.ctrl.InstanceID(), st.InstanceID)
}

func TestResponsesCarryMAC(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, "GET", "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rr.Code)

	want := hex.EncodeToString(f.ctrl.GlobalKeyMAC(rr.Body.Bytes()))
	assert.Equal(t, want, rr.Header().Get(MACHeader))

	// Errors are signed too.
	rr = f.do(t, "PUT", "/api/v1/target", "not-an-ip")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	want = hex.EncodeToString(f.ctrl.GlobalKeyMAC(rr.Body.Bytes()))
	assert.Equal(t, want, rr.Header().Get(MACHeader))
}

func TestHandleFlows(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, "GET", "/api/v1/flows", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var empty FlowsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &empty))
	assert.Equal(t, 0, empty.Count)
	assert.NotNil(t, empty.Flows)

	f.ctrl.Classify(tcpPacket(t, "10.0.0.1", "10.0.0.100", 40000, 8080))

	rr = f.do(t, "GET", "/api/v1/flows", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp FlowsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "10.0.0.1", resp.Flows[0].SrcAddr.String())
	assert.Equal(t, uint16(40000), resp.Flows[0].SrcPort)
	assert.NotContains(t, rr.Body.String(), "session")
}

func TestHandleSetActive(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		code   int
		active bool
	}{
		{"json false", `{"active":false}`, http.StatusOK, false},
		{"json true", `{"active":true}`, http.StatusOK, true},
		{"raw zero", "0", http.StatusOK, false},
		{"raw one with newline", "1\n", http.StatusOK, true},
		{"raw word", "false", http.StatusOK, false},
		{"json missing field", `{}`, http.StatusBadRequest, true},
		{"garbage", "maybe", http.StatusBadRequest, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rr := f.do(t, "PUT", "/api/v1/active", tt.body)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
			assert.Equal(t, tt.active, f.ctrl.Status().Active)
		})
	}
}

func TestHandleSetTarget(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, "PUT", "/api/v1/target", `{"target_addr":"10.0.0.200"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "10.0.0.200", f.ctrl.Status().TargetAddr.String())

	rr = f.do(t, "POST", "/api/v1/target", "10.0.0.201")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "10.0.0.201", f.ctrl.Status().TargetAddr.String())

	for _, bad := range []string{"256.1.1.1", "::1", `{"target_addr":""}`, `{"target_addr":`} {
		rr = f.do(t, "PUT", "/api/v1/target", bad)
		assert.Equal(t, http.StatusBadRequest, rr.Code, bad)
	}
	assert.Equal(t, "10.0.0.201", f.ctrl.Status().TargetAddr.String())

	var resp ErrorResponse
	rr = f.do(t, "PUT", "/api/v1/target", "256.1.1.1")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "validation", resp.Kind)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestControlAfterClose(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Close())

	rr := f.do(t, "PUT", "/api/v1/active", "1")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = f.do(t, "GET", "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var st bridge.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, 0, st.ConnectionCount)
	assert.False(t, st.State.Running())
}

func TestRequestBodyLimit(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, "PUT", "/api/v1/target", strings.Repeat("1", 8192))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestHandleTraffic(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, "GET", "/api/v1/traffic", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	collector := metrics.NewCollector(f.ctrl.Totals, nil, time.Second)
	f.ctrl.Classify(tcpPacket(t, "10.0.0.1", "10.0.0.100", 40000, 8080))
	collector.Sample()

	s, err := NewServer(ServerOptions{Bridge: f.ctrl, Traffic: collector, Gatherer: f.reg})
	require.NoError(t, err)

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/traffic", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var stats metrics.TrafficStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Flows)
	assert.NotZero(t, stats.BytesReceived)
}

func TestHandleStatusText(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Classify(tcpPacket(t, "10.0.0.1", "10.0.0.100", 40000, 8080))

	rr := f.do(t, "GET", "/status.txt", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()

	assert.Contains(t, body, "Version: 1.0.0")
	assert.Contains(t, body, "Bridge Active: Yes")
	assert.Contains(t, body, "Target IP: 10.0.0.100")
	assert.Contains(t, body, "Active Connections: 1/100")
	assert.Contains(t, body, "Source IP       Dest IP         Src Port Dest Port Protocol")
	assert.Contains(t, body, "10.0.0.1        10.0.0.100      40000    8080      TCP")
}

// lateFlowBridge admits a packet after Status has been read, so Flows sees
// one more flow than the status count.
type lateFlowBridge struct {
	*bridge.Controller
	pkt []byte
}

func (b lateFlowBridge) Status() bridge.Status {
	st := b.Controller.Status()
	b.Controller.Classify(b.pkt)
	return st
}

func TestHandleStatusText_CountMatchesRows(t *testing.T) {
	f := newFixture(t)
	s, err := NewServer(ServerOptions{
		Bridge:   lateFlowBridge{Controller: f.ctrl, pkt: tcpPacket(t, "10.0.0.7", "10.0.0.100", 41000, 8080)},
		Gatherer: f.reg,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/status.txt", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, "Active Connections: 1/100")
	assert.Contains(t, body, "10.0.0.7        10.0.0.100      41000    8080      TCP")
}

func TestWriteStatusText_NoFlows(t *testing.T) {
	var buf bytes.Buffer
	st := bridge.Status{Version: "1.0.0", TargetAddr: netip.MustParseAddr("192.168.1.100"), TargetPort: 8080}
	require.NoError(t, WriteStatusText(&buf, st, nil))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, "Bridge Active: No", lines[4])
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "---------"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Classify(tcpPacket(t, "10.0.0.1", "10.0.0.100", 40000, 8080))

	rr := f.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `flowbridge_packets_total{outcome="created"} 1`)
	assert.Contains(t, rr.Body.String(), "flowbridge_active 1")
}

func TestFlowStream_RequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, "GET", "/api/v1/flows/stream", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFlowStream(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Classify(tcpPacket(t, "10.0.0.1", "10.0.0.100", 40000, 8080))

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/flows/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, bridge.Version, msg.Status.Version)
	require.Len(t, msg.Flows, 1)
	assert.Equal(t, uint16(40000), msg.Flows[0].SrcPort)
	assert.Nil(t, msg.Traffic)

	// A second frame follows on the next tick.
	require.NoError(t, conn.ReadJSON(&msg))

	f.server.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
			break
		}
	}
}

func TestClient(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Classify(tcpPacket(t, "10.0.0.1", "10.0.0.100", 40000, 8080))

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	ctx := context.Background()
	c := NewClient(strings.TrimPrefix(ts.URL, "http://"))

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, bridge.StateActive, st.State)
	assert.Equal(t, 1, st.ConnectionCount)

	flows, err := c.Flows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flows.Count)

	st, err = c.SetActive(ctx, false)
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.Equal(t, bridge.StateInactive, st.State)

	st, err = c.SetTarget(ctx, "10.0.0.50")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.50", st.TargetAddr.String())

	_, err = c.SetTarget(ctx, "nope")
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	assert.Contains(t, err.Error(), "Failed to set target address")
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindUnavailable, errors.GetKind(err))
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, ln) }()

	c := NewClient(ln.Addr().String())
	require.Eventually(t, func() bool {
		_, err := c.Status(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind errors.Kind
		want int
	}{
		{errors.KindValidation, http.StatusBadRequest},
		{errors.KindNotFound, http.StatusNotFound},
		{errors.KindConflict, http.StatusConflict},
		{errors.KindUnavailable, http.StatusServiceUnavailable},
		{errors.KindCapacity, http.StatusInternalServerError},
		{errors.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(errors.New(tt.kind, "x")); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.kind, got, tt.want)
		}
		if tt.kind != errors.KindCapacity && tt.kind != errors.KindInternal {
			if got := kindFor(tt.want); got != tt.kind {
				t.Errorf("kindFor(%d) = %v, want %v", tt.want, got, tt.kind)
			}
		}
	}
}
