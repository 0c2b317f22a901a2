// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vescsim/internal/config"
	"github.com/Thermoquad/vescsim/internal/metrics"
	"github.com/Thermoquad/vescsim/internal/session"
	"github.com/Thermoquad/vescsim/internal/state"
)

func newTestServer(t *testing.T) (*Server, *state.State) {
	t.Helper()
	st := state.New()
	reg := metrics.NewRegistry()
	metrics.New(reg)
	srv := New(config.ControlConfig{Addr: "127.0.0.1:0", PushInterval: time.Hour}, st, session.NewStatistics(), metrics.Handler(reg), nil)
	return srv, st
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthzAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestGetState(t *testing.T) {
	srv, st := newTestServer(t)
	require.NoError(t, st.Set("rpm", 1500))

	rr := do(t, srv.Handler(), http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var got map[string]float64
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 1500.0, got["rpm"])
	assert.Equal(t, 60.0, got["voltage_filtered"])
}

func TestPutState(t *testing.T) {
	srv, st := newTestServer(t)

	rr := do(t, srv.Handler(), http.MethodPut, "/api/state", `{"rpm": 750, "float.headlight_brightness": 200}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 750.0, st.Values().RPM)
	assert.Equal(t, uint8(200), st.FloatPoll().HeadlightBrightness)

	rr = do(t, srv.Handler(), http.MethodPut, "/api/state", `{"rpm": 1, "nope": 2}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown field")
	assert.Equal(t, 750.0, st.Values().RPM)

	rr = do(t, srv.Handler(), http.MethodPut, "/api/state", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetFieldsAndStats(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := do(t, srv.Handler(), http.MethodGet, "/api/fields", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var fields []state.Field
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fields))
	require.NotEmpty(t, fields)
	assert.Equal(t, "voltage_filtered", fields[0].Name)

	rr = do(t, srv.Handler(), http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"connected":false`)
}

func TestWebSocket_UpdateAndPush(t *testing.T) {
	srv, st := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	// Initial snapshot
	msg := readMessage(t, conn)
	assert.Equal(t, 0.0, msg.State["rpm"])

	data, err := cbor.Marshal(map[string]float64{"rpm": -2500, "duty_cycle_now": 0.3})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))

	msg = readMessage(t, conn)
	assert.Empty(t, msg.Error)
	assert.Equal(t, -2500.0, msg.State["rpm"])
	assert.Equal(t, -2500.0, st.Values().RPM)

	data, err = cbor.Marshal(map[string]float64{"warp": 9})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
	msg = readMessage(t, conn)
	assert.Contains(t, msg.Error, "unknown field")
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, messageType)
	var msg Message
	require.NoError(t, cbor.Unmarshal(data, &msg))
	return msg
}
