// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/steffenpharai/zipbridge/pkg/device"
)

func startServer(t *testing.T) (*testEndpoints, *httptest.Server) {
	t.Helper()
	ep := startEndpoints(t, device.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.session.WaitReady(ctx); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	srv := httptest.NewServer(NewServer(ep.session, nil).Handler())
	t.Cleanup(srv.Close)
	return ep, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req wsRequest) wsResponse {
	t.Helper()
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp wsResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp
}

func TestServer_Healthz(t *testing.T) {
	_, srv := startServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 on a ready link, got %d", resp.StatusCode)
	}
}

func TestServer_HealthzNotReady(t *testing.T) {
	// A session that never completed its handshake reports unavailable
	gwEnd, devEnd := net.Pipe()
	session := NewSession(gwEnd, Config{ReplyTimeout: time.Second})
	t.Cleanup(func() {
		session.Close()
		devEnd.Close()
	})

	srv := httptest.NewServer(NewServer(session, nil).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 on an unready link, got %d", resp.StatusCode)
	}
}

func TestServer_StatusAndQueries(t *testing.T) {
	ep, srv := startServer(t)
	conn := dialWS(t, srv)

	resp := roundTrip(t, conn, wsRequest{ID: 1, Op: "status"})
	if !resp.OK || resp.Link != "ready" {
		t.Errorf("status: %+v", resp)
	}

	resp = roundTrip(t, conn, wsRequest{ID: 2, Op: "battery"})
	if !resp.OK || resp.Value == nil || *resp.Value != 7900 {
		t.Errorf("battery: %+v", resp)
	}

	ep.sensors.SetDistanceCm(10)
	resp = roundTrip(t, conn, wsRequest{ID: 3, Op: "obstacle"})
	if !resp.OK || resp.Bool == nil || !*resp.Bool {
		t.Errorf("obstacle: %+v", resp)
	}

	resp = roundTrip(t, conn, wsRequest{ID: 4, Op: "servo", Angle: 120})
	if !resp.OK {
		t.Errorf("servo: %+v", resp)
	}

	resp = roundTrip(t, conn, wsRequest{ID: 5, Op: "diag"})
	if !resp.OK || len(resp.Lines) != 2 {
		t.Errorf("diag: %+v", resp)
	}
}

func TestServer_MoveAndStop(t *testing.T) {
	ep, srv := startServer(t)
	conn := dialWS(t, srv)

	resp := roundTrip(t, conn, wsRequest{ID: 1, Op: "move", Velocity: 150, TTLMs: 400})
	if !resp.OK {
		t.Fatalf("move: %+v", resp)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && ep.motor.Current().IsZero() {
		time.Sleep(10 * time.Millisecond)
	}
	if ep.motor.Current().IsZero() {
		t.Fatal("move never reached the motor")
	}

	resp = roundTrip(t, conn, wsRequest{ID: 2, Op: "stop"})
	if !resp.OK {
		t.Fatalf("stop: %+v", resp)
	}
	if !ep.motor.Current().IsZero() {
		t.Error("motor still driven after stop")
	}
}

func TestServer_UnknownOp(t *testing.T) {
	_, srv := startServer(t)
	conn := dialWS(t, srv)

	resp := roundTrip(t, conn, wsRequest{ID: 9, Op: "teleport"})
	if resp.OK || !strings.Contains(resp.Error, "unknown op") {
		t.Errorf("expected unknown-op error, got %+v", resp)
	}
	if resp.ID != 9 {
		t.Errorf("response id mismatch: %d", resp.ID)
	}
}

func TestServer_MacroRejectionPropagates(t *testing.T) {
	_, srv := startServer(t)
	conn := dialWS(t, srv)

	resp := roundTrip(t, conn, wsRequest{ID: 1, Op: "macro_start", Macro: 99, Intensity: 128, TTLMs: 2000})
	if resp.OK || resp.Error == "" {
		t.Errorf("unknown macro must propagate as an error response: %+v", resp)
	}
}
