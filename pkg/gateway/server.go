// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsRequest is one client request over the session server socket.
// Fields beyond id/op are op-specific; unused ones are omitted.
type wsRequest struct {
	ID        int    `json:"id"`
	Op        string `json:"op"`
	Velocity  int    `json:"velocity,omitempty"`
	TurnRate  int    `json:"turn,omitempty"`
	TTLMs     int    `json:"ttl,omitempty"`
	Angle     int    `json:"angle,omitempty"`
	Left      int    `json:"left,omitempty"`
	Right     int    `json:"right,omitempty"`
	Selector  int    `json:"selector,omitempty"`
	Value     int    `json:"value,omitempty"`
	Macro     int    `json:"macro,omitempty"`
	Intensity int    `json:"intensity,omitempty"`
	Channel   int    `json:"channel,omitempty"`
}

// wsResponse answers one request, matched by id.
type wsResponse struct {
	ID        int        `json:"id"`
	OK        bool       `json:"ok"`
	Error     string     `json:"error,omitempty"`
	Value     *int       `json:"value,omitempty"`
	Bool      *bool      `json:"bool,omitempty"`
	Lines     []string   `json:"lines,omitempty"`
	Link      string     `json:"link,omitempty"`
	Telemetry *Telemetry `json:"telemetry,omitempty"`
}

// Server exposes one robot session to WebSocket clients. Several
// clients may connect; their requests funnel into the shared session,
// which serializes them onto the transport.
type Server struct {
	session  *Session
	log      *slog.Logger
	timeout  time.Duration
	upgrader websocket.Upgrader
}

// NewServer wraps a session for WebSocket access.
func NewServer(session *Session, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		session: session,
		log:     log,
		timeout: session.cfg.ReplyTimeout + time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving /ws and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.session.LinkState()
	status := http.StatusOK
	if state != LinkReady {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"link": state.String()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.log.Info("client connected", "remote", r.RemoteAddr)

	// Writes are serialized: request handlers run concurrently so a
	// slow sensor query cannot block a stop.
	var writeMu sync.Mutex
	send := func(resp wsResponse) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(resp); err != nil {
			s.log.Debug("client write failed", "error", err)
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			s.log.Info("client disconnected", "remote", r.RemoteAddr)
			return
		}
		wg.Add(1)
		go func(req wsRequest) {
			defer wg.Done()
			send(s.dispatch(req))
		}(req)
	}
}

func (s *Server) dispatch(req wsRequest) wsResponse {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	resp := wsResponse{ID: req.ID, OK: true}
	var err error

	switch req.Op {
	case "status":
		resp.Link = s.session.LinkState().String()
		if tel, ok := s.session.LastTelemetry(); ok {
			resp.Telemetry = &tel
		}

	case "move":
		err = s.session.Move(req.Velocity, req.TurnRate, req.TTLMs)

	case "stop":
		err = s.session.Stop(ctx)

	case "stream_start":
		err = s.session.StartStreaming()

	case "stream_stop":
		s.session.StopStreaming()

	case "setpoint":
		err = s.session.UpdateSetpoint(req.Velocity, req.TurnRate)

	case "servo":
		err = s.session.Servo(ctx, req.Angle)

	case "direct_pwm":
		err = s.session.DirectPWM(ctx, req.Left, req.Right)

	case "macro_start":
		err = s.session.StartMacro(ctx, req.Macro, req.Intensity, req.TTLMs)

	case "macro_cancel":
		err = s.session.CancelMacro(ctx)

	case "drive_config":
		err = s.session.SetDriveConfig(ctx, req.Selector, req.Value)

	case "reinit":
		err = s.session.ReInit(ctx)

	case "obstacle":
		var ahead bool
		ahead, err = s.session.ObstacleAhead(ctx)
		resp.Bool = &ahead

	case "distance":
		var cm int
		cm, err = s.session.DistanceCm(ctx)
		resp.Value = &cm

	case "line":
		var v int
		v, err = s.session.LineSensor(ctx, req.Channel)
		resp.Value = &v

	case "battery":
		var mv int
		mv, err = s.session.BatteryMillivolts(ctx)
		resp.Value = &mv

	case "diag":
		resp.Lines, err = s.session.Diagnostics(ctx)

	default:
		resp.OK = false
		resp.Error = "unknown op: " + req.Op
		return resp
	}

	if err != nil {
		resp.OK = false
		resp.Error = err.Error()
		resp.Bool = nil
		resp.Value = nil
	}
	return resp
}
