// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relabs-tech/space_calibrator/internal/calibration"
	"github.com/relabs-tech/space_calibrator/internal/orientation"
	"github.com/relabs-tech/space_calibrator/internal/profile"
	"github.com/relabs-tech/space_calibrator/internal/tracking"
)

const (
	// statusPushInterval is how often an open websocket gets a status update.
	statusPushInterval = 250 * time.Millisecond
	// wsWriteWait bounds a single websocket write.
	wsWriteWait = 5 * time.Second
	// wsSendBuffer is how many responses a session queues before the
	// client counts as stalled and is disconnected.
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool, served to the same machine
	},
}

// WSMessage is a command sent by a websocket client.
type WSMessage struct {
	Action string `json:"action"` // start, cancel, edit, set_offset, save

	Reference *int32 `json:"reference,omitempty"`
	Target    *int32 `json:"target,omitempty"`

	Rotation      *orientation.EulerAngles `json:"rotation,omitempty"`
	TranslationCM *profile.Vec3            `json:"translation_cm,omitempty"`
}

// WSResponse is pushed to websocket clients.
type WSResponse struct {
	Type    string  `json:"type"` // status, message, error
	Status  *Status `json:"status,omitempty"`
	Message string  `json:"message,omitempty"`
}

var (
	errSessionClosed  = errors.New("websocket session closed")
	errSessionStalled = errors.New("websocket client stalled")
)

// historyStore is implemented by stores that keep more than the latest
// profile.
type historyStore interface {
	History(limit int) ([]*profile.Profile, error)
}

// ControlServer exposes the calibrator over HTTP and a websocket.
type ControlServer struct {
	loop   *Loop
	msgs   *calibration.MessageLog
	store  profile.Store
	logger *zap.SugaredLogger

	defaultReference tracking.DeviceID
	defaultTarget    tracking.DeviceID
}

// NewControlServer creates a server. msgs and store may be nil.
func NewControlServer(loop *Loop, msgs *calibration.MessageLog, store profile.Store,
	defaultReference, defaultTarget tracking.DeviceID, logger *zap.SugaredLogger,
) *ControlServer {
	return &ControlServer{
		loop:             loop,
		msgs:             msgs,
		store:            store,
		logger:           logger,
		defaultReference: defaultReference,
		defaultTarget:    defaultTarget,
	}
}

// Handler returns the HTTP routes.
func (s *ControlServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/profile", s.handleProfile)
	mux.HandleFunc("/api/profile/history", s.handleHistory)
	mux.HandleFunc("/ws/calibration", s.handleCalibrationWS)
	return mux
}

// ListenAndServe serves until ctx is done.
func (s *ControlServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Infow("control server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "control server")
	}
	return nil
}

func (s *ControlServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnw("json encode error", "error", err)
	}
}

func (s *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.loop.Status())
}

func (s *ControlServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "no profile store configured", http.StatusNotFound)
		return
	}
	p, err := s.store.Load()
	switch {
	case errors.Is(err, profile.ErrNoProfile):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, p)
}

func (s *ControlServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	hs, ok := s.store.(historyStore)
	if !ok {
		http.Error(w, "profile store keeps no history", http.StatusNotImplemented)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	profiles, err := hs.History(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if profiles == nil {
		profiles = []*profile.Profile{}
	}
	s.writeJSON(w, profiles)
}

// wsSession owns one websocket connection. Responses are queued and written
// by a single writer goroutine, so senders never wait on the network.
type wsSession struct {
	conn *websocket.Conn
	out  chan WSResponse
	done chan struct{}

	closeOnce sync.Once
}

func newWSSession(conn *websocket.Conn) *wsSession {
	return &wsSession{
		conn: conn,
		out:  make(chan WSResponse, wsSendBuffer),
		done: make(chan struct{}),
	}
}

// send queues resp. It never blocks: a client whose queue is full is
// disconnected.
func (ws *wsSession) send(resp WSResponse) error {
	select {
	case <-ws.done:
		return errSessionClosed
	default:
	}
	select {
	case ws.out <- resp:
		return nil
	default:
		ws.close()
		return errSessionStalled
	}
}

func (ws *wsSession) sendStatus(st Status) error {
	return ws.send(WSResponse{Type: "status", Status: &st})
}

func (ws *wsSession) sendError(message string) error {
	return ws.send(WSResponse{Type: "error", Message: message})
}

// close ends the session and unblocks the reader.
func (ws *wsSession) close() {
	ws.closeOnce.Do(func() {
		close(ws.done)
		_ = ws.conn.Close()
	})
}

// writeLoop writes queued responses until the session closes or a write
// fails.
func (ws *wsSession) writeLoop() {
	defer ws.close()
	for {
		select {
		case <-ws.done:
			return
		case resp := <-ws.out:
			if err := ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := ws.conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}
}

func (s *ControlServer) handleCalibrationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade error", "error", err)
		return
	}
	session := newWSSession(conn)
	defer session.close()
	go session.writeLoop()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if s.msgs != nil {
		unsubscribe := s.msgs.Subscribe(func(msg string) {
			if err := session.send(WSResponse{Type: "message", Message: msg}); errors.Is(err, errSessionStalled) {
				s.logger.Warnw("websocket client stalled, disconnecting")
			}
		})
		defer unsubscribe()
	}

	go func() {
		ticker := time.NewTicker(statusPushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-session.done:
				return
			case <-ticker.C:
				if err := session.sendStatus(s.loop.Status()); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	if err := session.sendStatus(s.loop.Status()); err != nil {
		return
	}

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warnw("websocket read error", "error", err)
			}
			return
		}

		if err := s.handleAction(ctx, msg); err != nil {
			if err := session.sendError(err.Error()); err != nil {
				return
			}
			continue
		}
		if err := session.sendStatus(s.loop.Status()); err != nil {
			return
		}
	}
}

// handleAction runs one websocket command on the loop.
func (s *ControlServer) handleAction(ctx context.Context, msg WSMessage) error {
	switch msg.Action {
	case "start":
		ref, target := s.defaultReference, s.defaultTarget
		if msg.Reference != nil {
			ref = tracking.DeviceID(*msg.Reference)
		}
		if msg.Target != nil {
			target = tracking.DeviceID(*msg.Target)
		}
		if !ref.Valid() || !target.Valid() {
			return errors.New("reference and target devices are required")
		}
		if ref == target {
			return errors.New("reference and target must be different devices")
		}
		s.logger.Infow("calibration requested", "reference", ref, "target", target)
		return s.loop.Do(ctx, func(c *calibration.Calibrator, _ time.Time) error {
			c.StartCalibration(ref, target)
			return nil
		})

	case "cancel":
		return s.loop.Do(ctx, func(c *calibration.Calibrator, _ time.Time) error {
			c.Cancel()
			return nil
		})

	case "edit":
		return s.loop.Do(ctx, func(c *calibration.Calibrator, _ time.Time) error {
			return c.BeginEditing()
		})

	case "set_offset":
		if msg.Rotation == nil || msg.TranslationCM == nil {
			return errors.New("set_offset needs rotation and translation_cm")
		}
		rot, cm := *msg.Rotation, msg.TranslationCM.Vector()
		return s.loop.Do(ctx, func(c *calibration.Calibrator, _ time.Time) error {
			return c.SetOffsets(rot, cm)
		})

	case "save":
		return s.loop.Do(ctx, func(c *calibration.Calibrator, now time.Time) error {
			return c.EndEditing(now)
		})

	default:
		return errors.Errorf("unknown action %q", msg.Action)
	}
}
