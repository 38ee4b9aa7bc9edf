package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/treetest-engine/internal/navigation"
	"github.com/terra-clan/treetest-engine/internal/study"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 50 * time.Second
	wsWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NavigationMessage is exchanged over the navigation websocket. Clients send
// an action type with its arguments; the server answers with "state" or
// "error", both carrying the current session view.
type NavigationMessage struct {
	Type       string                  `json:"type"`
	NodeID     *int                    `json:"node_id,omitempty"`
	Path       string                  `json:"path,omitempty"`
	Confidence *int                    `json:"confidence,omitempty"`
	State      *navigation.SessionView `json:"state,omitempty"`
	Error      *apiError               `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg NavigationMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal navigation message", "error", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("failed to send navigation message", "error", err)
		return err
	}
	return nil
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (s *Server) handleNavigationWS(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	pid := sess.ParticipantID()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("navigation websocket connected", "participant_id", pid)

	ws := &wsConn{conn: conn}
	view := sess.View()
	if err := ws.send(NavigationMessage{Type: "state", State: &view}); err != nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Keepalive pings
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ws.ping(); err != nil {
					slog.Debug("websocket ping failed", "error", err)
					conn.Close()
					return
				}
			}
		}
	}()

	// Read actions -> apply -> send state
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket read error", "error", err)
				}
				return
			}

			if err := ws.send(s.applyMessage(ctx, pid, message)); err != nil {
				return
			}
		}
	}()

	wg.Wait()
	slog.Info("navigation websocket disconnected", "participant_id", pid)
}

// applyMessage runs one client message and builds the reply
func (s *Server) applyMessage(ctx context.Context, pid string, message []byte) NavigationMessage {
	var msg NavigationMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return NavigationMessage{
			Type:  "error",
			Error: &apiError{Code: "invalid_message", Message: "invalid JSON message"},
		}
	}

	action := study.Action{
		Type:       study.ActionType(msg.Type),
		NodeID:     msg.NodeID,
		Path:       msg.Path,
		Confidence: msg.Confidence,
	}
	if err := s.validator.Validate(&action); err != nil {
		_, e := classifyError(err)
		return NavigationMessage{Type: "error", Error: e}
	}

	view, err := s.manager.Act(ctx, pid, action)
	if err != nil {
		_, e := classifyError(err)
		reply := NavigationMessage{Type: "error", Error: e}
		if view.ParticipantID != "" {
			reply.State = &view
		}
		return reply
	}
	return NavigationMessage{Type: "state", State: &view}
}
