package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/michaelbrown/rex/internal/runtime"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // X-API-Key is checked before the upgrade
	},
}

// wsOutgoing is a frame sent to the client: an observation, or the same
// transferred error a plain request would get.
type wsOutgoing struct {
	Type        string                     `json:"type"`
	Observation *runtime.Observation       `json:"observation,omitempty"`
	Error       *runtime.ExceptionTransfer `json:"error,omitempty"`
}

// handleWebSocket streams actions for one session over a single connection.
// Each text frame is an Action; the session field is taken from the path.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read error", "session", name, "error", err)
			}
			return
		}

		var action runtime.Action
		if err := json.Unmarshal(data, &action); err != nil {
			s.wsWriteError(conn, fmt.Errorf("%w: invalid JSON: %v", runtime.ErrInvalidAction, err))
			continue
		}
		action.Session = name

		obs, err := s.runAction(r, &action)
		if err != nil {
			s.wsWriteError(conn, err)
			continue
		}
		s.wsWriteJSON(conn, wsOutgoing{Type: "observation", Observation: obs})
	}
}

func (s *Server) wsWriteError(conn *websocket.Conn, err error) {
	transfer := runtime.NewExceptionTransfer(err, "")
	s.wsWriteJSON(conn, wsOutgoing{Type: "error", Error: &transfer})
}

func (s *Server) wsWriteJSON(conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("websocket marshal error", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("websocket write error", "error", err)
	}
}
