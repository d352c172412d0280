package server

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// handleChatWS runs the turn exchange over a WebSocket: the client
// sends ChatRequest frames and receives one ChatResponse (or
// ErrorResponse) frame per turn. Replies are delivered whole; there is
// no partial streaming.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		reply, err := s.orch.ProcessTurn(r.Context(), req.SessionID, req.UserMessage)
		if err != nil {
			s.noteFailure(err)
			_, body := errorBody(err)
			if werr := conn.WriteJSON(body); werr != nil {
				s.logger.Warn("websocket write failed", "error", werr)
				return
			}
			continue
		}

		s.noteSuccess()
		if err := conn.WriteJSON(ChatResponse{SessionID: req.SessionID, Reply: reply}); err != nil {
			s.logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}
