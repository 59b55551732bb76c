package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/coder/websocket"
	"github.com/matheodrd/httphelper/handler"
	"net/http"
	"webchat/internal/ws"
)

func (s *Server) wsHandler() http.HandlerFunc {
	return handler.Handler(func(w http.ResponseWriter, r *http.Request) error {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: s.Config.AllowedOrigins,
		})
		if err != nil {
			// Accept has already written the HTTP error.
			s.logger.Debug("websocket accept failed", "remote", r.RemoteAddr, "error", err)
			return nil
		}

		if err := s.WebsocketManager.HandleNewConnection(ws.NewConn(conn, s.Config.ReadLimit)); err != nil {
			if errors.Is(err, ws.ErrServerClosed) {
				s.logger.Debug("refused connection during shutdown", "remote", r.RemoteAddr)
			} else {
				s.logger.Error("failed to start session", "error", err)
			}
		}
		return nil
	})
}

type usersResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

func (s *Server) usersHandler() http.HandlerFunc {
	return handler.Handler(func(w http.ResponseWriter, _ *http.Request) error {
		users := s.WebsocketManager.Users()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		if err := json.NewEncoder(w).Encode(usersResponse{Users: users, Count: len(users)}); err != nil {
			return handler.NewErrWithStatus(http.StatusInternalServerError, fmt.Errorf("encoding users: %w", err))
		}
		return nil
	})
}
