package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
	"webchat/internal/config"
	"webchat/internal/ws"
)

type Server struct {
	Config           *config.Config
	WebsocketManager *ws.Manager
	logger           *slog.Logger
}

func NewServer(config *config.Config, wsManager *ws.Manager, logger *slog.Logger) *Server {
	return &Server{
		Config:           config,
		WebsocketManager: wsManager,
		logger:           logger,
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("API server is started.")); err != nil {
		s.logger.Error(fmt.Sprintf("Error writing response: %v", err))
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /users", s.usersHandler())
	mux.HandleFunc("GET /chat", s.wsHandler())
	return mux
}

// Start serves until ctx is cancelled, then shuts the HTTP server down.
// Hijacked websocket connections are not covered; the ws.Manager closes those.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              net.JoinHostPort(s.Config.APIServerHost, s.Config.APIServerPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server is running", "port", s.Config.APIServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed to listen and serve", "error", err)
			errCh <- err
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
		case err := <-errCh:
			errCh <- err
			return
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("API server failed to shutdown", "error", err)
		}
	}()

	wg.Wait()
	select {
	case err := <-errCh:
		return fmt.Errorf("API server: %w", err)
	default:
		return nil
	}
}
