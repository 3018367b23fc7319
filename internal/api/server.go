package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with WebSocket hub for real-time updates.
type Server struct {
	engine EngineInterface
	router *chi.Mux
	wsHub  *WebSocketHub

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new API server.
//
// hub may be shared with the engine's OnDisplayChange hook; nil creates one.
// IMPORTANT: Background workers do NOT start until Start() is called.
// For testing HTTP endpoints without WebSocket support, use NewRouter() directly.
func NewServer(cfg RouterConfig, hub *WebSocketHub) *Server {
	if hub == nil {
		hub = NewWebSocketHub(NewOriginPolicy(cfg.CORSOrigins))
	}
	hub.AttachControls(cfg.Engine.Controls())

	s := &Server{
		engine: cfg.Engine,
		wsHub:  hub,
		router: NewRouter(cfg),
	}

	// Add WebSocket routes (these need the wsHub instance)
	s.router.Get("/ws", s.handleWS)

	return s
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Start begins the HTTP server AND starts background workers.
// It blocks until the server stops; http.ErrServerClosed is not an error.
func (s *Server) Start(addr string) error {
	// Start background workers NOW, not in constructor
	go s.wsHub.Run()
	s.wsHub.StartBroadcastLoop(s.engine)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	log.Printf("🌐 API server starting on %s", addr)
	log.Printf("🎮 Admin Panel: http://localhost%s/admin", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Stop performs graceful shutdown of the listener and background workers.
func (s *Server) Stop(ctx context.Context) error {
	s.wsHub.Stop()
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}
