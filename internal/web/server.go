// pattern: Imperative Shell

// Package web wires the HTTP surface: the REST glue, the notification SSE
// stream, the terminal and bridge WebSocket endpoints, and the PIN cookie
// gate in front of them.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/cors"

	"tmuxdeck/internal/bridge"
	"tmuxdeck/internal/containers"
	"tmuxdeck/internal/debuglog"
	"tmuxdeck/internal/logging"
	"tmuxdeck/internal/notify"
	"tmuxdeck/internal/terminal"
	"tmuxdeck/internal/tmux"
)

// Config holds web server configuration.
type Config struct {
	Bind string
	Port int
	PIN  string
}

// Server is the TmuxDeck control-plane HTTP server.
type Server struct {
	httpServer *http.Server
	addr       string
	listener   net.Listener
	logger     *logging.ScopedLogger

	auth          *authGate
	tmux          *tmux.Client
	containers    *containers.Manager
	bridges       *bridge.Manager
	terminals     *terminal.Proxy
	notifications *notify.Manager
	debugRing     *debuglog.Ring
}

// New creates the server and its route table.
func New(
	cfg Config,
	tm *tmux.Client,
	containerMgr *containers.Manager,
	bridges *bridge.Manager,
	terminals *terminal.Proxy,
	notifications *notify.Manager,
	debugRing *debuglog.Ring,
	logProvider logging.LoggerProvider,
) *Server {
	logger := logProvider.For("web")
	addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)

	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           corsMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr:          addr,
		logger:        logger,
		auth:          newAuthGate(cfg.PIN),
		tmux:          tm,
		containers:    containerMgr,
		bridges:       bridges,
		terminals:     terminals,
		notifications: notifications,
		debugRing:     debugRing,
	}

	terminals.SetAuthorizer(s.auth.authorize)

	gate := s.auth.require

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/pin", s.handlePinLogin)

	mux.HandleFunc("GET /api/v1/containers", gate(s.handleListContainers))
	mux.HandleFunc("GET /api/v1/containers/{id}/sessions", gate(s.handleListSessions))
	mux.HandleFunc("POST /api/v1/containers/{id}/sessions", gate(s.handleCreateSession))
	mux.HandleFunc("DELETE /api/v1/containers/{id}/sessions/{name}", gate(s.handleKillSession))
	mux.HandleFunc("POST /api/v1/containers/{id}/sessions/{name}/rename", gate(s.handleRenameSession))
	mux.HandleFunc("POST /api/v1/containers/{id}/sessions/{name}/windows", gate(s.handleCreateWindow))
	mux.HandleFunc("POST /api/v1/containers/{id}/sessions/{name}/windows/swap", gate(s.handleSwapWindows))
	mux.HandleFunc("POST /api/v1/containers/{id}/sessions/{name}/windows/move", gate(s.handleMoveWindow))
	mux.HandleFunc("POST /api/v1/containers/{id}/sessions/{name}/windows/{index}/pane-status", gate(s.handleSetPaneStatus))
	mux.HandleFunc("POST /api/v1/sessions/resolve", gate(s.handleResolveSession))

	// Hook ingest endpoints are public: the scripts inside containers have
	// no session cookie.
	mux.HandleFunc("GET /api/v1/notifications", gate(s.handleListNotifications))
	mux.HandleFunc("POST /api/v1/notifications", s.handleCreateNotification)
	mux.HandleFunc("POST /api/v1/notifications/dismiss", s.handleDismissNotifications)
	mux.HandleFunc("GET /api/v1/notifications/stream", gate(s.handleNotificationStream))

	mux.HandleFunc("GET /api/v1/debug/log", gate(s.handleDebugLog))
	mux.HandleFunc("POST /api/v1/debug/log/clear", gate(s.handleDebugLogClear))

	mux.HandleFunc("GET /ws/terminal/{container}/{session}/{window}", s.terminals.Handle)
	mux.HandleFunc("GET /ws/bridge", s.bridges.HandleWS)

	return s
}

// corsMiddleware permits the SPA dev server's cross-origin calls.
func corsMiddleware(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}

// TerminalAuthorizer exposes the cookie gate to the terminal proxy.
func (s *Server) TerminalAuthorizer() terminal.Authorizer {
	return s.auth.authorize
}

// Handler exposes the full route table (with middleware) for tests and
// embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Listen binds the configured address. Call Serve afterwards; the split
// lets callers learn the bound address when port 0 is used.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("web server listen: %w", err)
	}
	s.listener = ln
	return ln, nil
}

// Serve accepts connections until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("web server started", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Start is Listen followed by Serve.
func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Addr returns the listening address; valid after Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown gracefully stops the server and terminates SSE streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("web server shutting down")
	if s.notifications != nil {
		s.notifications.Broker().Shutdown()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
