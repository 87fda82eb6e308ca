// pattern: Imperative Shell

// Package bridgeagent is the long-running remote process that advertises
// its tmux sessions (local, host socket, docker containers) to a TmuxDeck
// server and accepts remote attach requests over one persistent WebSocket.
package bridgeagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"tmuxdeck/internal/bridge"
	"tmuxdeck/internal/docker"
	"tmuxdeck/internal/logging"
)

const (
	reconnectMin = 5 * time.Second
	reconnectMax = 60 * time.Second

	authTimeout  = 10 * time.Second
	pingInterval = 30 * time.Second
	pingTimeout  = 10 * time.Second

	defaultReportInterval = 5 * time.Second
)

// ErrAuthFailed is returned by Run when the server rejects the token.
// Unlike every other connection error, it is permanent.
var ErrAuthFailed = errors.New("bridge agent: authentication rejected")

// Config is the agent's runtime configuration. HostTmuxSocket, DockerSocket
// and DockerLabel may be hot-reloaded from ConfigFile while running.
type Config struct {
	URL   string
	Token string
	Name  string

	UseLocal       bool
	HostTmuxSocket string
	DockerSocket   string
	DockerLabel    string

	ReportInterval time.Duration

	// ConfigFile, when set, is watched for changes to the reloadable
	// fields above.
	ConfigFile string
}

// Agent owns the connection lifecycle: exponential-backoff reconnect,
// session reporting, command routing and remote terminals.
type Agent struct {
	logger *logging.ScopedLogger

	mu  sync.Mutex
	cfg Config

	docker     *docker.Client
	hostBroken bool

	// Routing caches refreshed on every session collection, so a tmux_cmd
	// without an explicit source still reaches the right execution site.
	nameSource map[string]string
	idSource   map[string]string

	sendMu    sync.Mutex
	ws        *websocket.Conn
	terminals map[uint16]*remoteTerminal
	termMu    sync.Mutex
}

// New constructs an agent. The docker client is optional; without one the
// docker source is excluded from collection and routing falls back.
func New(cfg Config, logger *logging.ScopedLogger) *Agent {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = defaultReportInterval
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	a := &Agent{
		logger:     logger,
		cfg:        cfg,
		nameSource: make(map[string]string),
		idSource:   make(map[string]string),
		terminals:  make(map[uint16]*remoteTerminal),
	}

	if cfg.DockerSocket != "" || cfg.DockerLabel != "" {
		host := ""
		if cfg.DockerSocket != "" {
			host = "unix://" + cfg.DockerSocket
		}
		cli, err := docker.NewClientWithHost(host)
		if err != nil {
			logger.Warn("docker client unavailable, docker source disabled", "error", err.Error())
		} else {
			a.docker = cli
		}
	}

	return a
}

// config returns a snapshot of the (possibly hot-reloaded) configuration.
func (a *Agent) config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Run connects and serves until ctx is cancelled or auth permanently
// fails. Transient connection errors reconnect with exponential backoff,
// reset after each successful auth.
func (a *Agent) Run(ctx context.Context) error {
	a.startupDiagnostics(ctx)

	if file := a.config().ConfigFile; file != "" {
		stop, err := a.watchConfig(file)
		if err != nil {
			a.logger.Warn("config watch unavailable", "file", file, "error", err.Error())
		} else {
			defer stop()
		}
	}

	backoff := reconnectMin
	for {
		authed, err := a.runConnection(ctx)
		if errors.Is(err, ErrAuthFailed) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if authed {
			backoff = reconnectMin
		}
		if err != nil {
			a.logger.Warn("connection lost", "error", err.Error(), "retry_in", backoff.String())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// runConnection dials, authenticates and serves one connection to
// completion. The bool reports whether auth succeeded (for backoff reset).
func (a *Agent) runConnection(ctx context.Context) (bool, error) {
	cfg := a.config()

	ws, _, err := websocket.Dial(ctx, cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	ws.SetReadLimit(1 << 22)

	a.sendMu.Lock()
	a.ws = ws
	a.sendMu.Unlock()
	defer func() {
		a.sendMu.Lock()
		a.ws = nil
		a.sendMu.Unlock()
		a.closeAllTerminals()
		_ = ws.CloseNow()
	}()

	if err := a.authenticate(ctx, ws, cfg); err != nil {
		return false, err
	}
	a.logger.Info("connected", "url", cfg.URL, "name", cfg.Name)

	a.reportSessions(ctx)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- a.readLoop(connCtx, ws) }()
	go func() { errCh <- a.reportLoop(connCtx) }()
	go func() { errCh <- a.pingLoop(connCtx, ws) }()

	err = <-errCh
	cancel()
	return true, err
}

func (a *Agent) authenticate(ctx context.Context, ws *websocket.Conn, cfg Config) error {
	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	auth, _ := json.Marshal(bridge.Message{Type: bridge.TypeAuth, Token: cfg.Token, Name: cfg.Name})
	if err := ws.Write(authCtx, websocket.MessageText, auth); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	_, data, err := ws.Read(authCtx)
	if err != nil {
		return fmt.Errorf("await auth reply: %w", err)
	}

	var reply bridge.Message
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("parse auth reply: %w", err)
	}

	switch reply.Type {
	case bridge.TypeAuthOK:
		return nil
	case bridge.TypeAuthError:
		a.logger.Error("authentication rejected", "reason", reply.Reason)
		return ErrAuthFailed
	default:
		return fmt.Errorf("unexpected auth reply type %q", reply.Type)
	}
}

// readLoop dispatches server frames until the socket errors.
func (a *Agent) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}

		switch msgType {
		case websocket.MessageBinary:
			channel, payload, err := bridge.DecodeBinary(data)
			if err != nil {
				a.logger.Warn("malformed binary frame", "error", err.Error())
				continue
			}
			a.writeTerminal(channel, payload)

		case websocket.MessageText:
			var msg bridge.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				a.logger.Warn("malformed json frame", "error", err.Error())
				continue
			}
			a.dispatch(ctx, msg)
		}
	}
}

func (a *Agent) dispatch(ctx context.Context, msg bridge.Message) {
	switch msg.Type {
	case bridge.TypeAttach:
		go a.handleAttach(ctx, msg)
	case bridge.TypeDetach:
		a.closeTerminal(msg.ChannelID, false)
	case bridge.TypeResize:
		a.resizeTerminal(msg.ChannelID, msg.Cols, msg.Rows)
	case bridge.TypeTmuxCmd:
		go a.handleTmuxCmd(ctx, msg)
	case bridge.TypeListSess:
		a.reportSessions(ctx)
	case bridge.TypePing:
		a.send(ctx, bridge.Message{Type: bridge.TypePong})
	default:
		a.logger.Warn("unknown message type from server", "type", msg.Type)
	}
}

// reportLoop pushes the session inventory on the configured cadence. Push
// failures are swallowed and retried at the next interval.
func (a *Agent) reportLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.config().ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.reportSessions(ctx)
		}
	}
}

func (a *Agent) pingLoop(ctx context.Context, ws *websocket.Conn) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("keepalive: %w", err)
			}
		}
	}
}

// send marshals and ships one control frame. Errors are logged, not
// returned: a dead socket surfaces through the read loop.
func (a *Agent) send(ctx context.Context, msg bridge.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	a.sendMu.Lock()
	ws := a.ws
	a.sendMu.Unlock()
	if ws == nil {
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		a.logger.Warn("send failed", "type", msg.Type, "error", err.Error())
	}
}

func (a *Agent) sendBinary(ctx context.Context, channel uint16, payload []byte) error {
	a.sendMu.Lock()
	ws := a.ws
	a.sendMu.Unlock()
	if ws == nil {
		return errors.New("not connected")
	}
	return ws.Write(ctx, websocket.MessageBinary, bridge.EncodeBinary(channel, payload))
}
