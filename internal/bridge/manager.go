// pattern: Imperative Shell

package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"tmuxdeck/internal/config"
	"tmuxdeck/internal/logging"
)

// authReadTimeout bounds how long an unauthenticated socket may sit on the
// handshake before being dropped.
const authReadTimeout = 10 * time.Second

// CloseAuthFailure is the close code sent for a bad or disabled token.
const CloseAuthFailure = websocket.StatusCode(4001)

// CloseProtocolViolation is the close code for malformed frames.
const CloseProtocolViolation = websocket.StatusCode(4000)

// Manager accepts agent connections, authenticates them against the
// registered bridge configs, and brokers between agents and the per-user
// terminal WebSockets that target them.
type Manager struct {
	logger *logging.ScopedLogger

	mu      sync.Mutex
	configs []config.BridgeConfig
	bridges map[string]*Conn
}

// NewManager creates a bridge manager seeded with the configured agent
// credentials.
func NewManager(configs []config.BridgeConfig, logger *logging.ScopedLogger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		logger:  logger,
		configs: configs,
		bridges: make(map[string]*Conn),
	}
}

// SetConfigs replaces the credential set. Connections whose config was
// removed or disabled are evicted immediately, per the invariant that a
// disabled config must not hold a live connection.
func (m *Manager) SetConfigs(configs []config.BridgeConfig) {
	m.mu.Lock()
	m.configs = configs
	var evict []*Conn
	for id, conn := range m.bridges {
		if cfg, ok := m.lookupByID(id); !ok || !cfg.Enabled {
			evict = append(evict, conn)
			delete(m.bridges, id)
		}
	}
	m.mu.Unlock()

	for _, conn := range evict {
		m.logger.Info("evicting bridge connection after config change", "bridge_id", conn.BridgeID)
		conn.shutdown()
	}
}

// lookupByID must be called with m.mu held.
func (m *Manager) lookupByID(id string) (config.BridgeConfig, bool) {
	for _, cfg := range m.configs {
		if cfg.ID == id {
			return cfg, true
		}
	}
	return config.BridgeConfig{}, false
}

// authenticate finds the enabled config whose token matches, comparing
// constant-time so token length/prefix can't be probed.
func (m *Manager) authenticate(token string) (config.BridgeConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cfg := range m.configs {
		if !cfg.Enabled {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(cfg.Token), []byte(token)) == 1 {
			return cfg, true
		}
	}
	return config.BridgeConfig{}, false
}

// HandleWS is the /ws/bridge endpoint: accept, authenticate the first text
// frame, register the connection, then relay until disconnect.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		m.logger.Error("bridge websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(1 << 22)

	authCtx, cancel := context.WithTimeout(r.Context(), authReadTimeout)
	msgType, data, err := ws.Read(authCtx)
	cancel()
	if err != nil || msgType != websocket.MessageText {
		m.logger.Warn("bridge handshake read failed", "error", err)
		_ = ws.Close(CloseProtocolViolation, "auth frame expected")
		return
	}

	var auth Message
	if err := json.Unmarshal(data, &auth); err != nil || auth.Type != TypeAuth {
		m.logger.Warn("bridge handshake not an auth frame")
		_ = ws.Close(CloseProtocolViolation, "auth frame expected")
		return
	}

	ctx := context.Background()

	cfg, ok := m.authenticate(auth.Token)
	if !ok {
		m.logger.Warn("bridge auth rejected", "name", auth.Name)
		resp, _ := json.Marshal(Message{Type: TypeAuthError, Reason: "unknown or disabled token"})
		_ = ws.Write(ctx, websocket.MessageText, resp)
		_ = ws.Close(CloseAuthFailure, "auth failed")
		return
	}

	name := auth.Name
	if name == "" {
		name = cfg.Name
	}
	conn := newConn(cfg.ID, name, ws, m.logger)

	m.register(conn)

	if err := conn.sendJSON(ctx, Message{Type: TypeAuthOK, BridgeID: cfg.ID}); err != nil {
		m.unregister(conn)
		conn.shutdown()
		return
	}

	m.logger.Info("bridge connected", "bridge_id", cfg.ID, "name", name)
	m.readLoop(ctx, conn)
	m.unregister(conn)
	conn.shutdown()
	m.logger.Info("bridge disconnected", "bridge_id", cfg.ID, "name", name)
}

// register installs conn, evicting any previous connection for the same
// bridge id (its terminals are detached and its pending requests failed
// before the new connection becomes visible).
func (m *Manager) register(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old := m.bridges[conn.BridgeID]; old != nil {
		m.logger.Info("replacing existing bridge connection", "bridge_id", conn.BridgeID)
		old.shutdown()
	}
	m.bridges[conn.BridgeID] = conn
}

// unregister removes conn only if it is still the registered connection
// for its bridge id (a reconnect may already have replaced it).
func (m *Manager) unregister(conn *Conn) {
	m.mu.Lock()
	if m.bridges[conn.BridgeID] == conn {
		delete(m.bridges, conn.BridgeID)
	}
	m.mu.Unlock()
}

// readLoop dispatches agent frames until the socket errors.
func (m *Manager) readLoop(ctx context.Context, conn *Conn) {
	for {
		msgType, data, err := conn.ws.Read(ctx)
		if err != nil {
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			channel, payload, err := DecodeBinary(data)
			if err != nil {
				m.logger.Warn("malformed binary frame from agent", "bridge_id", conn.BridgeID, "error", err.Error())
				continue
			}
			conn.deliverBinary(ctx, channel, payload)

		case websocket.MessageText:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				m.logger.Warn("malformed json frame from agent", "bridge_id", conn.BridgeID, "error", err.Error())
				continue
			}
			m.dispatch(conn, msg)
		}
	}
}

func (m *Manager) dispatch(conn *Conn, msg Message) {
	switch msg.Type {
	case TypeSessions:
		conn.setSessions(msg.Sessions, msg.Sources)
	case TypeAttachOK, TypeAttachError, TypeCmdResult:
		conn.resolvePending(msg)
	case TypeDetached:
		conn.detachTerminal(msg.ChannelID)
	case TypePong:
		// keepalive, nothing to do
	default:
		m.logger.Warn("unknown message type from agent", "bridge_id", conn.BridgeID, "type", msg.Type)
	}
}

// Lookup returns the live connection for bridgeID, if any.
func (m *Manager) Lookup(bridgeID string) (*Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.bridges[bridgeID]
	return conn, ok
}

// Connected returns the ids of every live agent connection.
func (m *Manager) Connected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.bridges))
	for id := range m.bridges {
		ids = append(ids, id)
	}
	return ids
}

// Disconnect evicts the named agent, if connected. Used when an admin
// deletes or disables a bridge config at runtime.
func (m *Manager) Disconnect(bridgeID string) {
	m.mu.Lock()
	conn := m.bridges[bridgeID]
	delete(m.bridges, bridgeID)
	m.mu.Unlock()
	if conn != nil {
		conn.shutdown()
	}
}

// RunTmuxCmd routes a tmux argv to the agent and returns the remote stdout.
// Satisfies the façade's bridge-runner contract.
func (m *Manager) RunTmuxCmd(ctx context.Context, bridgeID string, argv []string) (string, error) {
	return m.RunTmuxCmdSource(ctx, bridgeID, "", argv)
}

// RunTmuxCmdSource is RunTmuxCmd with an explicit execution site on the
// agent ("local", "host", "docker:<id>"); empty lets the agent route by its
// own session caches.
func (m *Manager) RunTmuxCmdSource(ctx context.Context, bridgeID, source string, argv []string) (string, error) {
	conn, ok := m.Lookup(bridgeID)
	if !ok {
		return "", fmt.Errorf("bridge %s: not connected", bridgeID)
	}

	resp, err := conn.request(ctx, Message{Type: TypeTmuxCmd, Cmd: argv, Source: source})
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("bridge %s: remote tmux: %s", bridgeID, resp.Error)
	}
	return resp.Output, nil
}

// Attach allocates a channel on the agent, requests a remote PTY for the
// given window, and returns the byte-stream handle once the agent confirms.
func (m *Manager) Attach(ctx context.Context, bridgeID, source, sessionName string, windowIndex, cols, rows int) (*Terminal, error) {
	conn, ok := m.Lookup(bridgeID)
	if !ok {
		return nil, fmt.Errorf("bridge %s: not connected", bridgeID)
	}

	channel, err := conn.allocateChannel()
	if err != nil {
		return nil, err
	}

	term := newTerminal(conn, channel)
	conn.mu.Lock()
	if _, busy := conn.terminals[channel]; busy {
		conn.mu.Unlock()
		return nil, fmt.Errorf("bridge %s: channel %d allocated concurrently", bridgeID, channel)
	}
	conn.terminals[channel] = term
	conn.mu.Unlock()

	resp, err := conn.request(ctx, Message{
		Type:        TypeAttach,
		SessionName: sessionName,
		WindowIndex: windowIndex,
		ChannelID:   channel,
		Cols:        cols,
		Rows:        rows,
		Source:      source,
	})
	if err != nil {
		conn.detachTerminal(channel)
		return nil, err
	}
	if resp.Type == TypeAttachError || resp.Error != "" {
		conn.detachTerminal(channel)
		reason := resp.Error
		if reason == "" {
			reason = "attach rejected"
		}
		return nil, fmt.Errorf("bridge %s: attach %s:%d: %s", bridgeID, sessionName, windowIndex, reason)
	}
	return term, nil
}
