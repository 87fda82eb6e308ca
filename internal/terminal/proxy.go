// pattern: Imperative Shell

package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"tmuxdeck/internal/bridge"
	"tmuxdeck/internal/docker"
	"tmuxdeck/internal/logging"
	"tmuxdeck/internal/tmux"
)

// pollInterval is the window-state poller cadence.
const pollInterval = time.Second

// CloseAuthFailure is the close code for a missing or invalid session cookie.
const CloseAuthFailure = websocket.StatusCode(4001)

// Authorizer decides whether a terminal handshake may proceed. Nil means
// no gate is configured.
type Authorizer func(*http.Request) bool

// Proxy attaches browser WebSockets to tmux windows across every source.
type Proxy struct {
	tmux       *tmux.Client
	docker     *docker.Client
	bridges    *bridge.Manager
	hostSocket string
	authorize  Authorizer
	logger     *logging.ScopedLogger
}

// NewProxy constructs the terminal proxy. docker and bridges may be nil
// when those sources are not configured.
func NewProxy(tm *tmux.Client, dockerClient *docker.Client, bridges *bridge.Manager, hostSocket string, logger *logging.ScopedLogger) *Proxy {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Proxy{
		tmux:       tm,
		docker:     dockerClient,
		bridges:    bridges,
		hostSocket: hostSocket,
		logger:     logger,
	}
}

// SetAuthorizer installs the handshake gate. Must be called before the
// server starts accepting terminal connections.
func (p *Proxy) SetAuthorizer(authorize Authorizer) {
	p.authorize = authorize
}

// Handle is the /ws/terminal/{container}/{session}/{window} endpoint.
func (p *Proxy) Handle(w http.ResponseWriter, r *http.Request) {
	containerID := r.PathValue("container")
	sessionName := r.PathValue("session")
	windowIndex, err := strconv.Atoi(r.PathValue("window"))
	if err != nil || windowIndex < 0 {
		http.Error(w, "invalid window index", http.StatusBadRequest)
		return
	}

	cols := queryInt(r, "cols", 80)
	rows := queryInt(r, "rows", 24)

	authorized := p.authorize == nil || p.authorize(r)

	// Upgrade first: a WebSocket close code is only deliverable after the
	// handshake, so auth failures accept and immediately close with 4001.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		p.logger.Error("terminal websocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(1 << 22)

	if !authorized {
		p.logger.Warn("terminal rejected by auth gate", "container", containerID)
		_ = conn.Close(CloseAuthFailure, "authentication required")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up, err := p.openUpstream(ctx, containerID, sessionName, windowIndex, cols, rows)
	if err != nil {
		p.logger.Error("terminal upstream failed",
			"container", containerID, "session", sessionName, "error", err.Error())
		_ = conn.Close(websocket.StatusInternalError, "terminal failed to start")
		return
	}

	p.logger.Info("terminal connected",
		"container", containerID, "session", sessionName, "window", windowIndex)

	sess := &proxySession{
		proxy:       p,
		conn:        conn,
		up:          up,
		containerID: containerID,
		sessionName: sessionName,
		windowIndex: windowIndex,
	}

	sess.preAttachChecks(ctx)
	sess.run(ctx, cancel)

	p.logger.Info("terminal disconnected",
		"container", containerID, "session", sessionName, "window", windowIndex)
	_ = conn.Close(websocket.StatusNormalClosure, "terminal closed")
}

// openUpstream resolves the container's source and opens the matching byte
// stream: a forked PTY, a docker interactive exec, or an agent channel.
func (p *Proxy) openUpstream(ctx context.Context, containerID, sessionName string, windowIndex, cols, rows int) (Upstream, error) {
	switch {
	case containerID == "local":
		if err := p.tmux.EnsureSession(ctx, containerID, sessionName); err != nil {
			return nil, err
		}
		return newPTYUpstream("", sessionName, windowIndex, cols, rows)

	case containerID == "host":
		if err := p.tmux.EnsureSession(ctx, containerID, sessionName); err != nil {
			return nil, err
		}
		return newPTYUpstream(p.hostSocket, sessionName, windowIndex, cols, rows)

	case strings.HasPrefix(containerID, "bridge:"):
		bridgeID := strings.TrimPrefix(containerID, "bridge:")
		source := p.bridgeSource(bridgeID, sessionName)
		return p.bridges.Attach(ctx, bridgeID, source, sessionName, windowIndex, cols, rows)

	default:
		if p.docker == nil {
			return nil, fmt.Errorf("docker source not configured")
		}
		if err := p.tmux.EnsureSession(ctx, containerID, sessionName); err != nil {
			return nil, err
		}
		argv := []string{"tmux", "-u", "attach-session", "-t", sessionName + ":" + strconv.Itoa(windowIndex)}
		return p.docker.AttachInteractive(ctx, containerID, argv, cols, rows)
	}
}

// bridgeSource finds which execution site on the agent hosts sessionName,
// from the agent's most recent session report. Empty lets the agent fall
// back to its own caches.
func (p *Proxy) bridgeSource(bridgeID, sessionName string) string {
	conn, ok := p.bridges.Lookup(bridgeID)
	if !ok {
		return ""
	}
	for _, s := range conn.Sessions() {
		if s.Name == sessionName {
			return s.Source
		}
	}
	return ""
}

// proxySession is one live browser attachment.
type proxySession struct {
	proxy *Proxy
	conn  *websocket.Conn
	up    Upstream

	containerID string
	sessionName string
	windowIndex int

	writeMu sync.Mutex
}

// sendText pushes a control/text frame to the browser.
func (s *proxySession) sendText(ctx context.Context, text string) {
	if s.conn == nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (s *proxySession) sendBinary(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageBinary, data)
}

// preAttachChecks applies the one-shot tmux options every attachment
// requires and warns the browser about user-hostile server options.
func (s *proxySession) preAttachChecks(ctx context.Context) {
	run := func(argv ...string) (string, error) {
		return s.proxy.tmux.Run(ctx, s.containerID, argv)
	}

	_, _ = run("set-option", "-s", "extended-keys", "always")
	_, _ = run("set-option", "-g", "allow-passthrough", "on")

	if mouse, _ := run("show-options", "-gv", "mouse"); strings.TrimSpace(mouse) == "on" {
		s.sendText(ctx, "MOUSE_WARNING:on")
	}

	problems := map[string]string{}
	if bell, _ := run("show-options", "-gv", "bell-action"); strings.TrimSpace(bell) != "" && strings.TrimSpace(bell) != "any" {
		problems["bell-action"] = strings.TrimSpace(bell)
	}
	if visual, _ := run("show-options", "-gv", "visual-bell"); strings.TrimSpace(visual) == "on" {
		problems["visual-bell"] = "on"
	}
	if len(problems) > 0 {
		payload, _ := json.Marshal(problems)
		s.sendText(ctx, "BELL_WARNING:"+string(payload))
	}
}

// run races the three per-terminal activities and tears everything down
// when the first one finishes.
func (s *proxySession) run(ctx context.Context, cancel context.CancelFunc) {
	var wg sync.WaitGroup

	start := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			f(ctx)
		}()
	}

	start(s.pumpUpstream)
	start(s.pumpBrowser)
	start(s.pollWindows)

	// Closing the upstream fd unblocks any pump stuck in a blocking read;
	// this must happen before waiting for the pumps to drain.
	go func() {
		<-ctx.Done()
		_ = s.up.Close()
	}()

	wg.Wait()
	_ = s.up.Close()
}

// pumpUpstream copies terminal output to the browser as binary frames.
func (s *proxySession) pumpUpstream(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		n, err := s.up.Read(buf)
		if n > 0 {
			if werr := s.sendBinary(ctx, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// pumpBrowser reads browser frames: text frames with a known tag prefix
// are consumed as control operations, everything else is terminal input.
// Serializing control and data through this single loop guarantees that a
// control action observed before a keystroke takes effect before those
// bytes reach the upstream.
func (s *proxySession) pumpBrowser(ctx context.Context) {
	for {
		msgType, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		if msgType == websocket.MessageText {
			if s.handleControl(ctx, string(data)) {
				continue
			}
		}
		if _, err := s.up.Write(data); err != nil {
			return
		}
	}
}

// pollWindows pushes WINDOW_STATE diffs once per second. Failures are
// logged and suppressed; polling resumes on the next tick.
func (s *proxySession) pollWindows(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	prevKey := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		windows, err := s.proxy.tmux.ListWindows(ctx, s.containerID, s.sessionName)
		if err != nil || len(windows) == 0 {
			continue
		}

		active := tmux.ActiveWindowIndex(windows)
		key := stateKey(active, windows)
		if key == prevKey {
			continue
		}
		prevKey = key

		panes, err := s.proxy.tmux.ListPanes(ctx, s.containerID, s.sessionName, active)
		if err != nil {
			panes = nil
		}

		payload, err := json.Marshal(map[string]any{
			"active":  active,
			"windows": windows,
			"panes":   panes,
		})
		if err != nil {
			continue
		}
		s.sendText(ctx, "WINDOW_STATE:"+string(payload))
	}
}

// stateKey reduces the window list to the comparable summary the poller
// diffs on: active index plus (index, name, bell, activity) per window.
func stateKey(active int, windows []tmux.Window) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(active))
	for _, w := range windows {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(w.Index))
		b.WriteByte(':')
		b.WriteString(w.Name)
		if w.Bell {
			b.WriteString(":b")
		}
		if w.Activity {
			b.WriteString(":a")
		}
	}
	return b.String()
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// writeTempImage persists a pasted image so its path can be handed to the
// program running in the pane.
func writeTempImage(data []byte) (string, error) {
	f, err := os.CreateTemp("", "tmuxdeck-paste-*.png")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}
