// pattern: Imperative Shell

package bridgeagent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"tmuxdeck/internal/bridge"
)

// remoteTerminal is one server-requested PTY, keyed by its channel id.
type remoteTerminal struct {
	channel uint16
	ptmx    *os.File
	cmd     *exec.Cmd
	once    sync.Once
}

// handleAttach opens a PTY for the requested window and starts the read
// loop that ships its output as channel-prefixed binary frames.
func (a *Agent) handleAttach(ctx context.Context, msg bridge.Message) {
	target := fmt.Sprintf("%s:%d", msg.SessionName, msg.WindowIndex)
	argv := a.routeArgv(msg.Source, []string{"tmux", "-u", "attach-session", "-t", target}, true)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = cleanEnv(os.Environ())

	cols, rows := msg.Cols, msg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		a.logger.Error("attach failed",
			"session", msg.SessionName, "window", msg.WindowIndex, "error", err.Error())
		a.send(ctx, bridge.Message{Type: bridge.TypeAttachError, ID: msg.ID, Error: err.Error()})
		return
	}

	term := &remoteTerminal{channel: msg.ChannelID, ptmx: ptmx, cmd: cmd}

	a.termMu.Lock()
	if old, busy := a.terminals[msg.ChannelID]; busy {
		// The server should never reuse a live channel; close the stale
		// terminal rather than silently overwriting it.
		a.termMu.Unlock()
		old.close()
		a.termMu.Lock()
	}
	a.terminals[msg.ChannelID] = term
	a.termMu.Unlock()

	a.send(ctx, bridge.Message{Type: bridge.TypeAttachOK, ID: msg.ID, ChannelID: msg.ChannelID})
	a.logger.Info("terminal attached",
		"channel", msg.ChannelID, "session", msg.SessionName, "window", msg.WindowIndex, "source", msg.Source)

	go a.pumpTerminal(ctx, term)
}

// pumpTerminal forwards PTY output to the server until the process exits
// or the connection drops, then reports the channel detached.
func (a *Agent) pumpTerminal(ctx context.Context, term *remoteTerminal) {
	buf := make([]byte, 4096)
	for {
		n, err := term.ptmx.Read(buf)
		if n > 0 {
			if serr := a.sendBinary(ctx, term.channel, buf[:n]); serr != nil {
				break
			}
		}
		if err != nil {
			break
		}
	}

	a.closeTerminal(term.channel, true)
}

// writeTerminal routes a server binary payload to the PTY at channel.
func (a *Agent) writeTerminal(channel uint16, payload []byte) {
	a.termMu.Lock()
	term := a.terminals[channel]
	a.termMu.Unlock()
	if term == nil {
		a.logger.Warn("input for unknown channel", "channel", channel)
		return
	}
	if _, err := term.ptmx.Write(payload); err != nil {
		a.logger.Warn("terminal write failed", "channel", channel, "error", err.Error())
	}
}

// resizeTerminal applies TIOCSWINSZ and SIGWINCH to the PTY at channel.
func (a *Agent) resizeTerminal(channel uint16, cols, rows int) {
	a.termMu.Lock()
	term := a.terminals[channel]
	a.termMu.Unlock()
	if term == nil || cols <= 0 || rows <= 0 {
		return
	}
	_ = pty.Setsize(term.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if term.cmd.Process != nil {
		_ = term.cmd.Process.Signal(syscall.SIGWINCH)
	}
}

// closeTerminal tears down the terminal at channel. notify reports the
// agent-initiated case (PTY exit) back to the server; a server-initiated
// detach skips the echo.
func (a *Agent) closeTerminal(channel uint16, notify bool) {
	a.termMu.Lock()
	term := a.terminals[channel]
	delete(a.terminals, channel)
	a.termMu.Unlock()
	if term == nil {
		return
	}

	term.close()
	a.logger.Info("terminal detached", "channel", channel)

	if notify {
		a.send(context.Background(), bridge.Message{Type: bridge.TypeDetached, ChannelID: channel})
	}
}

// closeAllTerminals releases every PTY; called when the connection drops.
func (a *Agent) closeAllTerminals() {
	a.termMu.Lock()
	terms := a.terminals
	a.terminals = make(map[uint16]*remoteTerminal)
	a.termMu.Unlock()

	for _, term := range terms {
		term.close()
	}
}

// close releases the PTY fd first (unblocking the pump's read), then the
// child. Idempotent.
func (t *remoteTerminal) close() {
	t.once.Do(func() {
		_ = t.ptmx.Close()
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		_ = t.cmd.Wait()
	})
}

func cleanEnv(env []string) []string {
	out := make([]string, 0, len(env)+1)
	hasTerm := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "TMUX=") {
			continue
		}
		if strings.HasPrefix(kv, "TERM=") {
			hasTerm = true
			out = append(out, "TERM=xterm-256color")
			continue
		}
		out = append(out, kv)
	}
	if !hasTerm {
		out = append(out, "TERM=xterm-256color")
	}
	return out
}
