// pattern: Imperative Shell

// Package terminal implements the per-client terminal proxy: a duplex byte
// pump between a browser WebSocket and a tmux attach running on a local
// PTY, a docker interactive exec, or a remote agent channel, interleaved
// with an out-of-band control protocol and a periodic window-state poller.
package terminal

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// Upstream is the byte stream a browser is attached to. The three
// implementations (local PTY, docker exec, bridge channel) differ only in
// how a resize is applied and what Close must release.
type Upstream interface {
	io.ReadWriteCloser
	Resize(ctx context.Context, cols, rows int) error
}

// ptyUpstream runs `tmux attach-session` on a locally forked PTY. Used for
// both the synthetic local container and the host tmux socket.
type ptyUpstream struct {
	ptmx *os.File
	cmd  *exec.Cmd

	closeOnce sync.Once
	closeErr  error
}

// newPTYUpstream forks tmux attach for session:window, with TMUX stripped
// from the environment so the inner client doesn't refuse to nest, and a
// fixed TERM the SPA's renderer understands.
func newPTYUpstream(hostSocket, sessionName string, windowIndex, cols, rows int) (*ptyUpstream, error) {
	args := []string{}
	if hostSocket != "" {
		args = append(args, "-S", hostSocket)
	}
	args = append(args, "-u", "attach-session", "-t", sessionName+":"+strconv.Itoa(windowIndex))

	cmd := exec.Command("tmux", args...)
	cmd.Env = cleanEnv(os.Environ())

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, err
	}
	return &ptyUpstream{ptmx: ptmx, cmd: cmd}, nil
}

func (u *ptyUpstream) Read(p []byte) (int, error)  { return u.ptmx.Read(p) }
func (u *ptyUpstream) Write(p []byte) (int, error) { return u.ptmx.Write(p) }

// Resize applies the winsize to the PTY master and nudges the child with
// SIGWINCH — the slave may not be the child's controlling terminal, so the
// ioctl alone is not always observed.
func (u *ptyUpstream) Resize(_ context.Context, cols, rows int) error {
	if err := pty.Setsize(u.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return err
	}
	if u.cmd.Process != nil {
		_ = u.cmd.Process.Signal(syscall.SIGWINCH)
	}
	return nil
}

// Close releases the PTY and the attach process. Closing the fd first
// unblocks any pending read; the explicit kill covers tmux clients that
// survive the fd close. Idempotent.
func (u *ptyUpstream) Close() error {
	u.closeOnce.Do(func() {
		u.closeErr = u.ptmx.Close()
		if u.cmd.Process != nil {
			_ = u.cmd.Process.Kill()
		}
		_ = u.cmd.Wait()
	})
	return u.closeErr
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

