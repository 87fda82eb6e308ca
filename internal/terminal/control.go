// pattern: Functional Core (tag parsing) + Imperative Shell (dispatch)

package terminal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// handleControl interprets one browser text frame. Returns true when the
// frame was consumed as an out-of-band command; false means the text is
// ordinary terminal input and must be forwarded to the upstream.
func (s *proxySession) handleControl(ctx context.Context, text string) bool {
	tag, rest, _ := strings.Cut(text, ":")

	run := func(argv ...string) (string, error) {
		return s.proxy.tmux.Run(ctx, s.containerID, argv)
	}
	target := s.sessionName

	switch tag {
	case "RESIZE":
		colsStr, rowsStr, ok := strings.Cut(rest, ":")
		if !ok {
			return true
		}
		cols, err1 := strconv.Atoi(colsStr)
		rows, err2 := strconv.Atoi(rowsStr)
		if err1 != nil || err2 != nil || cols <= 0 || rows <= 0 {
			return true
		}
		if err := s.up.Resize(ctx, cols, rows); err != nil {
			s.proxy.logger.Warn("resize failed", "container", s.containerID, "error", err.Error())
		}
		return true

	case "SELECT_WINDOW":
		idx, err := strconv.Atoi(rest)
		if err != nil {
			return true
		}
		_, _ = run("select-window", "-t", fmt.Sprintf("%s:%d", target, idx))
		return true

	case "SELECT_PANE":
		switch rest {
		case "U", "D", "L", "R":
			_, _ = run("select-pane", "-"+rest, "-t", target)
		}
		return true

	case "TOGGLE_ZOOM":
		_, _ = run("resize-pane", "-Z", "-t", target)
		return true

	case "SCROLL":
		s.handleScroll(ctx, rest)
		return true

	case "SHIFT_ENTER":
		_, _ = run("send-keys", "-t", target, "-l", "--", "\x1b[13;2u")
		return true

	case "DISABLE_MOUSE":
		_, _ = run("set-option", "-g", "mouse", "off")
		s.sendText(ctx, "MOUSE_WARNING:off")
		return true

	case "FIX_BELL":
		_, _ = run("set-option", "-g", "bell-action", "any")
		_, _ = run("set-option", "-g", "visual-bell", "off")
		s.sendText(ctx, "BELL_WARNING:ok")
		return true

	case "LIST_PANES":
		idx, err := strconv.Atoi(rest)
		if err != nil {
			return true
		}
		panes, err := s.proxy.tmux.ListPanes(ctx, s.containerID, s.sessionName, idx)
		if err != nil {
			return true
		}
		payload, err := json.Marshal(panes)
		if err != nil {
			return true
		}
		s.sendText(ctx, "PANE_LIST:"+string(payload))
		return true

	case "ZOOM_PANE":
		win, pane, ok := splitWindowPane(rest)
		if !ok {
			return true
		}
		_, _ = run("select-pane", "-t", fmt.Sprintf("%s:%d.%d", target, win, pane))
		_, _ = run("resize-pane", "-Z", "-t", fmt.Sprintf("%s:%d", target, win))
		return true

	case "UNZOOM_PANE":
		out, _ := run("display-message", "-p", "-t", target, "#{window_zoomed_flag}")
		if strings.TrimSpace(out) == "1" {
			_, _ = run("resize-pane", "-Z", "-t", target)
		}
		return true

	case "CAPTURE_PANE":
		win, pane, ok := splitWindowPane(rest)
		if !ok {
			return true
		}
		content, err := s.proxy.tmux.CapturePane(ctx, s.containerID, s.sessionName, win, pane)
		if err != nil {
			return true
		}
		s.sendText(ctx, fmt.Sprintf("PANE_CONTENT:%d.%d:%s", win, pane, content))
		return true

	case "IMAGE_PASTE":
		s.handleImagePaste(ctx, rest)
		return true
	}

	return false
}

// handleScroll drives tmux copy-mode: "up:N" enters copy-mode first so a
// fresh scroll starts from live output, "down:N" assumes copy-mode is
// already active, "exit" cancels it.
func (s *proxySession) handleScroll(ctx context.Context, arg string) {
	run := func(argv ...string) {
		_, _ = s.proxy.tmux.Run(ctx, s.containerID, argv)
	}
	target := s.sessionName

	dir, countStr, _ := strings.Cut(arg, ":")
	switch dir {
	case "up":
		n, err := strconv.Atoi(countStr)
		if err != nil || n <= 0 {
			return
		}
		run("copy-mode", "-e", "-t", target)
		run("send-keys", "-X", "-N", strconv.Itoa(n), "-t", target, "scroll-up")
	case "down":
		n, err := strconv.Atoi(countStr)
		if err != nil || n <= 0 {
			return
		}
		run("send-keys", "-X", "-N", strconv.Itoa(n), "-t", target, "scroll-down")
	case "exit":
		run("send-keys", "-X", "-t", target, "cancel")
	}
}

// handleImagePaste decodes a pasted clipboard image, persists it, and hands
// the path to the pane via send-keys. Only local and host sources share a
// filesystem with the server, so other sources log and skip.
func (s *proxySession) handleImagePaste(ctx context.Context, b64 string) {
	if s.containerID != "local" && s.containerID != "host" {
		s.proxy.logger.Warn("image paste unsupported for source", "container", s.containerID)
		return
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		s.proxy.logger.Warn("image paste decode failed", "error", err.Error())
		return
	}

	path, err := writeTempImage(data)
	if err != nil {
		s.proxy.logger.Warn("image paste write failed", "error", err.Error())
		return
	}

	_, _ = s.proxy.tmux.Run(ctx, s.containerID,
		[]string{"send-keys", "-t", s.sessionName, "-l", "--", path})
}

// splitWindowPane parses a "win.pane" pair of non-negative indices.
func splitWindowPane(arg string) (int, int, bool) {
	winStr, paneStr, ok := strings.Cut(arg, ".")
	if !ok {
		return 0, 0, false
	}
	win, err1 := strconv.Atoi(winStr)
	pane, err2 := strconv.Atoi(paneStr)
	if err1 != nil || err2 != nil || win < 0 || pane < 0 {
		return 0, 0, false
	}
	return win, pane, true
}
