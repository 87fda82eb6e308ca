package tmux

import (
	"context"
	"fmt"
)

// ListSessions lists every session on containerID, each populated with its
// windows. Two commands per container, not 1+N: one list-sessions plus one
// list-windows -a.
func (c *Client) ListSessions(ctx context.Context, containerID string) ([]Session, error) {
	sessOut, err := c.Run(ctx, containerID, []string{"list-sessions", "-F", SessionListFormat})
	if err != nil {
		return nil, err
	}
	if sessOut == "" {
		return nil, nil
	}

	winOut, err := c.Run(ctx, containerID, []string{"list-windows", "-a", "-F", WindowListFormat})
	if err != nil {
		return nil, err
	}
	windowsByName := ParseWindowRows(winOut)

	rows := ParseSessionRows(sessOut)
	sessions := make([]Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, Session{
			ID:       SessionID(containerID, row.Name),
			Name:     row.Name,
			Windows:  windowsByName[row.Name],
			Created:  EpochTime(row.Created),
			Attached: row.Attached,
		})
	}
	return sessions, nil
}

// ListWindows lists the windows of a single session.
func (c *Client) ListWindows(ctx context.Context, containerID, sessionName string) ([]Window, error) {
	out, err := c.Run(ctx, containerID, []string{"list-windows", "-t", sessionName, "-F", WindowListFormat})
	if err != nil {
		return nil, err
	}
	byName := ParseWindowRows(out)
	return byName[sessionName], nil
}

// ListPanes lists the panes of a single window.
func (c *Client) ListPanes(ctx context.Context, containerID, sessionName string, windowIndex int) ([]Pane, error) {
	target := fmt.Sprintf("%s:%d", sessionName, windowIndex)
	out, err := c.Run(ctx, containerID, []string{"list-panes", "-t", target, "-F", PaneListFormat})
	if err != nil {
		return nil, err
	}
	return parsePaneLines(out), nil
}

// CreateSession creates a new detached session and applies the required
// session options.
func (c *Client) CreateSession(ctx context.Context, containerID, name string) error {
	if _, err := c.Run(ctx, containerID, []string{"new-session", "-d", "-s", name}); err != nil {
		return err
	}
	c.EnsureSessionOptions(ctx, containerID, name)
	return nil
}

// EnsureSession creates the session if it doesn't already exist and applies
// the required session options either way. Idempotent.
func (c *Client) EnsureSession(ctx context.Context, containerID, name string) error {
	sessions, err := c.ListSessions(ctx, containerID)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.Name == name {
			c.EnsureSessionOptions(ctx, containerID, name)
			return nil
		}
	}
	return c.CreateSession(ctx, containerID, name)
}

// RenameSession renames a session.
func (c *Client) RenameSession(ctx context.Context, containerID, oldName, newName string) error {
	_, err := c.Run(ctx, containerID, []string{"rename-session", "-t", oldName, newName})
	return err
}

// KillSession destroys a session.
func (c *Client) KillSession(ctx context.Context, containerID, name string) error {
	_, err := c.Run(ctx, containerID, []string{"kill-session", "-t", name})
	return err
}

// CreateWindow creates a new window in sessionName.
func (c *Client) CreateWindow(ctx context.Context, containerID, sessionName, windowName string) error {
	argv := []string{"new-window", "-t", sessionName}
	if windowName != "" {
		argv = append(argv, "-n", windowName)
	}
	_, err := c.Run(ctx, containerID, argv)
	return err
}

// SwapWindows swaps two windows within a session.
func (c *Client) SwapWindows(ctx context.Context, containerID, sessionName string, a, b int) error {
	src := fmt.Sprintf("%s:%d", sessionName, a)
	dst := fmt.Sprintf("%s:%d", sessionName, b)
	_, err := c.Run(ctx, containerID, []string{"swap-window", "-s", src, "-t", dst})
	return err
}

// MoveWindow moves a window to a new index within a session.
func (c *Client) MoveWindow(ctx context.Context, containerID, sessionName string, from, to int) error {
	src := fmt.Sprintf("%s:%d", sessionName, from)
	dst := fmt.Sprintf("%s:%d", sessionName, to)
	_, err := c.Run(ctx, containerID, []string{"move-window", "-s", src, "-t", dst})
	return err
}

// SetPaneStatus sets the @pane_status custom user option (glossary: "Pane
// status") on a window's active pane.
func (c *Client) SetPaneStatus(ctx context.Context, containerID, sessionName string, windowIndex int, status string) error {
	target := fmt.Sprintf("%s:%d", sessionName, windowIndex)
	_, err := c.Run(ctx, containerID, []string{"set-option", "-t", target, "-p", "@pane_status", status})
	return err
}

// CapturePane returns the ANSI-captured text of a pane.
func (c *Client) CapturePane(ctx context.Context, containerID, sessionName string, windowIndex, paneIndex int) (string, error) {
	target := fmt.Sprintf("%s:%d.%d", sessionName, windowIndex, paneIndex)
	return c.Run(ctx, containerID, []string{"capture-pane", "-e", "-p", "-t", target})
}

// SendKeys sends literal keys (and, optionally, a trailing Enter) to a
// session:window target.
func (c *Client) SendKeys(ctx context.Context, containerID, sessionName string, windowIndex int, keys string, enter bool) error {
	target := fmt.Sprintf("%s:%d", sessionName, windowIndex)
	argv := []string{"send-keys", "-t", target, keys}
	if enter {
		argv = append(argv, "Enter")
	}
	_, err := c.Run(ctx, containerID, argv)
	return err
}

// ResolveSessionID returns the session name on containerID whose
// deterministic id matches sessionID, or ("", false) if none matches.
func (c *Client) ResolveSessionID(ctx context.Context, containerID, sessionID string) (string, bool, error) {
	sessions, err := c.ListSessions(ctx, containerID)
	if err != nil {
		return "", false, err
	}
	for _, s := range sessions {
		if s.ID == sessionID {
			return s.Name, true, nil
		}
	}
	return "", false, nil
}

// ResolveSessionIDGlobal searches every container for a session whose
// deterministic id matches sessionID. O(containers * sessions) per call;
// fine while the container set stays small.
func (c *Client) ResolveSessionIDGlobal(ctx context.Context, containerIDs []string, sessionID string) (containerID, sessionName string, ok bool, err error) {
	for _, cid := range containerIDs {
		name, found, lerr := c.ResolveSessionID(ctx, cid, sessionID)
		if lerr != nil {
			return "", "", false, lerr
		}
		if found {
			return cid, name, true, nil
		}
	}
	return "", "", false, nil
}

// ActiveWindowIndex returns the index of the session's active window, or
// -1 if no window is marked active (shouldn't happen per the session
// invariant "exactly one window is active").
func ActiveWindowIndex(windows []Window) int {
	for _, w := range windows {
		if w.Active {
			return w.Index
		}
	}
	return -1
}
