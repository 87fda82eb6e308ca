// pattern: Functional Core

// Package bridge implements the server side of the remote agent protocol:
// a persistent WebSocket per agent carrying JSON control frames and
// channel-multiplexed binary terminal frames.
package bridge

import (
	"encoding/binary"
	"fmt"

	"tmuxdeck/internal/tmux"
)

// Message is the single JSON frame exchanged in both directions. The Type
// field selects which of the remaining fields are meaningful; unknown types
// are logged and ignored by both ends.
type Message struct {
	Type string `json:"type"`

	// Correlated request/response.
	ID string `json:"id,omitempty"`

	// auth / auth_ok / auth_error
	Token    string `json:"token,omitempty"`
	Name     string `json:"name,omitempty"`
	BridgeID string `json:"bridge_id,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// attach / detach / resize / detached
	SessionName string `json:"session_name,omitempty"`
	WindowIndex int    `json:"window_index,omitempty"`
	ChannelID   uint16 `json:"channel_id,omitempty"`
	Cols        int    `json:"cols,omitempty"`
	Rows        int    `json:"rows,omitempty"`

	// tmux_cmd / cmd_result
	Cmd    []string `json:"cmd,omitempty"`
	Source string   `json:"source,omitempty"`
	Output string   `json:"output,omitempty"`
	Error  string   `json:"error,omitempty"`

	// sessions
	Sessions []SessionInfo `json:"sessions,omitempty"`
	Sources  []string      `json:"sources,omitempty"`
}

// SessionInfo is one tmux session as reported by an agent: the shared
// session shape plus the source it lives on, so the server can route
// follow-up commands without a round trip.
type SessionInfo struct {
	tmux.Session
	Source string `json:"source"`
}

// Message type constants. Agent-to-server and server-to-agent types share
// one namespace because the wire is symmetric JSON.
const (
	TypeAuth        = "auth"
	TypeAuthOK      = "auth_ok"
	TypeAuthError   = "auth_error"
	TypeSessions    = "sessions"
	TypeAttach      = "attach"
	TypeAttachOK    = "attach_ok"
	TypeAttachError = "attach_error"
	TypeDetach      = "detach"
	TypeDetached    = "detached"
	TypeResize      = "resize"
	TypeTmuxCmd     = "tmux_cmd"
	TypeCmdResult   = "cmd_result"
	TypeListSess    = "list_sessions"
	TypePing        = "ping"
	TypePong        = "pong"
)

// EncodeBinary prefixes payload with the big-endian channel id, producing
// one multiplexed terminal frame.
func EncodeBinary(channel uint16, payload []byte) []byte {
	frame := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(frame, channel)
	copy(frame[2:], payload)
	return frame
}

// DecodeBinary splits a multiplexed frame into its channel id and payload.
func DecodeBinary(frame []byte) (uint16, []byte, error) {
	if len(frame) < 2 {
		return 0, nil, fmt.Errorf("binary frame too short: %d bytes", len(frame))
	}
	return binary.BigEndian.Uint16(frame), frame[2:], nil
}
