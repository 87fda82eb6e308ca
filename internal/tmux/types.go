package tmux

import "time"

// Session is one tmux session as surfaced to the API.
type Session struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Windows  []Window  `json:"windows,omitempty"`
	Created  time.Time `json:"created"`
	Attached bool      `json:"attached"`
}

// Window is one tmux window.
type Window struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
	Panes      int    `json:"panes"`
	Bell       bool   `json:"bell"`
	Activity   bool   `json:"activity"`
	Command    string `json:"command"`
	PaneStatus string `json:"pane_status,omitempty"`
}

// Pane is one tmux pane.
type Pane struct {
	Index   int    `json:"index"`
	Active  bool   `json:"active"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Title   string `json:"title"`
	Command string `json:"command"`
}
