package tmux

import (
	"strconv"
	"strings"
)

// SessionListFormat is the -F format string for `tmux list-sessions`:
// one two-command listing strategy shared by the façade and the bridge
// agent.
const SessionListFormat = "#{session_name}|#{session_windows}|#{session_created}|#{session_attached}"

// WindowListFormat is the -F format string for `tmux list-windows -a`.
const WindowListFormat = "#{session_name}|#{window_index}|#{window_name}|#{window_active}|#{window_panes}|#{window_bell_flag}|#{window_activity_flag}|#{pane_current_command}|#{@pane_status}"

// PaneListFormat is the -F format string for `tmux list-panes`.
const PaneListFormat = "#{pane_index}|#{pane_active}|#{pane_width}|#{pane_height}|#{pane_title}|#{pane_current_command}"

const (
	sessionListFields = 4
	windowListFields  = 9
	paneListFields    = 6
)

// SessionRow is an intermediate row from list-sessions, before window
// lists are attached and ids assigned. Exported because the bridge agent
// reuses the same two-command listing strategy with its own id scheme.
type SessionRow struct {
	Name     string
	Windows  int
	Created  string
	Attached bool
}

// ParseSessionRows parses `tmux list-sessions -F SessionListFormat`
// output. Empty lines and malformed rows (too few fields) are ignored.
func ParseSessionRows(output string) []SessionRow {
	var out []SessionRow
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < sessionListFields {
			continue
		}
		windows := 0
		if isAllDigits(fields[1]) {
			windows, _ = strconv.Atoi(fields[1])
		}
		out = append(out, SessionRow{
			Name:     fields[0],
			Windows:  windows,
			Created:  fields[2],
			Attached: boolFlag(fields[3]),
		})
	}
	return out
}

// ParseWindowRows parses `tmux list-windows -a -F WindowListFormat`
// output, grouped by session name.
func ParseWindowRows(output string) map[string][]Window {
	byName := make(map[string][]Window)
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < windowListFields {
			continue
		}
		index := 0
		if isAllDigits(fields[1]) {
			index, _ = strconv.Atoi(fields[1])
		}
		panes := 0
		if isAllDigits(fields[4]) {
			panes, _ = strconv.Atoi(fields[4])
		}

		w := Window{
			Index:      index,
			Name:       fields[2],
			Active:     boolFlag(fields[3]),
			Panes:      panes,
			Bell:       boolFlag(fields[5]),
			Activity:   boolFlag(fields[6]),
			Command:    fields[7],
			PaneStatus: fields[8],
		}
		name := fields[0]
		byName[name] = append(byName[name], w)
	}
	return byName
}

// parsePaneLines parses `tmux list-panes -F PaneListFormat` output.
func parsePaneLines(output string) []Pane {
	var out []Pane
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < paneListFields {
			continue
		}
		index := 0
		if isAllDigits(fields[0]) {
			index, _ = strconv.Atoi(fields[0])
		}
		width := 0
		if isAllDigits(fields[2]) {
			width, _ = strconv.Atoi(fields[2])
		}
		height := 0
		if isAllDigits(fields[3]) {
			height, _ = strconv.Atoi(fields[3])
		}

		out = append(out, Pane{
			Index:   index,
			Active:  boolFlag(fields[1]),
			Width:   width,
			Height:  height,
			Title:   fields[4],
			Command: fields[5],
		})
	}
	return out
}
