package tmux

import (
	"testing"
	"time"
)

func TestParseSessionRows(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		wantCount int
		wantFirst SessionRow
	}{
		{
			name:      "single session",
			output:    "dev|2|1737370800|0\n",
			wantCount: 1,
			wantFirst: SessionRow{Name: "dev", Windows: 2, Created: "1737370800", Attached: false},
		},
		{
			name:      "attached flag",
			output:    "main|1|1737370800|1\n",
			wantCount: 1,
			wantFirst: SessionRow{Name: "main", Windows: 1, Created: "1737370800", Attached: true},
		},
		{
			name:      "multiple sessions with blank lines",
			output:    "dev|2|1737370800|0\n\nmain|1|1737370801|1\n",
			wantCount: 2,
			wantFirst: SessionRow{Name: "dev", Windows: 2, Created: "1737370800", Attached: false},
		},
		{
			name:      "malformed row dropped",
			output:    "garbage\ndev|2|1737370800|0\n",
			wantCount: 1,
			wantFirst: SessionRow{Name: "dev", Windows: 2, Created: "1737370800", Attached: false},
		},
		{
			name:      "non-numeric window count coerced to zero",
			output:    "dev|x|1737370800|0\n",
			wantCount: 1,
			wantFirst: SessionRow{Name: "dev", Windows: 0, Created: "1737370800", Attached: false},
		},
		{
			name:      "empty output",
			output:    "",
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := ParseSessionRows(tt.output)
			if len(rows) != tt.wantCount {
				t.Fatalf("got %d rows, want %d", len(rows), tt.wantCount)
			}
			if tt.wantCount > 0 && rows[0] != tt.wantFirst {
				t.Errorf("first row = %+v, want %+v", rows[0], tt.wantFirst)
			}
		})
	}
}

func TestParseWindowRows(t *testing.T) {
	output := "dev|0|vim|1|2|0|1|nvim|busy\n" +
		"dev|2|shell|0|1|1|0|zsh|\n" +
		"main|0|logs|1|1|0|0|tail|idle\n" +
		"short|row\n"

	byName := ParseWindowRows(output)

	if len(byName) != 2 {
		t.Fatalf("got %d sessions, want 2", len(byName))
	}

	dev := byName["dev"]
	if len(dev) != 2 {
		t.Fatalf("dev has %d windows, want 2", len(dev))
	}
	want := Window{Index: 0, Name: "vim", Active: true, Panes: 2, Bell: false, Activity: true, Command: "nvim", PaneStatus: "busy"}
	if dev[0] != want {
		t.Errorf("dev[0] = %+v, want %+v", dev[0], want)
	}
	if dev[1].Index != 2 || dev[1].Bell != true || dev[1].PaneStatus != "" {
		t.Errorf("dev[1] = %+v", dev[1])
	}

	if len(byName["main"]) != 1 || byName["main"][0].Command != "tail" {
		t.Errorf("main = %+v", byName["main"])
	}
}

func TestParsePaneLines(t *testing.T) {
	output := "0|1|120|40|editor|nvim\n1|0|120|12|shell|zsh\nbad|row\n"

	panes := parsePaneLines(output)
	if len(panes) != 2 {
		t.Fatalf("got %d panes, want 2", len(panes))
	}
	want := Pane{Index: 0, Active: true, Width: 120, Height: 40, Title: "editor", Command: "nvim"}
	if panes[0] != want {
		t.Errorf("panes[0] = %+v, want %+v", panes[0], want)
	}
	if panes[1].Active {
		t.Error("panes[1] should not be active")
	}
}

func TestSessionID(t *testing.T) {
	id := SessionID("local", "main")
	if len(id) != 12 {
		t.Fatalf("id length = %d, want 12", len(id))
	}
	if id != SessionID("local", "main") {
		t.Error("SessionID is not deterministic")
	}
	if id == SessionID("host", "main") {
		t.Error("different containers must hash differently")
	}
}

func TestBridgeSessionID(t *testing.T) {
	if BridgeSessionID("local", "dev") != SessionID("bridge:local", "dev") {
		t.Error("bridge id scheme must embed the source segment")
	}
	if BridgeSessionID("local", "dev") == BridgeSessionID("host", "dev") {
		t.Error("same name on different sources must hash differently")
	}
}

func TestEpochTime(t *testing.T) {
	got := EpochTime("1737370800")
	want := time.Unix(1737370800, 0).UTC()
	if !got.Equal(want) {
		t.Errorf("EpochTime = %v, want %v", got, want)
	}
	if got.Location() != time.UTC {
		t.Error("EpochTime must be UTC")
	}

	before := time.Now().UTC()
	fallback := EpochTime("not-a-number")
	if fallback.Before(before.Add(-time.Minute)) {
		t.Error("malformed timestamp should fall back to now")
	}
}

func TestActiveWindowIndex(t *testing.T) {
	windows := []Window{
		{Index: 0, Active: false},
		{Index: 3, Active: true},
	}
	if got := ActiveWindowIndex(windows); got != 3 {
		t.Errorf("ActiveWindowIndex = %d, want 3", got)
	}
	if got := ActiveWindowIndex(nil); got != -1 {
		t.Errorf("ActiveWindowIndex(nil) = %d, want -1", got)
	}
}
