package debuglog

import (
	"fmt"
	"testing"
)

func TestRing_AppendAndEntries(t *testing.T) {
	r := NewRing(10)
	r.Append("info", "tmux", "session created", map[string]any{"session": "main"})

	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("Entries() len = %d, want 1", len(entries))
	}
	if entries[0].Source != "tmux" || entries[0].Message != "session created" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if entries[0].ID == "" {
		t.Error("expected non-empty ID")
	}
}

func TestRing_EvictsOldestOnOverflow(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Append("info", "test", fmt.Sprintf("entry-%d", i), nil)
	}

	entries := r.Entries()
	if len(entries) != 3 {
		t.Fatalf("Entries() len = %d, want 3", len(entries))
	}
	if entries[0].Message != "entry-2" {
		t.Errorf("oldest surviving entry = %q, want %q", entries[0].Message, "entry-2")
	}
	if entries[2].Message != "entry-4" {
		t.Errorf("newest entry = %q, want %q", entries[2].Message, "entry-4")
	}
}

func TestRing_DefaultCapacity(t *testing.T) {
	r := NewRing(0)
	if r.capacity != DefaultCapacity {
		t.Errorf("capacity = %d, want %d", r.capacity, DefaultCapacity)
	}
}

func TestRing_NeverExceeds2000(t *testing.T) {
	r := NewRing(DefaultCapacity)
	for i := 0; i < DefaultCapacity+500; i++ {
		r.Append("info", "test", "x", nil)
	}
	if got := r.Len(); got != DefaultCapacity {
		t.Errorf("Len() = %d, want %d", got, DefaultCapacity)
	}
}

func TestRing_Clear(t *testing.T) {
	r := NewRing(10)
	r.Append("warn", "bridge", "disconnect", nil)
	r.Clear()
	if got := r.Len(); got != 0 {
		t.Errorf("Len() after Clear = %d, want 0", got)
	}
}

func TestRing_EntriesReturnsSnapshotCopy(t *testing.T) {
	r := NewRing(10)
	r.Append("info", "test", "first", nil)

	snapshot := r.Entries()
	r.Append("info", "test", "second", nil)

	if len(snapshot) != 1 {
		t.Errorf("snapshot should be unaffected by later appends, got len %d", len(snapshot))
	}
}

func TestRing_WriteParsesZapJSON(t *testing.T) {
	r := NewRing(10)
	line := []byte(`{"level":"warn","ts":1700000000,"logger":"bridge.server","msg":"auth failed","bridge_id":"br-1"}`)

	n, err := r.Write(line)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != len(line) {
		t.Errorf("Write() n = %d, want %d", n, len(line))
	}

	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("Entries() len = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Level != "warn" || e.Source != "bridge.server" || e.Message != "auth failed" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Detail["bridge_id"] != "br-1" {
		t.Errorf("Detail[bridge_id] = %v, want br-1", e.Detail["bridge_id"])
	}
}

func TestRing_WriteSwallowsUnparseable(t *testing.T) {
	r := NewRing(10)
	n, err := r.Write([]byte("not json"))
	if err != nil {
		t.Fatalf("Write() error = %v, want nil", err)
	}
	if n != len("not json") {
		t.Errorf("Write() n = %d", n)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0 for unparseable write", r.Len())
	}
}
