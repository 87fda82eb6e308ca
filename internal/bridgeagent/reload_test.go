package bridgeagent

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReloadConfigAppliesFields(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(file, []byte("host_tmux_socket: /new/host.sock\ndocker_label: team=infra\n"), 0644); err != nil {
		t.Fatal(err)
	}

	a := New(Config{UseLocal: true, HostTmuxSocket: "/old/host.sock", DockerSocket: "/var/run/docker.sock"}, nil)
	a.hostBroken = true

	a.reloadConfig(file)

	cfg := a.config()
	if cfg.HostTmuxSocket != "/new/host.sock" {
		t.Errorf("host socket = %q", cfg.HostTmuxSocket)
	}
	if cfg.DockerLabel != "team=infra" {
		t.Errorf("docker label = %q", cfg.DockerLabel)
	}
	if cfg.DockerSocket != "/var/run/docker.sock" {
		t.Error("fields absent from the file must keep their values")
	}
	if a.hostBroken {
		t.Error("a changed host socket must reset the broken flag")
	}
}

func TestReloadConfigKeepsValuesOnParseError(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(file, []byte(":: not yaml ::"), 0644); err != nil {
		t.Fatal(err)
	}

	a := New(Config{HostTmuxSocket: "/old/host.sock"}, nil)
	a.reloadConfig(file)

	if a.config().HostTmuxSocket != "/old/host.sock" {
		t.Error("parse failure must keep previous values")
	}
}

func TestWatchConfigPicksUpWrites(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(file, []byte("docker_label: a=b\n"), 0644); err != nil {
		t.Fatal(err)
	}

	a := New(Config{ConfigFile: file}, nil)
	stop, err := a.watchConfig(file)
	if err != nil {
		t.Fatalf("watchConfig: %v", err)
	}
	defer stop()

	if err := os.WriteFile(file, []byte("docker_label: c=d\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for a.config().DockerLabel != "c=d" {
		if time.Now().After(deadline) {
			t.Fatalf("label = %q, reload never applied", a.config().DockerLabel)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
