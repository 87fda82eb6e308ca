package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Web.Bind != "127.0.0.1" || cfg.Web.Port != 0 {
		t.Errorf("Web = %+v", cfg.Web)
	}
	if cfg.PIN != "" {
		t.Errorf("PIN = %q, want empty (gate disabled)", cfg.PIN)
	}
	if cfg.Notifications.TelegramTimeoutSecs != 60 {
		t.Errorf("TelegramTimeoutSecs = %d", cfg.Notifications.TelegramTimeoutSecs)
	}
	if cfg.Tailscale.Enabled || cfg.Tailscale.Name != "tmuxdeck" || !cfg.Tailscale.Ephemeral {
		t.Errorf("Tailscale = %+v", cfg.Tailscale)
	}
}

func TestLoadFromMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
pin: "4242"
host_tmux_socket: /var/run/tmux-host.sock
docker_socket: /var/run/docker.sock
web:
  bind: "0.0.0.0"
  port: 8080
notifications:
  telegram_timeout_secs: 15
bridges:
  - id: br-a
    name: home-server
    token: tok-a
    enabled: true
  - id: br-b
    name: laptop
    token: tok-b
    enabled: false
tailscale:
  enabled: true
  name: mydeck
  funnel: true
  tags:
    - tag:dev
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.PIN != "4242" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.HostTmuxSocket != "/var/run/tmux-host.sock" || cfg.DockerSocket != "/var/run/docker.sock" {
		t.Errorf("sockets = %q, %q", cfg.HostTmuxSocket, cfg.DockerSocket)
	}
	if cfg.Web.Bind != "0.0.0.0" || cfg.Web.Port != 8080 {
		t.Errorf("Web = %+v", cfg.Web)
	}
	if cfg.Notifications.TelegramTimeoutSecs != 15 {
		t.Errorf("TelegramTimeoutSecs = %d", cfg.Notifications.TelegramTimeoutSecs)
	}
	if len(cfg.Bridges) != 2 || cfg.Bridges[0].Name != "home-server" || !cfg.Bridges[0].Enabled || cfg.Bridges[1].Enabled {
		t.Errorf("Bridges = %+v", cfg.Bridges)
	}
	if !cfg.Tailscale.Enabled || cfg.Tailscale.Name != "mydeck" || !cfg.Tailscale.Funnel {
		t.Errorf("Tailscale = %+v", cfg.Tailscale)
	}
	if len(cfg.Tailscale.Tags) != 1 || cfg.Tailscale.Tags[0] != "tag:dev" {
		t.Errorf("Tags = %v", cfg.Tailscale.Tags)
	}
}

func TestLoadFromFillsDefaultsForOmittedFields(t *testing.T) {
	path := writeConfig(t, "pin: \"1\"\n")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default", cfg.LogLevel)
	}
	if cfg.Web.Bind != "127.0.0.1" {
		t.Errorf("Web.Bind = %q, want default", cfg.Web.Bind)
	}
	if cfg.Notifications.TelegramTimeoutSecs != 60 {
		t.Errorf("TelegramTimeoutSecs = %d, want default", cfg.Notifications.TelegramTimeoutSecs)
	}
}

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error, got %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFromBadYAMLErrors(t *testing.T) {
	path := writeConfig(t, ":: not yaml ::")
	if _, err := LoadFrom(path); err == nil {
		t.Error("malformed yaml must error")
	}
}

func TestTailscaleValidate(t *testing.T) {
	identity := func(s string) string { return s }
	authKey := filepath.Join(t.TempDir(), "authkey")
	if err := os.WriteFile(authKey, []byte("tskey-test"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		tc      TailscaleConfig
		wantErr bool
	}{
		{"disabled skips validation", TailscaleConfig{}, false},
		{"empty name", TailscaleConfig{Enabled: true, AuthKeyPath: authKey}, true},
		{"funnel_only without funnel", TailscaleConfig{Enabled: true, Name: "t", FunnelOnly: true, AuthKeyPath: authKey}, true},
		{"missing auth key", TailscaleConfig{Enabled: true, Name: "t", AuthKeyPath: "/nonexistent/key"}, true},
		{"valid", TailscaleConfig{Enabled: true, Name: "t", AuthKeyPath: authKey}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tc.Validate(identity)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveTokenPath(t *testing.T) {
	cfg := Config{}

	if got := cfg.ResolveTokenPath(""); got != "" {
		t.Errorf("empty path = %q", got)
	}
	if got := cfg.ResolveTokenPath("/etc/tokens/test"); got != "/etc/tokens/test" {
		t.Errorf("absolute path = %q", got)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir: %v", err)
	}
	if got, want := cfg.ResolveTokenPath("~/foo/bar"), filepath.Join(home, "foo/bar"); got != want {
		t.Errorf("tilde path = %q, want %q", got, want)
	}
}
