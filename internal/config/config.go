// pattern: Imperative Shell

// Package config loads TmuxDeck's YAML configuration file, following the
// same load-with-defaults shape used throughout the rest of the codebase.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level TmuxDeck configuration.
type Config struct {
	LogLevel string    `yaml:"log_level"`
	Web      WebConfig `yaml:"web"`

	// PIN gates the terminal WebSocket and notification SSE endpoints via a
	// session cookie. Empty disables the gate entirely.
	PIN string `yaml:"pin"`

	// HostTmuxSocket, when non-empty, enables the synthetic "host" container
	// backed by a tmux server reached over this Unix socket.
	HostTmuxSocket string `yaml:"host_tmux_socket"`

	// DockerSocket overrides the Docker engine API socket; empty uses the
	// SDK's DOCKER_HOST/default negotiation.
	DockerSocket string `yaml:"docker_socket"`

	// Bridges are the known remote bridge agent credentials. The CRUD that
	// creates/revokes these lives in the external REST surface; the core
	// only reads this list at startup to seed the bridge manager.
	Bridges []BridgeConfig `yaml:"bridges"`

	Notifications NotificationConfig `yaml:"notifications"`

	Tailscale TailscaleConfig `yaml:"tailscale"`
}

// WebConfig is the HTTP bind address for the control plane.
type WebConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

// BridgeConfig is a remote bridge agent's registered credential, matching
// the data model's BridgeConfig entity.
type BridgeConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Token   string `yaml:"token"`
	Enabled bool   `yaml:"enabled"`
}

// NotificationConfig holds the notification fan-out's tunables.
type NotificationConfig struct {
	TelegramTimeoutSecs int `yaml:"telegram_timeout_secs"`
}

// TailscaleConfig exposes the control plane over a tailnet (optionally via
// Funnel).
type TailscaleConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Name        string   `yaml:"name"`
	Funnel      bool     `yaml:"funnel"`
	FunnelOnly  bool     `yaml:"funnel_only"`
	Ephemeral   bool     `yaml:"ephemeral"`
	Plaintext   bool     `yaml:"plaintext"`
	AuthKeyPath string   `yaml:"auth_key_path"`
	StateDir    string   `yaml:"state_dir"`
	Tags        []string `yaml:"tags"`
}

// ResolvePathFunc expands a path (e.g. "~/..."). See Config.ResolveTokenPath.
type ResolvePathFunc func(string) string

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Web: WebConfig{
			Bind: "127.0.0.1",
			Port: 0, // 0 lets the OS pick a free port
		},
		Notifications: NotificationConfig{
			TelegramTimeoutSecs: 60,
		},
		Tailscale: TailscaleConfig{
			Name:        "tmuxdeck",
			Ephemeral:   true,
			AuthKeyPath: "~/.config/tmuxdeck/tailscale-authkey",
			StateDir:    "~/.local/share/tmuxdeck/tsnsrv",
		},
	}
}

// Load loads the config from the default location (~/.config/tmuxdeck/config.yaml).
func Load() (Config, error) {
	return LoadFromDir(getConfigDir())
}

// LoadFromDir loads config.yaml from the given directory.
func LoadFromDir(configDir string) (Config, error) {
	return LoadFrom(filepath.Join(configDir, "config.yaml"))
}

// LoadFrom loads and merges config.yaml at the given path over the defaults.
// A missing file is not an error — the defaults are returned unchanged.
func LoadFrom(configPath string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), err
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Notifications.TelegramTimeoutSecs <= 0 {
		cfg.Notifications.TelegramTimeoutSecs = 60
	}

	return cfg, nil
}

// ResolveTokenPath expands a path, resolving ~/... to the user's home directory.
// Returns empty string if path is empty.
func (c *Config) ResolveTokenPath(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Validate validates the TailscaleConfig.
// resolvePath expands ~ in paths (use Config.ResolveTokenPath).
func (tc *TailscaleConfig) Validate(resolvePath ResolvePathFunc) error {
	if !tc.Enabled {
		return nil
	}
	if tc.Name == "" {
		return errors.New("tailscale.name must be non-empty when tailscale is enabled")
	}
	if tc.FunnelOnly && !tc.Funnel {
		return errors.New("tailscale.funnel_only requires tailscale.funnel to be enabled")
	}
	authPath := resolvePath(tc.AuthKeyPath)
	if authPath == "" {
		return errors.New("tailscale.auth_key_path must be set when tailscale is enabled")
	}
	if _, err := os.Stat(authPath); err != nil {
		return fmt.Errorf("tailscale auth key file not found: %s", authPath)
	}
	return nil
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tmuxdeck")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "tmuxdeck")
	}

	return filepath.Join(home, ".config", "tmuxdeck")
}
