// pattern: Imperative Shell
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"tmuxdeck/internal/bridgeagent"
	"tmuxdeck/internal/logging"
)

var version = "dev"

func main() {
	var (
		url            = pflag.String("url", "", "server bridge endpoint, e.g. ws://host:8080/ws/bridge")
		token          = pflag.String("token", "", "bridge token issued by the server")
		name           = pflag.String("name", "", "agent display name (env: BRIDGE_NAME)")
		noLocal        = pflag.Bool("no-local", false, "do not expose the agent's own tmux server")
		hostTmuxSocket = pflag.String("host-tmux-socket", "", "host tmux socket path (env: HOST_TMUX_SOCKET)")
		dockerSocket   = pflag.String("docker-socket", "", "docker daemon socket path (env: DOCKER_SOCKET)")
		dockerLabel    = pflag.String("docker-label", "", "only expose containers carrying this label, K or K=V (env: DOCKER_LABEL)")
		reportInterval = pflag.Int("report-interval", 5, "session report interval in seconds")
		configFile     = pflag.String("config-file", "", "optional yaml file with hot-reloadable source settings")
		logFile        = pflag.String("log-file", "", "log file path (default: ~/.config/tmuxdeck/logs/bridge.log)")
		showVersion    = pflag.Bool("version", false, "print version and exit")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if *url == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "error: --url and --token are required")
		pflag.Usage()
		os.Exit(2)
	}

	cfg := bridgeagent.Config{
		URL:            *url,
		Token:          *token,
		Name:           envFallback(*name, "BRIDGE_NAME"),
		UseLocal:       !*noLocal,
		HostTmuxSocket: envFallback(*hostTmuxSocket, "HOST_TMUX_SOCKET"),
		DockerSocket:   envFallback(*dockerSocket, "DOCKER_SOCKET"),
		DockerLabel:    envFallback(*dockerLabel, "DOCKER_LABEL"),
		ReportInterval: time.Duration(*reportInterval) * time.Second,
		ConfigFile:     *configFile,
	}
	if cfg.Name == "" {
		cfg.Name, _ = os.Hostname()
	}

	logPath := *logFile
	if logPath == "" {
		logPath = filepath.Join(defaultConfigDir(), "logs", "bridge.log")
	}
	logManager, err := logging.NewManager(logging.Config{FilePath: logPath, Level: "info"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: init logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logManager.Close() }()

	agent := bridgeagent.New(cfg, logManager.For("bridge.agent"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx); err != nil {
		if errors.Is(err, bridgeagent.ErrAuthFailed) {
			fmt.Fprintln(os.Stderr, "error: authentication rejected by server")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envFallback(flagValue, envKey string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(envKey)
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tmuxdeck")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "tmuxdeck")
	}
	return filepath.Join(home, ".config", "tmuxdeck")
}
