// pattern: Imperative Shell
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tmuxdeck/internal/bridge"
	"tmuxdeck/internal/config"
	"tmuxdeck/internal/containers"
	"tmuxdeck/internal/docker"
	"tmuxdeck/internal/instance"
	"tmuxdeck/internal/logging"
	"tmuxdeck/internal/notify"
	"tmuxdeck/internal/process"
	"tmuxdeck/internal/terminal"
	"tmuxdeck/internal/tmux"
	"tmuxdeck/internal/tsnsrv"
	"tmuxdeck/internal/web"
)

var version = "dev"

func main() {
	configDir := flag.String("config-dir", "", "config directory (default: ~/.config/tmuxdeck)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	if configDir == "" {
		configDir = defaultConfigDir()
	}

	cfg, err := config.LoadFromDir(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logManager, err := logging.NewManager(logging.Config{
		FilePath: filepath.Join(configDir, "logs", "tmuxdeckd.log"),
		Level:    cfg.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logManager.Close() }()
	logger := logManager.For("main")

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}
	lock, err := instance.Acquire(configDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	var dockerClient *docker.Client
	host := ""
	if cfg.DockerSocket != "" {
		host = "unix://" + cfg.DockerSocket
	}
	dockerClient, err = docker.NewClientWithHost(host)
	if err != nil {
		logger.Error("docker unavailable, docker source disabled", "error", err)
		dockerClient = nil
	} else {
		defer func() { _ = dockerClient.Close() }()
	}

	bridgeManager := bridge.NewManager(cfg.Bridges, logManager.For("bridge.server"))

	// A typed-nil *docker.Client must not become a non-nil interface.
	var dockerRunner tmux.DockerRunner
	if dockerClient != nil {
		dockerRunner = dockerClient
	}
	tmuxClient := tmux.New(dockerRunner, bridgeManager, cfg.HostTmuxSocket, logManager.For("tmux"))

	containerManager := containers.NewManager(
		tmuxClient, dockerClient, bridgeManager, cfg.HostTmuxSocket, logManager.For("containers"))

	broker := notify.NewBroker()
	notifyManager := notify.NewManager(
		broker, nil, tmuxClient,
		time.Duration(cfg.Notifications.TelegramTimeoutSecs)*time.Second,
		logManager.For("notify"))

	terminalProxy := terminal.NewProxy(
		tmuxClient, dockerClient, bridgeManager, cfg.HostTmuxSocket, logManager.For("terminal"))

	server := web.New(
		web.Config{Bind: cfg.Web.Bind, Port: cfg.Web.Port, PIN: cfg.PIN},
		tmuxClient, containerManager, bridgeManager, terminalProxy, notifyManager,
		logManager.DebugLog(), logManager)

	ln, err := server.Listen()
	if err != nil {
		return err
	}
	if err := lock.WritePort(ln.Addr().String()); err != nil {
		logger.Warn("port file write failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tsn *process.Supervisor
	if cfg.Tailscale.Enabled {
		resolve := cfg.ResolveTokenPath
		if err := cfg.Tailscale.Validate(resolve); err != nil {
			logger.Error("tailscale config invalid, exposure disabled", "error", err)
		} else if procCfg, err := tsnsrv.BuildProcessConfig(cfg.Tailscale, ln.Addr().String(), resolve); err != nil {
			logger.Error("tsnsrv unavailable", "error", err)
		} else {
			tsn = process.NewSupervisor(procCfg, logManager.For("tsnsrv"))
			if err := tsn.Start(ctx); err != nil {
				logger.Error("tsnsrv start failed", "error", err)
				tsn = nil
			} else {
				url, _ := tsnsrv.ReadServiceURL(resolve(cfg.Tailscale.StateDir), cfg.Tailscale)
				logger.Info("tailscale exposure starting", "url", url)
			}
		}
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ln) }()

	logger.Info("tmuxdeckd started", "version", version, "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("web server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	if tsn != nil {
		_ = tsn.Stop()
	}

	logger.Info("tmuxdeckd stopped")
	return nil
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
