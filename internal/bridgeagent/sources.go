// pattern: Imperative Shell

package bridgeagent

import (
	"bytes"
	"context"
	"net"
	"os/exec"
	"strings"
	"time"

	"tmuxdeck/internal/bridge"
	"tmuxdeck/internal/tmux"
)

const hostSocketProbeTimeout = 2 * time.Second

// startupDiagnostics logs each configured source and probes the host tmux
// socket. An unreachable socket (the Docker Desktop VM-boundary case) marks
// the host source broken for the process lifetime so collection skips it.
func (a *Agent) startupDiagnostics(ctx context.Context) {
	cfg := a.config()

	if cfg.UseLocal {
		a.logger.Info("source configured", "source", "local")
	}

	if cfg.HostTmuxSocket != "" {
		conn, err := net.DialTimeout("unix", cfg.HostTmuxSocket, hostSocketProbeTimeout)
		if err != nil {
			a.logger.Error("host tmux socket unreachable, host source disabled",
				"socket", cfg.HostTmuxSocket, "error", err.Error())
			a.mu.Lock()
			a.hostBroken = true
			a.mu.Unlock()
		} else {
			_ = conn.Close()
			a.logger.Info("source configured", "source", "host", "socket", cfg.HostTmuxSocket)
		}
	}

	if a.docker != nil {
		if err := a.docker.Ping(ctx); err != nil {
			a.logger.Error("docker daemon unreachable", "error", err.Error())
		} else {
			a.logger.Info("source configured", "source", "docker", "label", cfg.DockerLabel)
		}
	}
}

// sources enumerates the currently usable execution sites.
func (a *Agent) sources(ctx context.Context) []string {
	cfg := a.config()
	a.mu.Lock()
	hostBroken := a.hostBroken
	a.mu.Unlock()

	var out []string
	if cfg.UseLocal {
		out = append(out, "local")
	}
	if cfg.HostTmuxSocket != "" && !hostBroken {
		out = append(out, "host")
	}
	if a.docker != nil {
		containers, err := a.docker.ListContainersByLabel(ctx, cfg.DockerLabel)
		if err != nil {
			a.logger.Warn("docker container listing failed", "error", err.Error())
		} else {
			for _, c := range containers {
				if c.State != "running" {
					continue
				}
				out = append(out, "docker:"+shortID(c.ID))
			}
		}
	}
	return out
}

// collectSessions gathers every session across every source with the same
// two-command listing the server's façade uses, pre-hashing the bridge id
// scheme, and refreshes the routing caches as a side effect.
func (a *Agent) collectSessions(ctx context.Context) ([]bridge.SessionInfo, []string) {
	sources := a.sources(ctx)

	var all []bridge.SessionInfo
	nameSource := make(map[string]string)
	idSource := make(map[string]string)

	for _, source := range sources {
		sessOut, err := a.runTmux(ctx, source, []string{"list-sessions", "-F", tmux.SessionListFormat}, false)
		if err != nil || strings.TrimSpace(sessOut) == "" {
			continue
		}
		winOut, _ := a.runTmux(ctx, source, []string{"list-windows", "-a", "-F", tmux.WindowListFormat}, false)
		windowsByName := tmux.ParseWindowRows(winOut)

		for _, row := range tmux.ParseSessionRows(sessOut) {
			info := bridge.SessionInfo{
				Session: tmux.Session{
					ID:       tmux.BridgeSessionID(source, row.Name),
					Name:     row.Name,
					Windows:  windowsByName[row.Name],
					Created:  tmux.EpochTime(row.Created),
					Attached: row.Attached,
				},
				Source: source,
			}
			all = append(all, info)
			nameSource[row.Name] = source
			idSource[info.ID] = source
		}
	}

	a.mu.Lock()
	a.nameSource = nameSource
	a.idSource = idSource
	a.mu.Unlock()

	return all, sources
}

// reportSessions pushes the current inventory to the server.
func (a *Agent) reportSessions(ctx context.Context) {
	sessions, sources := a.collectSessions(ctx)
	a.send(ctx, bridge.Message{
		Type:     bridge.TypeSessions,
		Sessions: sessions,
		Sources:  sources,
	})
}

// runTmux executes a tmux argv routed to the given source and returns its
// stdout. interactive selects the `-it` docker exec variant and is only
// used for attach.
func (a *Agent) runTmux(ctx context.Context, source string, argv []string, interactive bool) (string, error) {
	full := a.routeArgv(source, append([]string{"tmux"}, argv...), interactive)

	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		a.logger.Warn("tmux command failed",
			"source", source, "args", argv, "error", err.Error(), "stderr", stderr.String())
		return "", err
	}
	return stdout.String(), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
