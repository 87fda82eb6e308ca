// pattern: Functional Core

package bridgeagent

import (
	"context"
	"strings"

	"tmuxdeck/internal/bridge"
)

// routeArgv transforms a ["tmux", ...] argv for execution at source:
// unchanged for local, -S injected for host, rewrapped as a docker exec for
// docker:<id>. Unknown sources fall back to local with a warning.
func (a *Agent) routeArgv(source string, argv []string, interactive bool) []string {
	cfg := a.config()

	switch {
	case source == "" || source == "local":
		return argv

	case source == "host":
		out := make([]string, 0, len(argv)+2)
		out = append(out, argv[0], "-S", cfg.HostTmuxSocket)
		out = append(out, argv[1:]...)
		return out

	case strings.HasPrefix(source, "docker:"):
		id := strings.TrimPrefix(source, "docker:")
		out := []string{"docker"}
		if cfg.DockerSocket != "" {
			out = append(out, "-H", "unix://"+cfg.DockerSocket)
		}
		out = append(out, "exec")
		if interactive {
			out = append(out, "-it")
		}
		out = append(out, id)
		out = append(out, argv...)
		return out

	default:
		a.logger.Warn("unknown source, falling back to local", "source", source)
		return argv
	}
}

// resolveSource picks the execution site for a tmux_cmd whose message lacks
// an explicit source, using the caches from the last collection: the `-t`
// target's session segment by name first, then by pre-hashed id.
func (a *Agent) resolveSource(argv []string) string {
	target := ""
	for i, arg := range argv {
		if arg == "-t" && i+1 < len(argv) {
			target = argv[i+1]
			break
		}
	}
	if target == "" {
		return "local"
	}

	session, _, _ := strings.Cut(target, ":")

	a.mu.Lock()
	defer a.mu.Unlock()
	if source, ok := a.nameSource[session]; ok {
		return source
	}
	if source, ok := a.idSource[session]; ok {
		return source
	}
	return "local"
}

// handleTmuxCmd runs a remotely requested tmux argv and replies with the
// correlated cmd_result.
func (a *Agent) handleTmuxCmd(ctx context.Context, msg bridge.Message) {
	source := msg.Source
	if source == "" {
		source = a.resolveSource(msg.Cmd)
	}

	out, err := a.runTmux(ctx, source, msg.Cmd, false)
	result := bridge.Message{Type: bridge.TypeCmdResult, ID: msg.ID, Output: out}
	if err != nil {
		result.Error = err.Error()
	}
	a.send(ctx, result)
}
