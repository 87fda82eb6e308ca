// pattern: Imperative Shell

// Package containers builds the uniform "containers → sessions → windows →
// panes" model the browser sees, aggregating the synthetic local entry, the
// optional host entry, Docker engine state, and connected bridge agents.
package containers

import (
	"context"
	"strings"

	"tmuxdeck/internal/bridge"
	"tmuxdeck/internal/docker"
	"tmuxdeck/internal/logging"
	"tmuxdeck/internal/tmux"
)

// Container statuses surfaced to the UI.
const (
	StatusRunning  = "running"
	StatusCreating = "creating"
	StatusStopped  = "stopped"
	StatusError    = "error"
)

// Container types.
const (
	TypeLocal  = "local"
	TypeHost   = "host"
	TypeDocker = "docker"
	TypeBridge = "bridge"
)

// Container is one logical origin of tmux sessions.
type Container struct {
	ID            string         `json:"id"`
	DisplayName   string         `json:"display_name"`
	Status        string         `json:"status"`
	ContainerType string         `json:"container_type"`
	Sessions      []tmux.Session `json:"sessions"`
}

// Manager aggregates container state across every source. It holds no
// state of its own: every List call reflects the current world.
type Manager struct {
	tmux       *tmux.Client
	docker     *docker.Client
	bridges    *bridge.Manager
	hostSocket string
	logger     *logging.ScopedLogger
}

// NewManager constructs the aggregator. docker and bridges may be nil.
func NewManager(tm *tmux.Client, dockerClient *docker.Client, bridges *bridge.Manager, hostSocket string, logger *logging.ScopedLogger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		tmux:       tm,
		docker:     dockerClient,
		bridges:    bridges,
		hostSocket: hostSocket,
		logger:     logger,
	}
}

// List returns every container, sessions included. The synthetic local
// entry always exists; host exists iff a socket is configured; bridge
// entries exist iff their agent is currently connected.
func (m *Manager) List(ctx context.Context) []Container {
	out := []Container{m.localContainer(ctx)}

	if m.hostSocket != "" {
		out = append(out, m.hostContainer(ctx))
	}

	if m.docker != nil {
		out = append(out, m.dockerContainers(ctx)...)
	}

	if m.bridges != nil {
		out = append(out, m.bridgeContainers()...)
	}

	return out
}

// IDs returns every container id, cheapest first; used by the global
// session-id resolver.
func (m *Manager) IDs(ctx context.Context) []string {
	ids := []string{"local"}
	if m.hostSocket != "" {
		ids = append(ids, "host")
	}
	if m.docker != nil {
		if infos, err := m.docker.ListContainers(ctx); err == nil {
			for _, info := range infos {
				if info.State == "running" {
					ids = append(ids, shortID(info.ID))
				}
			}
		}
	}
	if m.bridges != nil {
		for _, bid := range m.bridges.Connected() {
			ids = append(ids, "bridge:"+bid)
		}
	}
	return ids
}

// Sessions lists the sessions of one container. Bridge containers answer
// from the agent's last report rather than a round trip.
func (m *Manager) Sessions(ctx context.Context, containerID string) ([]tmux.Session, error) {
	if bid, ok := strings.CutPrefix(containerID, "bridge:"); ok {
		return m.bridgeSessions(bid), nil
	}
	return m.tmux.ListSessions(ctx, containerID)
}

func (m *Manager) localContainer(ctx context.Context) Container {
	sessions, err := m.tmux.ListSessions(ctx, "local")
	if err != nil {
		m.logger.Warn("local session listing failed", "error", err.Error())
	}
	return Container{
		ID:            "local",
		DisplayName:   "Local",
		Status:        StatusRunning,
		ContainerType: TypeLocal,
		Sessions:      sessions,
	}
}

func (m *Manager) hostContainer(ctx context.Context) Container {
	sessions, err := m.tmux.ListSessions(ctx, "host")
	if err != nil {
		m.logger.Warn("host session listing failed", "error", err.Error())
	}
	return Container{
		ID:            "host",
		DisplayName:   "Host",
		Status:        StatusRunning,
		ContainerType: TypeHost,
		Sessions:      sessions,
	}
}

func (m *Manager) dockerContainers(ctx context.Context) []Container {
	infos, err := m.docker.ListContainers(ctx)
	if err != nil {
		m.logger.Warn("docker container listing failed", "error", err.Error())
		return nil
	}

	out := make([]Container, 0, len(infos))
	for _, info := range infos {
		id := shortID(info.ID)
		c := Container{
			ID:            id,
			DisplayName:   info.Name,
			Status:        dockerStatus(info.State),
			ContainerType: TypeDocker,
		}
		if c.Status == StatusRunning {
			sessions, err := m.tmux.ListSessions(ctx, id)
			if err == nil {
				c.Sessions = sessions
			}
		}
		out = append(out, c)
	}
	return out
}

func (m *Manager) bridgeContainers() []Container {
	var out []Container
	for _, bid := range m.bridges.Connected() {
		conn, ok := m.bridges.Lookup(bid)
		if !ok {
			continue
		}
		name := conn.Name
		if name == "" {
			name = bid
		}
		out = append(out, Container{
			ID:            "bridge:" + bid,
			DisplayName:   name,
			Status:        StatusRunning,
			ContainerType: TypeBridge,
			Sessions:      m.bridgeSessions(bid),
		})
	}
	return out
}

func (m *Manager) bridgeSessions(bridgeID string) []tmux.Session {
	conn, ok := m.bridges.Lookup(bridgeID)
	if !ok {
		return nil
	}
	infos := conn.Sessions()
	sessions := make([]tmux.Session, 0, len(infos))
	for _, info := range infos {
		sessions = append(sessions, info.Session)
	}
	return sessions
}

// dockerStatus maps Docker engine states onto the UI's status vocabulary.
func dockerStatus(state string) string {
	switch state {
	case "running", "paused", "restarting":
		return StatusRunning
	case "created":
		return StatusCreating
	case "exited", "removing":
		return StatusStopped
	case "dead":
		return StatusError
	default:
		return StatusStopped
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
