package bridgeagent

import (
	"reflect"
	"testing"
)

func testAgent() *Agent {
	return New(Config{
		UseLocal:       true,
		HostTmuxSocket: "/tmp/host.sock",
		DockerSocket:   "/var/run/docker.sock",
	}, nil)
}

func TestRouteArgv(t *testing.T) {
	a := testAgent()
	argv := []string{"tmux", "list-sessions", "-F", "#{session_name}"}

	tests := []struct {
		name        string
		source      string
		interactive bool
		want        []string
	}{
		{
			name:   "local unchanged",
			source: "local",
			want:   argv,
		},
		{
			name:   "empty source unchanged",
			source: "",
			want:   argv,
		},
		{
			name:   "host injects socket after tmux",
			source: "host",
			want:   []string{"tmux", "-S", "/tmp/host.sock", "list-sessions", "-F", "#{session_name}"},
		},
		{
			name:   "docker rewraps",
			source: "docker:deadbeef1234",
			want: []string{
				"docker", "-H", "unix:///var/run/docker.sock", "exec", "deadbeef1234",
				"tmux", "list-sessions", "-F", "#{session_name}",
			},
		},
		{
			name:        "docker interactive adds -it",
			source:      "docker:deadbeef1234",
			interactive: true,
			want: []string{
				"docker", "-H", "unix:///var/run/docker.sock", "exec", "-it", "deadbeef1234",
				"tmux", "list-sessions", "-F", "#{session_name}",
			},
		},
		{
			name:   "unknown source falls back to local",
			source: "mystery",
			want:   argv,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.routeArgv(tt.source, argv, tt.interactive)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("routeArgv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRouteArgvDockerWithoutSocketOmitsHostFlag(t *testing.T) {
	a := New(Config{UseLocal: true}, nil)
	got := a.routeArgv("docker:abc", []string{"tmux", "ls"}, false)
	want := []string{"docker", "exec", "abc", "tmux", "ls"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("routeArgv() = %v, want %v", got, want)
	}
}

func TestResolveSource(t *testing.T) {
	a := testAgent()
	a.nameSource = map[string]string{"dev": "docker:abc"}
	a.idSource = map[string]string{"0123456789ab": "host"}

	tests := []struct {
		name string
		argv []string
		want string
	}{
		{"by session name", []string{"select-window", "-t", "dev:1"}, "docker:abc"},
		{"by pre-hashed id", []string{"kill-session", "-t", "0123456789ab"}, "host"},
		{"unknown target falls back", []string{"kill-session", "-t", "ghost"}, "local"},
		{"no target falls back", []string{"list-sessions"}, "local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.resolveSource(tt.argv); got != tt.want {
				t.Errorf("resolveSource(%v) = %q, want %q", tt.argv, got, tt.want)
			}
		})
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "0123456789ab" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID must pass short ids through, got %q", got)
	}
}
