// pattern: Functional Core (arg building) + Imperative Shell (LookPath)

// Package tsnsrv exposes the TmuxDeck web server over a tailnet by
// supervising a tsnsrv reverse-proxy child process, and reads back the
// service FQDN from tailscaled's state for operator display.
package tsnsrv

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"tmuxdeck/internal/config"
	"tmuxdeck/internal/process"
)

// tailscaleProfile is the subset of a tailscaled profile we need to
// recover the MagicDNS name.
type tailscaleProfile struct {
	Name string `json:"Name"`
	Key  string `json:"Key"`
}

// ReadServiceURL reads the service FQDN from tsnsrv's state directory.
// Returns the URL and true when the FQDN was parsed, or a placeholder URL
// and false when the state can't be read yet (first start, not joined).
func ReadServiceURL(stateDir string, tc config.TailscaleConfig) (string, bool) {
	scheme := "https"
	if tc.Plaintext {
		scheme = "http"
	}
	fallback := fmt.Sprintf("%s://%s.<tailnet>.ts.net", scheme, tc.Name)

	name, ok := serviceName(filepath.Join(stateDir, "tailscaled.state"))
	if !ok {
		return fallback, false
	}
	return fmt.Sprintf("%s://%s", scheme, name), true
}

// serviceName digs the current profile's MagicDNS name out of the
// tailscaled state file. Both the profile pointer and the profile map are
// stored base64-wrapped inside the state JSON.
func serviceName(statePath string) (string, bool) {
	data, err := os.ReadFile(statePath)
	if err != nil {
		return "", false
	}

	var state map[string]json.RawMessage
	if err := json.Unmarshal(data, &state); err != nil {
		return "", false
	}

	profileKey, ok := decodeB64String(state["_current-profile"])
	if !ok {
		return "", false
	}
	profilesJSON, ok := decodeB64String(state["_profiles"])
	if !ok {
		return "", false
	}

	var profiles map[string]tailscaleProfile
	if err := json.Unmarshal([]byte(profilesJSON), &profiles); err != nil {
		return "", false
	}

	// The pointer may match the map key directly, or the profile's Key
	// field (e.g. pointer "profile-7213" against map key "7213").
	if p, ok := profiles[profileKey]; ok && p.Name != "" {
		return p.Name, true
	}
	for _, p := range profiles {
		if p.Key == profileKey && p.Name != "" {
			return p.Name, true
		}
	}
	return "", false
}

// decodeB64String unwraps a JSON string holding base64 data.
func decodeB64String(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var b64 string
	if err := json.Unmarshal(raw, &b64); err != nil {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

// BuildProcessConfig builds the supervisor config for tsnsrv, proxying the
// tailnet name to upstreamAddr (the web server's bound address).
// resolvePath expands ~ in paths (use Config.ResolveTokenPath).
func BuildProcessConfig(tc config.TailscaleConfig, upstreamAddr string, resolvePath config.ResolvePathFunc) (process.Config, error) {
	binary, err := exec.LookPath("tsnsrv")
	if err != nil {
		return process.Config{}, fmt.Errorf("tsnsrv binary not found in PATH: %w", err)
	}
	return BuildProcessConfigWith(tc, upstreamAddr, resolvePath, binary)
}

// BuildProcessConfigWith is the pure core of BuildProcessConfig: no
// LookPath, binary supplied by the caller.
func BuildProcessConfigWith(tc config.TailscaleConfig, upstreamAddr string, resolvePath config.ResolvePathFunc, binary string) (process.Config, error) {
	var args []string

	if tc.Name != "" {
		args = append(args, "-name", tc.Name)
	}
	if tc.Ephemeral {
		args = append(args, "-ephemeral")
	}
	if tc.Funnel {
		args = append(args, "-funnel")
	}
	if tc.FunnelOnly {
		args = append(args, "-funnelOnly")
	}
	if tc.Plaintext {
		args = append(args, "-plaintext")
	}
	if authPath := resolvePath(tc.AuthKeyPath); authPath != "" {
		args = append(args, "-authkeyPath", authPath)
	}
	if stateDir := resolvePath(tc.StateDir); stateDir != "" {
		args = append(args, "-stateDir", stateDir)
	}
	for _, tag := range tc.Tags {
		args = append(args, "-tag", tag)
	}

	// The upstream URL is the final positional argument.
	args = append(args, fmt.Sprintf("http://%s", upstreamAddr))

	return process.Config{
		Name:       "tsnsrv",
		Binary:     binary,
		Args:       args,
		RestartOn:  process.OnFailure,
		MaxRetries: 5,
		RetryDelay: 3 * time.Second,
	}, nil
}
