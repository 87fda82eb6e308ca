// pattern: Imperative Shell

package bridgeagent

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// fileConfig is the reloadable subset of the agent configuration. The
// connection credentials deliberately aren't here: changing those requires
// a restart so a half-written file can't wedge the auth loop.
type fileConfig struct {
	HostTmuxSocket *string `yaml:"host_tmux_socket"`
	DockerSocket   *string `yaml:"docker_socket"`
	DockerLabel    *string `yaml:"docker_label"`
}

// watchConfig watches file for writes and applies the reloadable fields on
// each change. Returns a stop function.
func (a *Agent) watchConfig(file string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors and config writers
	// typically replace the file, which drops a direct watch.
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(file) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				a.reloadConfig(file)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				a.logger.Warn("config watch error", "error", err.Error())
			}
		}
	}()

	a.logger.Info("watching config file", "file", file)
	return func() { _ = watcher.Close() }, nil
}

// reloadConfig re-reads the reloadable fields. Parse failures keep the
// previous values.
func (a *Agent) reloadConfig(file string) {
	data, err := os.ReadFile(file)
	if err != nil {
		a.logger.Warn("config reload read failed", "file", file, "error", err.Error())
		return
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		a.logger.Warn("config reload parse failed", "file", file, "error", err.Error())
		return
	}

	a.mu.Lock()
	if fc.HostTmuxSocket != nil {
		a.cfg.HostTmuxSocket = *fc.HostTmuxSocket
		a.hostBroken = false
	}
	if fc.DockerSocket != nil {
		a.cfg.DockerSocket = *fc.DockerSocket
	}
	if fc.DockerLabel != nil {
		a.cfg.DockerLabel = *fc.DockerLabel
	}
	a.mu.Unlock()

	a.logger.Info("config reloaded", "file", file)
}
