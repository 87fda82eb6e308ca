// pattern: Imperative Shell

// Package instance enforces single-daemon semantics: an exclusive file
// lock plus a port file advertising where the running tmuxdeckd listens.
package instance

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	lockFileName = "tmuxdeckd.lock"
	portFileName = "tmuxdeckd.port"
)

// Handle is a held single-instance lock.
type Handle struct {
	dataDir string
	fl      *flock.Flock
}

// Acquire takes the exclusive daemon lock under dataDir. It fails when
// another tmuxdeckd already holds it.
func Acquire(dataDir string) (*Handle, error) {
	fl := flock.New(filepath.Join(dataDir, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another tmuxdeckd instance is already running")
	}
	return &Handle{dataDir: dataDir, fl: fl}, nil
}

// WritePort records the web server's bound address for other tooling.
func (h *Handle) WritePort(addr string) error {
	return os.WriteFile(filepath.Join(h.dataDir, portFileName), []byte(addr), 0600)
}

// Release removes the port file and drops the lock. Safe on a nil handle.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	_ = os.Remove(filepath.Join(h.dataDir, portFileName))
	if h.fl != nil {
		_ = h.fl.Unlock()
	}
}
