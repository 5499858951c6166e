package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/steveyegge/governor/internal/storage"
)

// PIDFile records which process owns a daemon slot.
type PIDFile struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// ErrAlreadyRunning is returned when a live process holds the PID file.
var ErrAlreadyRunning = errors.New("already running")

// AcquirePIDFile claims path for the current process. A file left by a dead
// process is taken over.
func AcquirePIDFile(path, holder string) (*PIDFile, error) {
	if existing, err := ReadPIDFile(path); err == nil && existing.Alive() {
		return existing, fmt.Errorf("%s %w (PID %d on %s, started %s)", existing.Holder, ErrAlreadyRunning,
			existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}
	p := &PIDFile{Holder: holder, PID: os.Getpid(), Hostname: hostname, StartedAt: time.Now().UTC()}
	if err := storage.WriteJSONAtomic(path, p); err != nil {
		return nil, fmt.Errorf("failed to write pid file: %w", err)
	}
	return p, nil
}

// ReleasePIDFile removes path if the current process owns it.
func ReleasePIDFile(path string) error {
	p, err := ReadPIDFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && p.PID != os.Getpid() {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}

func ReadPIDFile(path string) (*PIDFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p PIDFile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return &p, nil
}

// Alive reports whether the recorded process still exists. Processes on other
// hosts are assumed alive since they cannot be probed.
func (p *PIDFile) Alive() bool {
	host, err := os.Hostname()
	if err != nil || !strings.EqualFold(host, p.Hostname) {
		return true
	}
	proc, err := os.FindProcess(p.PID)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
