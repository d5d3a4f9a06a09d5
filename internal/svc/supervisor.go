// Package svc abstracts the platform service manager behind a single
// supervisor capability interface. Three variants exist: systemd unit files,
// launchd plists, and a kardianos/service wrapper for platforms without a
// native declarative supervisor (Windows SCM included).
//
// IsAlive reflects the service manager's process-table view only; it is not
// an application-level health check. The watchdog layers tunnel-level health
// on top of this.
package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// UnitSpec describes a long-running process to register as an auto-starting,
// auto-restarting background service with output redirected to LogPath.
type UnitSpec struct {
	Name        string
	DisplayName string
	Description string
	Command     string
	Args        []string
	Env         map[string]string
	LogPath     string
	Autostart   bool
	UserName    string
}

// Record is the opaque handle to a registered unit. It is owned by the
// component that registered it and released on Remove.
type Record struct {
	Name    string
	Backend string
}

// ErrNotRegistered is returned for operations on a record whose unit is no
// longer known to the service manager.
var ErrNotRegistered = errors.New("service not registered")

// Supervisor is the platform-capability abstraction over service managers.
// All blocking operations take a context so a hung manager call can be
// bounded by the caller.
type Supervisor interface {
	Register(ctx context.Context, spec UnitSpec) (*Record, error)
	Start(ctx context.Context, rec *Record) error
	Stop(ctx context.Context, rec *Record) error
	Restart(ctx context.Context, rec *Record) error
	IsAlive(ctx context.Context, rec *Record) (bool, error)
	Remove(ctx context.Context, rec *Record) error
}

// New selects the native supervisor variant for the host platform:
// systemd on Linux when present, launchd on Darwin, and the
// kardianos/service wrapper everywhere else.
func New() (Supervisor, error) {
	switch runtime.GOOS {
	case "linux":
		if systemdPresent() {
			return newSystemd(execRunner{}), nil
		}
		return newWrapper(), nil
	case "darwin":
		return newLaunchd(execRunner{}), nil
	case "windows":
		return newWrapper(), nil
	default:
		return nil, fmt.Errorf("no service supervisor for %s", runtime.GOOS)
	}
}

func systemdPresent() bool {
	if _, err := os.Stat("/run/systemd/system"); err == nil {
		return true
	}
	_, err := exec.LookPath("systemctl")
	return err == nil
}

// runner executes a platform tool and returns its combined output. Concrete
// supervisors depend on this seam so tests can substitute a fake.
type runner interface {
	run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("%s %s: %w (%s)", name, strings.Join(args, " "), err, output)
	}
	return output, nil
}
