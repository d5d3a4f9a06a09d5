package tunnel

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ztconnect/ztconnect/internal/hub"
	"github.com/ztconnect/ztconnect/internal/svc"
)

const (
	// KeepAliveInterval is the SSH ServerAliveInterval for the wrapped
	// process, and the period a starting unit must survive before it
	// counts as connected.
	KeepAliveInterval = 30 * time.Second

	// KeepAliveMaxProbes is the SSH ServerAliveCountMax: after this many
	// missed probes the client exits on its own.
	KeepAliveMaxProbes = 3

	// DefaultSSHUser is the hub-side account the tunnels authenticate as.
	DefaultSSHUser = "ztc"

	// sshBinary is the external OpenSSH client. The unit's responsibility
	// is lifecycle and health supervision of this process, not the SSH
	// protocol itself.
	sshBinary = "ssh"
)

// Unit is one reverse-tunnel connection to one hub. The actual tunnel is an
// independent OS-managed process registered with the service supervisor;
// the Unit tracks its observed state, restart count, and service record.
// Units never interact: failure or restart of one hub's unit cannot affect
// another's state machine.
type Unit struct {
	Hub     hub.Endpoint
	Specs   [3]Spec
	KeyPath string
	SSHUser string

	mu              sync.Mutex
	state           State
	restartCount    int
	startedAt       time.Time
	lastHealthCheck time.Time
	record          *svc.Record
}

// New creates a unit for one hub endpoint. The key pair at keyPath is
// shared read-only by all units.
func New(endpoint hub.Endpoint, specs [3]Spec, keyPath string) *Unit {
	return &Unit{
		Hub:     endpoint,
		Specs:   specs,
		KeyPath: keyPath,
		SSHUser: DefaultSSHUser,
		state:   StateStopped,
	}
}

// ServiceName is the supervisor unit name for this tunnel.
func (u *Unit) ServiceName() string {
	return "ztconnect-tunnel-" + sanitizeHost(u.Hub.Host)
}

// LogPath is the unit's log file under the node's log directory.
func (u *Unit) LogPath(logDir string) string {
	return filepath.Join(logDir, u.ServiceName()+".log")
}

// UnitSpec builds the supervisor registration for the wrapped SSH client.
// ExitOnForwardFailure makes the process exit rather than run with a subset
// of the three bindings, which is what makes process liveness a faithful
// tunnel-health signal.
func (u *Unit) UnitSpec(logDir string) svc.UnitSpec {
	args := []string{
		"-N",
		"-i", u.KeyPath,
		"-p", fmt.Sprintf("%d", u.Hub.Port),
		"-o", "ExitOnForwardFailure=yes",
		"-o", fmt.Sprintf("ServerAliveInterval=%d", int(KeepAliveInterval.Seconds())),
		"-o", fmt.Sprintf("ServerAliveCountMax=%d", KeepAliveMaxProbes),
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "BatchMode=yes",
	}
	for _, spec := range u.Specs {
		args = append(args, "-R", spec.ForwardArg())
	}
	args = append(args, u.SSHUser+"@"+u.Hub.Host)

	return svc.UnitSpec{
		Name:        u.ServiceName(),
		DisplayName: "ZTConnect tunnel to " + u.Hub.Host,
		Description: fmt.Sprintf("Zero Trust Connect reverse tunnel to hub %s", u.Hub.Addr()),
		Command:     sshBinary,
		Args:        args,
		LogPath:     u.LogPath(logDir),
		Autostart:   true,
	}
}

// Apply feeds an observation into the unit's state machine and returns the
// resulting state plus whether it changed. Every transition is logged.
func (u *Unit) Apply(event Event) (State, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	next := u.state.Next(event)
	u.lastHealthCheck = time.Now()
	if next == u.state {
		return next, false
	}

	log.Info().
		Str("hub", u.Hub.Host).
		Str("event", event.String()).
		Str("from", u.state.String()).
		Str("to", next.String()).
		Msg("tunnel state transition")

	if next == StateStarting {
		u.startedAt = time.Now()
		if u.state == StateFailed {
			u.restartCount++
		}
	}
	u.state = next
	return next, true
}

// State returns the current observed state.
func (u *Unit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// RestartCount returns how many supervised restarts this unit has had.
func (u *Unit) RestartCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.restartCount
}

// StartedAt returns when the unit last entered Starting.
func (u *Unit) StartedAt() time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.startedAt
}

// LastHealthCheck returns when the unit was last observed.
func (u *Unit) LastHealthCheck() time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastHealthCheck
}

// SetRecord attaches the supervisor record after registration.
func (u *Unit) SetRecord(rec *svc.Record) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.record = rec
}

// Record returns the supervisor record, or nil before registration.
func (u *Unit) Record() *svc.Record {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.record
}

// Reachable reports the logical OR of Up across units: true when at least
// one hub remains reachable.
func Reachable(units []*Unit) bool {
	for _, u := range units {
		if u.State().Up() {
			return true
		}
	}
	return false
}

func sanitizeHost(host string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, host)
}
