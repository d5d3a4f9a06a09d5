// Package watchdog polls the health of every registered tunnel unit and
// auxiliary helper through the service supervisor and triggers supervised
// restarts on failure.
//
// The restart policy is bounded-patience, unbounded-attempts: a fixed delay
// is imposed between detection and restart to avoid restart storms, but a
// persistently failing tunnel is retried forever. The expected failure
// causes (temporary partition, unregistered key) resolve externally, so
// giving up would be wrong. The OS service manager's own bounded restart
// policy is a separate failure domain covering supervisor-process crashes;
// the two are never conflated.
package watchdog

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ztconnect/ztconnect/internal/metrics"
	"github.com/ztconnect/ztconnect/internal/svc"
	"github.com/ztconnect/ztconnect/internal/tunnel"
)

// Defaults for the poll loop.
const (
	DefaultInterval     = 30 * time.Second
	DefaultRestartDelay = 7 * time.Second
	DefaultQueryTimeout = 5 * time.Second
	DefaultProbeTimeout = 3 * time.Second
)

// Prober checks whether a hub endpoint answers on its control port. It is
// how the watchdog distinguishes Degraded (process alive, hub unreachable)
// from Connected.
type Prober interface {
	Probe(ctx context.Context, addr string) error
}

// tcpProber dials the hub's SSH control port.
type tcpProber struct{}

func (tcpProber) Probe(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Config holds watchdog configuration. Zero durations get defaults.
type Config struct {
	Supervisor svc.Supervisor
	Metrics    *metrics.FabricMetrics // optional
	Prober     Prober                 // optional, defaults to a TCP dialer

	Interval     time.Duration // poll cycle period
	RestartDelay time.Duration // pause between failure detection and restart
	QueryTimeout time.Duration // per-supervisor-query bound
	ProbeTimeout time.Duration // per-hub-probe bound
	ConnectGrace time.Duration // how long a starting unit must survive
}

// helper is an auxiliary long-running unit (metrics collector, terminal
// helper) that gets liveness supervision but has no tunnel state machine.
type helper struct {
	record   *svc.Record
	restarts int
}

// Watchdog is the health-polling and restart-triggering component, distinct
// from the OS-level service supervisor it drives.
type Watchdog struct {
	cfg Config

	mu      sync.Mutex
	units   map[string]*tunnel.Unit
	helpers map[string]*helper
}

// New creates a watchdog. Units and helpers are registered separately.
func New(cfg Config) *Watchdog {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.ConnectGrace == 0 {
		cfg.ConnectGrace = tunnel.KeepAliveInterval
	}
	if cfg.Prober == nil {
		cfg.Prober = tcpProber{}
	}
	return &Watchdog{
		cfg:     cfg,
		units:   make(map[string]*tunnel.Unit),
		helpers: make(map[string]*helper),
	}
}

// AddUnit registers a tunnel unit for supervision. The unit must already
// hold its supervisor record.
func (w *Watchdog) AddUnit(u *tunnel.Unit) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.units[u.ServiceName()] = u
}

// RemoveUnit deregisters a unit. Polling stops immediately so an
// intentionally stopped tunnel is never resurrected.
func (w *Watchdog) RemoveUnit(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if u, ok := w.units[name]; ok {
		u.Apply(tunnel.EventDisable)
		delete(w.units, name)
	}
}

// AddHelper registers an auxiliary long-running service for liveness
// supervision.
func (w *Watchdog) AddHelper(rec *svc.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.helpers[rec.Name] = &helper{record: rec}
}

// RemoveHelper deregisters an auxiliary service.
func (w *Watchdog) RemoveHelper(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.helpers, name)
}

// Reachable reports whether at least one registered unit is up.
func (w *Watchdog) Reachable() bool {
	return tunnel.Reachable(w.snapshotUnits())
}

// Units returns the currently registered units.
func (w *Watchdog) Units() []*tunnel.Unit {
	return w.snapshotUnits()
}

func (w *Watchdog) snapshotUnits() []*tunnel.Unit {
	w.mu.Lock()
	defer w.mu.Unlock()
	units := make([]*tunnel.Unit, 0, len(w.units))
	for _, u := range w.units {
		units = append(units, u)
	}
	return units
}

func (w *Watchdog) snapshotHelpers() []*helper {
	w.mu.Lock()
	defer w.mu.Unlock()
	helpers := make([]*helper, 0, len(w.helpers))
	for _, h := range w.helpers {
		helpers = append(helpers, h)
	}
	return helpers
}

// Run executes the poll loop until the context is cancelled. One cycle runs
// immediately on entry.
func (w *Watchdog) Run(ctx context.Context) {
	log.Info().
		Dur("interval", w.cfg.Interval).
		Dur("restart_delay", w.cfg.RestartDelay).
		Msg("watchdog started")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watchdog stopped")
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

// pollOnce is one poll cycle: sequentially query every registered record,
// then restart everything found dead after a single shared restart delay.
// Each supervisor query is bounded so one unresponsive call cannot starve
// polling of the other units.
func (w *Watchdog) pollOnce(ctx context.Context) {
	start := time.Now()

	var deadUnits []*tunnel.Unit
	for _, u := range w.snapshotUnits() {
		if w.pollUnit(ctx, u) {
			deadUnits = append(deadUnits, u)
		}
	}

	var deadHelpers []*helper
	for _, h := range w.snapshotHelpers() {
		alive, err := w.isAlive(ctx, h.record)
		if err != nil {
			w.countQueryError()
			log.Warn().Err(err).Str("service", h.record.Name).Msg("helper liveness query failed")
			continue
		}
		if !alive {
			deadHelpers = append(deadHelpers, h)
		}
	}

	if len(deadUnits) > 0 || len(deadHelpers) > 0 {
		// One shared delay between detection and restart; per-unit delays
		// would stack and risk overrunning the cycle.
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.RestartDelay):
		}
		for _, u := range deadUnits {
			w.restartUnit(ctx, u)
		}
		for _, h := range deadHelpers {
			w.restartHelper(ctx, h)
		}
	}

	w.publishReachability()

	if m := w.cfg.Metrics; m != nil {
		m.WatchdogCycles.Inc()
		m.WatchdogCycleDuration.Observe(time.Since(start).Seconds())
	}
}

// pollUnit queries one unit's liveness and advances its state machine.
// It returns true when the unit needs a restart.
func (w *Watchdog) pollUnit(ctx context.Context, u *tunnel.Unit) bool {
	rec := u.Record()
	if rec == nil {
		return false
	}

	alive, err := w.isAlive(ctx, rec)
	if err != nil {
		w.countQueryError()
		log.Warn().Err(err).Str("hub", u.Hub.Host).Msg("liveness query failed")
		return false
	}

	if !alive {
		u.Apply(tunnel.EventProcessExit)
		w.publishUnit(u)
		return u.State() == tunnel.StateFailed
	}

	switch u.State() {
	case tunnel.StateStarting:
		// Alive past one keep-alive interval with no forward-failure exit.
		if time.Since(u.StartedAt()) >= w.cfg.ConnectGrace {
			u.Apply(tunnel.EventAliveInterval)
		}
	case tunnel.StateConnected, tunnel.StateDegraded:
		probeCtx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
		err := w.cfg.Prober.Probe(probeCtx, u.Hub.Addr())
		cancel()
		if err != nil {
			u.Apply(tunnel.EventProbeMissed)
		} else {
			u.Apply(tunnel.EventProbeOK)
		}
	case tunnel.StateStopped:
		// Supervisor restarted a unit we consider disabled; leave it be.
	}

	w.publishUnit(u)
	return false
}

func (w *Watchdog) restartUnit(ctx context.Context, u *tunnel.Unit) {
	// The unit may have been deregistered during the delay.
	w.mu.Lock()
	_, registered := w.units[u.ServiceName()]
	w.mu.Unlock()
	if !registered || u.State() != tunnel.StateFailed {
		return
	}

	qctx, cancel := context.WithTimeout(ctx, w.cfg.QueryTimeout)
	err := w.cfg.Supervisor.Restart(qctx, u.Record())
	cancel()
	if err != nil {
		// Leave the unit in Failed; the next cycle retries. Attempts are
		// unbounded.
		log.Warn().Err(err).Str("hub", u.Hub.Host).Msg("tunnel restart failed")
		return
	}

	u.Apply(tunnel.EventStart)
	if m := w.cfg.Metrics; m != nil {
		m.Restarts.WithLabelValues(u.Hub.Host).Inc()
	}
	log.Info().
		Str("hub", u.Hub.Host).
		Int("restart_count", u.RestartCount()).
		Msg("tunnel restarted")
	w.publishUnit(u)
}

func (w *Watchdog) restartHelper(ctx context.Context, h *helper) {
	w.mu.Lock()
	_, registered := w.helpers[h.record.Name]
	w.mu.Unlock()
	if !registered {
		return
	}

	qctx, cancel := context.WithTimeout(ctx, w.cfg.QueryTimeout)
	err := w.cfg.Supervisor.Restart(qctx, h.record)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("service", h.record.Name).Msg("helper restart failed")
		return
	}

	h.restarts++
	log.Info().Str("service", h.record.Name).Int("restart_count", h.restarts).Msg("helper restarted")
}

func (w *Watchdog) isAlive(ctx context.Context, rec *svc.Record) (bool, error) {
	qctx, cancel := context.WithTimeout(ctx, w.cfg.QueryTimeout)
	defer cancel()
	return w.cfg.Supervisor.IsAlive(qctx, rec)
}

func (w *Watchdog) publishUnit(u *tunnel.Unit) {
	if m := w.cfg.Metrics; m != nil {
		state := u.State()
		m.SetTunnelState(u.Hub.Host, state.String())
		m.SetTunnelUp(u.Hub.Host, state.Up())
	}
}

func (w *Watchdog) publishReachability() {
	if m := w.cfg.Metrics; m != nil {
		m.SetReachable(w.Reachable())
	}
}

func (w *Watchdog) countQueryError() {
	if m := w.cfg.Metrics; m != nil {
		m.WatchdogQueryErrors.Inc()
	}
}
