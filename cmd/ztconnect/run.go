package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/ztconnect/ztconnect/internal/config"
	"github.com/ztconnect/ztconnect/internal/control"
	"github.com/ztconnect/ztconnect/internal/hub"
	"github.com/ztconnect/ztconnect/internal/metrics"
	"github.com/ztconnect/ztconnect/internal/ports"
	"github.com/ztconnect/ztconnect/internal/svc"
	"github.com/ztconnect/ztconnect/internal/tunnel"
	"github.com/ztconnect/ztconnect/internal/watchdog"
)

var (
	runConfigPath    string
	runSocketPath    string
	runMetricsListen string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the fabric watchdog (normally invoked by the service manager)",
		Long: `Run the tunnel fabric supervisor in the foreground: poll every tunnel
unit through the service manager, restart failed tunnels, serve the control
socket for 'ztconnect status', and expose fabric metrics.`,
		RunE: runDaemon,
	}

	cmd.Flags().StringVarP(&runConfigPath, "config", "c", config.DefaultPath(), "Configuration file path")
	cmd.Flags().StringVar(&runSocketPath, "socket", control.DefaultSocketPath(), "Control socket path")
	cmd.Flags().StringVar(&runMetricsListen, "metrics-listen", metrics.DefaultListen, "Metrics listen address")

	return cmd
}

// fabricStatus adapts the watchdog and config record to the control
// socket's status protocol.
type fabricStatus struct {
	cfg *config.Node
	wd  *watchdog.Watchdog
}

func (f *fabricStatus) Status() control.StatusResponse {
	units := f.wd.Units()
	tunnels := make([]control.TunnelStatus, 0, len(units))
	for _, u := range units {
		state := u.State()
		tunnels = append(tunnels, control.TunnelStatus{
			Hub:             u.Hub.Host,
			State:           state.String(),
			Up:              state.Up(),
			RestartCount:    u.RestartCount(),
			LastHealthCheck: u.LastHealthCheck(),
			SystemPort:      u.Specs[0].RemotePort,
			TerminalPort:    u.Specs[1].RemotePort,
			HTTPSPort:       u.Specs[2].RemotePort,
		})
	}
	return control.StatusResponse{
		NodeID:    f.cfg.Identity.NodeID,
		NodeName:  f.cfg.Identity.NodeName,
		Reachable: f.wd.Reachable(),
		Tunnels:   tunnels,
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}

	supervisor, err := svc.New()
	if err != nil {
		return err
	}

	m := metrics.InitMetrics(cfg.Identity.NodeName)
	m.SetRegistrationDeferred(cfg.RegistrationDeferred)

	wd := watchdog.New(watchdog.Config{
		Supervisor: supervisor,
		Metrics:    m,
	})
	for _, u := range buildUnits(cfg) {
		wd.AddUnit(u)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctrl := control.NewServer(runSocketPath, &fabricStatus{cfg: cfg, wd: wd})
	if err := ctrl.Start(); err != nil {
		// Status queries degrade to the config-file view; keep running.
		log.Warn().Err(err).Msg("control socket unavailable")
	} else {
		defer func() { _ = ctrl.Stop() }()
	}

	go func() {
		if err := metrics.Serve(ctx, runMetricsListen); err != nil {
			log.Warn().Err(err).Msg("metrics endpoint failed")
		}
	}()

	log.Info().
		Str("node", cfg.Identity.NodeName).
		Int("hubs", len(cfg.Hubs)).
		Msg("tunnel fabric supervisor running")

	wd.Run(ctx)
	return nil
}

// buildUnits reconstructs the tunnel units from the persisted configuration
// record. Units start in Starting: the first poll cycle reconciles with
// what the service manager actually reports.
func buildUnits(cfg *config.Node) []*tunnel.Unit {
	units := make([]*tunnel.Unit, 0, len(cfg.Hubs))
	for _, h := range cfg.Hubs {
		alloc := ports.Allocation{System: h.System, Terminal: h.Terminal, HTTPS: h.HTTPS}
		specs := tunnel.BuildSpecs(alloc, cfg.Local)
		endpoint := hub.Endpoint{Host: h.Host, Port: h.Port, Priority: h.Priority}

		u := tunnel.New(endpoint, specs, cfg.PrivateKeyPath())
		u.SetRecord(&svc.Record{Name: u.ServiceName()})
		u.Apply(tunnel.EventStart)
		units = append(units, u)
	}
	return units
}
