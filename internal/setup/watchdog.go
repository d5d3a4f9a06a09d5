package setup

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/ztconnect/ztconnect/internal/config"
	"github.com/ztconnect/ztconnect/internal/svc"
)

// WatchdogServiceName is the supervisor unit name for the fabric supervisor
// daemon itself.
const WatchdogServiceName = "ztconnect-watchdog"

// InstallWatchdog registers the supervisor daemon as an auto-starting
// service. The OS service manager restarts the daemon if it crashes; the
// daemon's watchdog loop restarts the tunnels. Two different failure
// domains.
func (p *Pipeline) InstallWatchdog(ctx context.Context, cfg *config.Node, execPath, configPath string) (*svc.Record, error) {
	spec := svc.UnitSpec{
		Name:        WatchdogServiceName,
		DisplayName: "ZTConnect Fabric Watchdog",
		Description: "Zero Trust Connect tunnel fabric supervisor",
		Command:     execPath,
		Args:        []string{"run", "--config", configPath},
		LogPath:     filepath.Join(cfg.LogDir, "watchdog.log"),
		Autostart:   true,
	}

	rec, err := p.Supervisor.Register(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("register watchdog service: %w", err)
	}
	if err := p.Supervisor.Start(ctx, rec); err != nil {
		return nil, fmt.Errorf("start watchdog service: %w", err)
	}

	log.Info().Str("service", WatchdogServiceName).Msg("watchdog service installed")
	return rec, nil
}
