// Package setup is the ordered install pipeline: each stage takes an
// explicit input and returns an explicit result, composed by a thin
// orchestrator. No stage reads ambient global state.
package setup

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/ztconnect/ztconnect/internal/config"
	"github.com/ztconnect/ztconnect/internal/firewall"
	"github.com/ztconnect/ztconnect/internal/hub"
	"github.com/ztconnect/ztconnect/internal/ports"
	"github.com/ztconnect/ztconnect/internal/sshkey"
	"github.com/ztconnect/ztconnect/internal/svc"
	"github.com/ztconnect/ztconnect/internal/tunnel"
)

// Inputs are the provisioning values supplied by the installer/CLI.
type Inputs struct {
	NodeID     string
	NodeName   string
	AgentToken string
	HubList    string // comma-separated host[:port] entries
	HubAPIBase string // control API base; defaults to https://<first hub host>

	LocalSSHPort   uint16
	LocalHTTPSPort uint16
	LocalTermPort  uint16

	ConfigPath string
	KeyDir     string
	LogDir     string
}

// Result is the outcome of a completed setup run. UnitErrors holds per-hub
// supervisor failures; they never abort setup of the remaining hubs.
type Result struct {
	Config       *config.Node
	Keys         *sshkey.Pair
	Registration hub.Record
	Units        []*tunnel.Unit
	UnitErrors   map[string]error
}

// Pipeline wires the collaborating components. All fields are required
// except HTTPClient.
type Pipeline struct {
	Supervisor svc.Supervisor
	Firewall   firewall.Configurator
	HTTPClient *http.Client
}

// Run executes the full pipeline: validate -> derive ports -> write config
// -> generate keys -> register key -> apply firewall -> install tunnels.
// Only precondition failures return an error; a deferred key registration
// and per-unit supervisor failures leave the run successful.
func (p *Pipeline) Run(ctx context.Context, in Inputs) (*Result, error) {
	cfg, registry, err := BuildConfig(in)
	if err != nil {
		return nil, err
	}

	if err := cfg.Save(in.ConfigPath); err != nil {
		return nil, fmt.Errorf("persist configuration: %w", err)
	}
	log.Info().
		Str("node_id", cfg.Identity.NodeID).
		Str("path", in.ConfigPath).
		Msg("configuration written")

	keys, err := sshkey.EnsurePair(cfg.PrivateKeyPath(), cfg.PublicKeyPath(), cfg.Identity.NodeName)
	if err != nil {
		return nil, fmt.Errorf("prepare key material: %w", err)
	}
	log.Info().Str("fingerprint", keys.Fingerprint).Msg("ssh key pair ready")

	registration := p.registerKey(ctx, in, cfg, keys)
	if registration.Status == hub.StatusDeferred {
		cfg.RegistrationDeferred = true
		// Persist the flag so the daemon can surface it after a restart.
		if err := cfg.Save(in.ConfigPath); err != nil {
			log.Warn().Err(err).Msg("failed to record deferred registration")
		}
	}

	if err := p.Firewall.Apply(ctx, registry.Endpoints()); err != nil {
		// Outbound scoping failed; the tunnels may still connect, and the
		// watchdog surfaces it if they cannot.
		log.Warn().Err(err).Msg("firewall configuration failed")
	}

	units, unitErrs := p.installTunnels(ctx, cfg, registry, keys)
	if len(units) == 0 && len(unitErrs) > 0 {
		return nil, fmt.Errorf("no tunnel unit could be registered")
	}

	return &Result{
		Config:       cfg,
		Keys:         keys,
		Registration: registration,
		Units:        units,
		UnitErrors:   unitErrs,
	}, nil
}

// BuildConfig validates the provisioning inputs and derives the immutable
// configuration record, including the per-hub port triples. Pure: no I/O.
func BuildConfig(in Inputs) (*config.Node, *hub.Registry, error) {
	registry, err := hub.ParseEndpoints(in.HubList)
	if err != nil {
		return nil, nil, fmt.Errorf("hub endpoints: %w", err)
	}

	alloc := ports.Derive(in.NodeID)
	log.Info().
		Uint16("system", alloc.System).
		Uint16("terminal", alloc.Terminal).
		Uint16("https", alloc.HTTPS).
		Msg("derived reverse ports")

	hubs := make([]config.HubPorts, 0, registry.Len())
	for _, ep := range registry.Endpoints() {
		hubs = append(hubs, config.HubPorts{
			Host:     ep.Host,
			Port:     ep.Port,
			Priority: ep.Priority,
			System:   alloc.System,
			Terminal: alloc.Terminal,
			HTTPS:    alloc.HTTPS,
		})
	}

	cfg := &config.Node{
		Identity: config.Identity{
			NodeID:     in.NodeID,
			NodeName:   in.NodeName,
			AgentToken: in.AgentToken,
		},
		Hubs:   hubs,
		Local:  localServices(in),
		KeyDir: in.KeyDir,
		LogDir: in.LogDir,
	}
	if cfg.KeyDir == "" {
		cfg.KeyDir = config.DefaultKeyDir()
	}
	if cfg.LogDir == "" {
		cfg.LogDir = config.DefaultLogDir()
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, registry, nil
}

func localServices(in Inputs) config.LocalServices {
	local := config.LocalServices{
		SSHPort:   in.LocalSSHPort,
		HTTPSPort: in.LocalHTTPSPort,
		TermPort:  in.LocalTermPort,
	}
	if local.SSHPort == 0 {
		local.SSHPort = 22
	}
	if local.HTTPSPort == 0 {
		local.HTTPSPort = 443
	}
	if local.TermPort == 0 {
		local.TermPort = local.SSHPort
	}
	return local
}

// registerKey performs the one-time handshake. Failure is downgraded to a
// deferred record; setup always continues.
func (p *Pipeline) registerKey(ctx context.Context, in Inputs, cfg *config.Node, keys *sshkey.Pair) hub.Record {
	apiBase := in.HubAPIBase
	if apiBase == "" {
		apiBase = "https://" + cfg.Hubs[0].Host
	}

	registrar := hub.NewRegistrar(apiBase, p.HTTPClient)
	return registrar.Register(ctx,
		cfg.Identity.NodeID,
		cfg.Identity.NodeName,
		cfg.Identity.AgentToken,
		keys.PublicKey,
		cfg.FallbackKeyPath(),
	)
}

// installTunnels registers and starts one tunnel unit per hub. A supervisor
// failure is fatal for that unit only; hub redundancy degrades one hub at a
// time.
func (p *Pipeline) installTunnels(ctx context.Context, cfg *config.Node, registry *hub.Registry, keys *sshkey.Pair) ([]*tunnel.Unit, map[string]error) {
	alloc := ports.Derive(cfg.Identity.NodeID)
	specs := tunnel.BuildSpecs(alloc, cfg.Local)

	var units []*tunnel.Unit
	unitErrs := make(map[string]error)
	for _, ep := range registry.Endpoints() {
		unit := tunnel.New(ep, specs, keys.PrivateKeyPath)

		rec, err := p.Supervisor.Register(ctx, unit.UnitSpec(cfg.LogDir))
		if err != nil {
			log.Error().Err(err).Str("hub", ep.Host).Msg("tunnel unit registration failed")
			unitErrs[ep.Host] = err
			continue
		}
		unit.SetRecord(rec)

		if err := p.Supervisor.Start(ctx, rec); err != nil {
			log.Error().Err(err).Str("hub", ep.Host).Msg("tunnel unit start failed")
			unitErrs[ep.Host] = err
			// Registered but not running; the watchdog will keep trying.
		}
		unit.Apply(tunnel.EventStart)

		log.Info().Str("hub", ep.Addr()).Str("service", unit.ServiceName()).Msg("tunnel unit installed")
		units = append(units, unit)
	}
	return units, unitErrs
}
