package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/ztconnect/ztconnect/internal/config"
	"github.com/ztconnect/ztconnect/internal/firewall"
	"github.com/ztconnect/ztconnect/internal/hub"
	"github.com/ztconnect/ztconnect/internal/setup"
	"github.com/ztconnect/ztconnect/internal/svc"
)

var (
	setupNodeID     string
	setupNodeName   string
	setupToken      string
	setupHubs       string
	setupAPIBase    string
	setupSSHPort    uint16
	setupHTTPSPort  uint16
	setupTermPort   uint16
	setupConfigPath string
	setupKeyDir     string
	setupLogDir     string
	setupEnvFile    string
	setupNoWatchdog bool
)

func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Provision this node and install the tunnel fabric",
		Long: `Provision the node: derive its reverse ports, write the configuration
record, generate and register the SSH key, scope the firewall to the hubs,
and install one supervised reverse tunnel per hub plus the watchdog.

Provisioning values may come from flags or from a .env file
(ZTC_NODE_ID, ZTC_NODE_NAME, ZTC_TOKEN, ZTC_HUBS).

Requires administrator/root privileges.`,
		RunE: runSetup,
	}

	cmd.Flags().StringVar(&setupNodeID, "node-id", "", "Node UUID assigned by the hub")
	cmd.Flags().StringVar(&setupNodeName, "node-name", "", "Human-readable node name")
	cmd.Flags().StringVar(&setupToken, "token", "", "Agent token for the hub control API")
	cmd.Flags().StringVar(&setupHubs, "hubs", "", "Comma-separated hub endpoints (host[:port])")
	cmd.Flags().StringVar(&setupAPIBase, "api-base", "", "Hub control API base URL (default https://<first hub>)")
	cmd.Flags().Uint16Var(&setupSSHPort, "ssh-port", 22, "Local SSH port to expose")
	cmd.Flags().Uint16Var(&setupHTTPSPort, "https-port", 443, "Local HTTPS port to expose")
	cmd.Flags().Uint16Var(&setupTermPort, "terminal-port", 0, "Local terminal helper port (default: ssh port)")
	cmd.Flags().StringVarP(&setupConfigPath, "config", "c", config.DefaultPath(), "Configuration file path")
	cmd.Flags().StringVar(&setupKeyDir, "key-dir", config.DefaultKeyDir(), "Key material directory")
	cmd.Flags().StringVar(&setupLogDir, "log-dir", config.DefaultLogDir(), "Tunnel log directory")
	cmd.Flags().StringVar(&setupEnvFile, "env-file", "", "Load provisioning values from a .env file")
	cmd.Flags().BoolVar(&setupNoWatchdog, "no-watchdog", false, "Skip installing the watchdog service")

	return cmd
}

func runSetup(cmd *cobra.Command, args []string) error {
	if setupEnvFile != "" {
		if err := godotenv.Load(setupEnvFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	supervisor, err := svc.New()
	if err != nil {
		return err
	}

	pipeline := &setup.Pipeline{
		Supervisor: supervisor,
		Firewall:   firewall.New(),
	}

	inputs := setup.Inputs{
		NodeID:         firstOf(setupNodeID, os.Getenv("ZTC_NODE_ID")),
		NodeName:       firstOf(setupNodeName, os.Getenv("ZTC_NODE_NAME")),
		AgentToken:     firstOf(setupToken, os.Getenv("ZTC_TOKEN")),
		HubList:        firstOf(setupHubs, os.Getenv("ZTC_HUBS")),
		HubAPIBase:     setupAPIBase,
		LocalSSHPort:   setupSSHPort,
		LocalHTTPSPort: setupHTTPSPort,
		LocalTermPort:  setupTermPort,
		ConfigPath:     setupConfigPath,
		KeyDir:         setupKeyDir,
		LogDir:         setupLogDir,
	}

	res, err := pipeline.Run(cmd.Context(), inputs)
	if err != nil {
		return err
	}

	if res.Registration.Status == hub.StatusDeferred {
		fmt.Printf("Key registration deferred; register %s with the hub manually.\n", res.Registration.FallbackPath)
	}
	for host, unitErr := range res.UnitErrors {
		fmt.Printf("Warning: tunnel to %s could not be set up: %v\n", host, unitErr)
	}

	if !setupNoWatchdog {
		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("get executable path: %w", err)
		}
		if _, err := pipeline.InstallWatchdog(cmd.Context(), res.Config, execPath, setupConfigPath); err != nil {
			return err
		}
	}

	log.Info().
		Int("tunnels", len(res.Units)).
		Str("config", setupConfigPath).
		Msg("setup complete")
	fmt.Printf("Setup complete: %d tunnel(s) installed.\n", len(res.Units))
	return nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
