package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/ztconnect/ztconnect/internal/config"
	"github.com/ztconnect/ztconnect/internal/control"
)

var (
	statusConfigPath string
	statusSocketPath string
	statusJSON       bool
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tunnel fabric status",
		Long: `Query the running watchdog for per-hub tunnel state. When the daemon is
not running, falls back to the static view from the configuration record.`,
		RunE: runStatus,
	}

	cmd.Flags().StringVarP(&statusConfigPath, "config", "c", config.DefaultPath(), "Configuration file path")
	cmd.Flags().StringVar(&statusSocketPath, "socket", control.DefaultSocketPath(), "Control socket path")
	cmd.Flags().BoolVar(&statusJSON, "json", false, "Output JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := control.QueryStatus(statusSocketPath)
	if err != nil {
		// Daemon not running: show the configured topology instead.
		static, cfgErr := staticStatus(statusConfigPath)
		if cfgErr != nil {
			return fmt.Errorf("daemon not reachable (%v) and no configuration: %w", err, cfgErr)
		}
		fmt.Fprintln(os.Stderr, "watchdog not running; showing configured state")
		status = static
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Printf("Node:      %s (%s)\n", status.NodeName, status.NodeID)
	fmt.Printf("Reachable: %v\n\n", status.Reachable)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HUB\tSTATE\tRESTARTS\tSYSTEM\tTERMINAL\tHTTPS")
	for _, t := range status.Tunnels {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
			t.Hub, t.State, t.RestartCount, t.SystemPort, t.TerminalPort, t.HTTPSPort)
	}
	return w.Flush()
}

// staticStatus builds a status view from the configuration record alone.
func staticStatus(path string) (*control.StatusResponse, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	tunnels := make([]control.TunnelStatus, 0, len(cfg.Hubs))
	for _, h := range cfg.Hubs {
		tunnels = append(tunnels, control.TunnelStatus{
			Hub:          h.Host,
			State:        "unknown",
			SystemPort:   h.System,
			TerminalPort: h.Terminal,
			HTTPSPort:    h.HTTPS,
		})
	}
	return &control.StatusResponse{
		NodeID:   cfg.Identity.NodeID,
		NodeName: cfg.Identity.NodeName,
		Tunnels:  tunnels,
	}, nil
}
