// ztconnect is the Zero Trust Connect edge agent: it exposes local SSH/HTTPS
// services to central hubs through outbound reverse tunnels, with no inbound
// port ever opened on the edge.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var logLevel string

func main() {
	rootCmd := &cobra.Command{
		Use:   "ztconnect",
		Short: "Zero Trust Connect - reverse tunnel fabric supervisor",
		Long: `ZTConnect exposes an edge machine's SSH/HTTPS services to central hubs
without opening any inbound port: the edge dials out and holds open one
redundant reverse tunnel per configured hub.

QUICK START:

  # Provision this node against two hubs:
  sudo ztconnect setup \
      --node-id $(uuidgen) \
      --node-name edge-01 \
      --token $AGENT_TOKEN \
      --hubs hub1.example.com,hub2.example.com

  # Check tunnel health:
  ztconnect status

  # Remove everything:
  sudo ztconnect teardown`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newSetupCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newServiceCmd())
	rootCmd.AddCommand(newTeardownCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ztconnect %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}
}
