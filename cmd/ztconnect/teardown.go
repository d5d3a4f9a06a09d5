package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/ztconnect/ztconnect/internal/config"
	"github.com/ztconnect/ztconnect/internal/firewall"
	"github.com/ztconnect/ztconnect/internal/setup"
	"github.com/ztconnect/ztconnect/internal/svc"
)

var (
	teardownConfig string
	teardownPurge  bool
)

func newTeardownCmd() *cobra.Command {
	teardownCmd := &cobra.Command{
		Use:   "teardown",
		Short: "Stop and remove all ztconnect services from this node",
		Long: `Stop the watchdog, remove every tunnel service, and delete the
firewall rules installed by setup.

With --purge the node configuration and SSH key material are deleted
as well. Without it the node can be brought back with
"ztconnect service start" after re-registering the tunnel units.`,
		RunE: runTeardown,
	}
	teardownCmd.Flags().StringVarP(&teardownConfig, "config", "c", config.DefaultPath(), "Configuration file path")
	teardownCmd.Flags().BoolVar(&teardownPurge, "purge", false, "Also delete configuration and key material")
	return teardownCmd
}

func runTeardown(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(teardownConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	supervisor, err := svc.New()
	if err != nil {
		return fmt.Errorf("init supervisor: %w", err)
	}

	removeService(ctx, supervisor, setup.WatchdogServiceName)
	for _, u := range buildUnits(cfg) {
		removeService(ctx, supervisor, u.ServiceName())
	}

	if err := firewall.New().Apply(ctx, nil); err != nil {
		log.Warn().Err(err).Msg("failed to remove firewall rules")
	} else {
		fmt.Println("Firewall rules removed")
	}

	if teardownPurge {
		purgeFiles(cfg)
	}

	fmt.Println("Teardown complete")
	return nil
}

func removeService(ctx context.Context, supervisor svc.Supervisor, name string) {
	rec := &svc.Record{Name: name}
	if err := supervisor.Remove(ctx, rec); err != nil {
		if errors.Is(err, svc.ErrNotRegistered) {
			return
		}
		log.Warn().Err(err).Str("service", name).Msg("failed to remove service")
		return
	}
	fmt.Printf("Removed %s\n", name)
}

func purgeFiles(cfg *config.Node) {
	for _, path := range []string{
		cfg.PrivateKeyPath(),
		cfg.PublicKeyPath(),
		cfg.FallbackKeyPath(),
		teardownConfig,
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to delete file")
			continue
		}
		log.Debug().Str("path", path).Msg("deleted")
	}
	fmt.Println("Configuration and key material deleted")
}
