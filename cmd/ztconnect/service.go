package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/ztconnect/ztconnect/internal/config"
	"github.com/ztconnect/ztconnect/internal/setup"
	"github.com/ztconnect/ztconnect/internal/svc"
)

var (
	serviceName string
	logsFollow  bool
	logsLines   int
	logsConfig  string
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Control ztconnect background services",
		Long: `Control the watchdog and tunnel services registered with the platform
service manager (systemd, launchd, or the service wrapper).

Examples:
  sudo ztconnect service start
  sudo ztconnect service stop --name ztconnect-tunnel-hub1-example-com
  sudo ztconnect service status
  sudo ztconnect service logs --follow`,
	}

	for _, sub := range []struct {
		use, short string
		action     func(s svc.Supervisor, rec *svc.Record, cmd *cobra.Command) error
	}{
		{"start", "Start a service (default: the watchdog)", func(s svc.Supervisor, rec *svc.Record, cmd *cobra.Command) error {
			return s.Start(cmd.Context(), rec)
		}},
		{"stop", "Stop a service (default: the watchdog)", func(s svc.Supervisor, rec *svc.Record, cmd *cobra.Command) error {
			return s.Stop(cmd.Context(), rec)
		}},
		{"restart", "Restart a service (default: the watchdog)", func(s svc.Supervisor, rec *svc.Record, cmd *cobra.Command) error {
			return s.Restart(cmd.Context(), rec)
		}},
		{"status", "Show whether a service is alive (default: the watchdog)", func(s svc.Supervisor, rec *svc.Record, cmd *cobra.Command) error {
			alive, err := s.IsAlive(cmd.Context(), rec)
			if err != nil {
				return err
			}
			if alive {
				fmt.Printf("%s: running\n", rec.Name)
			} else {
				fmt.Printf("%s: stopped\n", rec.Name)
			}
			return nil
		}},
	} {
		action := sub.action
		c := &cobra.Command{
			Use:   sub.use,
			Short: sub.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				supervisor, err := svc.New()
				if err != nil {
					return err
				}
				return action(supervisor, &svc.Record{Name: targetService()}, cmd)
			},
		}
		c.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
		serviceCmd.AddCommand(c)
	}

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "View a service's logs (default: the watchdog)",
		RunE:  runServiceLogs,
	}
	logsCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().IntVar(&logsLines, "lines", 50, "Number of lines to show")
	logsCmd.Flags().StringVarP(&logsConfig, "config", "c", config.DefaultPath(), "Configuration file path")
	serviceCmd.AddCommand(logsCmd)

	return serviceCmd
}

func targetService() string {
	if serviceName != "" {
		return serviceName
	}
	return setup.WatchdogServiceName
}

func runServiceLogs(cmd *cobra.Command, args []string) error {
	name := targetService()

	logPath := ""
	if cfg, err := config.Load(logsConfig); err == nil {
		logPath = filepath.Join(cfg.LogDir, name+".log")
	}

	return svc.ViewLogs(svc.LogOptions{
		ServiceName: name,
		LogPath:     logPath,
		Follow:      logsFollow,
		Lines:       logsLines,
	})
}
