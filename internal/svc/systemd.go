package svc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

const defaultUnitDir = "/etc/systemd/system"

// systemdSupervisor manages units through declarative unit files plus
// systemctl. The unit carries its own bounded restart policy (3 attempts
// with 1-minute spacing) purely to survive crashes of the supervised
// process between watchdog cycles; unbounded retry lives in the watchdog,
// not here.
type systemdSupervisor struct {
	unitDir string
	run     runner
}

func newSystemd(r runner) *systemdSupervisor {
	return &systemdSupervisor{unitDir: defaultUnitDir, run: r}
}

func (s *systemdSupervisor) unitPath(name string) string {
	return filepath.Join(s.unitDir, name+".service")
}

func (s *systemdSupervisor) Register(ctx context.Context, spec UnitSpec) (*Record, error) {
	unit := renderSystemdUnit(spec)
	if err := os.MkdirAll(s.unitDir, 0755); err != nil {
		return nil, fmt.Errorf("create unit directory: %w", err)
	}
	if err := os.WriteFile(s.unitPath(spec.Name), []byte(unit), 0644); err != nil {
		return nil, fmt.Errorf("write unit file: %w", err)
	}

	if _, err := s.run.run(ctx, "systemctl", "daemon-reload"); err != nil {
		return nil, fmt.Errorf("reload systemd: %w", err)
	}
	if spec.Autostart {
		if _, err := s.run.run(ctx, "systemctl", "enable", spec.Name); err != nil {
			return nil, fmt.Errorf("enable unit: %w", err)
		}
	}

	log.Debug().Str("unit", spec.Name).Msg("systemd unit registered")
	return &Record{Name: spec.Name, Backend: "systemd"}, nil
}

func (s *systemdSupervisor) Start(ctx context.Context, rec *Record) error {
	_, err := s.run.run(ctx, "systemctl", "start", rec.Name)
	return err
}

func (s *systemdSupervisor) Stop(ctx context.Context, rec *Record) error {
	_, err := s.run.run(ctx, "systemctl", "stop", rec.Name)
	return err
}

func (s *systemdSupervisor) Restart(ctx context.Context, rec *Record) error {
	_, err := s.run.run(ctx, "systemctl", "restart", rec.Name)
	return err
}

func (s *systemdSupervisor) IsAlive(ctx context.Context, rec *Record) (bool, error) {
	out, err := s.run.run(ctx, "systemctl", "is-active", rec.Name)
	// is-active exits non-zero for every inactive state; the output still
	// tells us whether the unit exists at all.
	state := strings.TrimSpace(out)
	if state == "active" {
		return true, nil
	}
	if err != nil && state == "" {
		return false, err
	}
	return false, nil
}

func (s *systemdSupervisor) Remove(ctx context.Context, rec *Record) error {
	if _, err := s.run.run(ctx, "systemctl", "stop", rec.Name); err != nil {
		log.Debug().Err(err).Str("unit", rec.Name).Msg("stop before removal failed")
	}
	if _, err := s.run.run(ctx, "systemctl", "disable", rec.Name); err != nil {
		log.Debug().Err(err).Str("unit", rec.Name).Msg("disable before removal failed")
	}
	if err := os.Remove(s.unitPath(rec.Name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	if _, err := s.run.run(ctx, "systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("reload systemd: %w", err)
	}
	return nil
}

func renderSystemdUnit(spec UnitSpec) string {
	var b strings.Builder

	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=%s\n", spec.Description)
	b.WriteString("After=network-online.target\n")
	b.WriteString("Wants=network-online.target\n")
	b.WriteString("StartLimitIntervalSec=300\n")
	b.WriteString("StartLimitBurst=3\n")

	b.WriteString("\n[Service]\n")
	fmt.Fprintf(&b, "ExecStart=%s", spec.Command)
	for _, arg := range spec.Args {
		fmt.Fprintf(&b, " %s", arg)
	}
	b.WriteString("\n")
	b.WriteString("Restart=on-failure\n")
	b.WriteString("RestartSec=60\n")
	if spec.LogPath != "" {
		fmt.Fprintf(&b, "StandardOutput=append:%s\n", spec.LogPath)
		fmt.Fprintf(&b, "StandardError=append:%s\n", spec.LogPath)
	}
	if spec.UserName != "" {
		fmt.Fprintf(&b, "User=%s\n", spec.UserName)
	}
	for _, k := range sortedKeys(spec.Env) {
		fmt.Fprintf(&b, "Environment=%s=%s\n", k, spec.Env[k])
	}

	b.WriteString("\n[Install]\n")
	b.WriteString("WantedBy=multi-user.target\n")
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
