package svc

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

// wrapperSupervisor wraps arbitrary executables with kardianos/service for
// platforms without a native declarative supervisor we drive directly
// (Windows SCM, non-systemd Linux). Semantics match the other variants:
// auto-start at boot, restart on failure with one-minute spacing after a
// burst, output redirected to the unit log.
type wrapperSupervisor struct {
	// newService is a seam for tests; production uses service.New.
	newService func(cfg *service.Config) (service.Service, error)
}

func newWrapper() *wrapperSupervisor {
	return &wrapperSupervisor{
		newService: func(cfg *service.Config) (service.Service, error) {
			return service.New(noopProgram{}, cfg)
		},
	}
}

// noopProgram satisfies service.Interface. The wrapped unit is a standalone
// executable configured via Config.Executable, so the interface methods are
// never exercised for lifecycle control.
type noopProgram struct{}

func (noopProgram) Start(service.Service) error { return nil }
func (noopProgram) Stop(service.Service) error  { return nil }

func (w *wrapperSupervisor) config(spec UnitSpec) *service.Config {
	cfg := &service.Config{
		Name:        spec.Name,
		DisplayName: spec.DisplayName,
		Description: spec.Description,
		Executable:  spec.Command,
		Arguments:   spec.Args,
		EnvVars:     spec.Env,
		UserName:    spec.UserName,
	}

	switch runtime.GOOS {
	case "windows":
		cfg.Option = service.KeyValue{
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "1m",
			"OnFailureResetPeriod":   300,
		}
	default:
		cfg.Option = service.KeyValue{
			"Restart":    "on-failure",
			"RestartSec": "60",
		}
	}
	if spec.LogPath != "" {
		cfg.Option["LogOutput"] = true
		cfg.Option["LogDirectory"] = filepath.Dir(spec.LogPath)
	}
	return cfg
}

func (w *wrapperSupervisor) service(rec *Record) (service.Service, error) {
	return w.newService(&service.Config{Name: rec.Name})
}

// await bounds a kardianos call with ctx. The library has no context support
// and a hung service manager call must not stall a poll cycle, so the call is
// abandoned at the deadline and its goroutine left to finish on its own.
func await(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func awaitStatus(ctx context.Context, svc service.Service) (service.Status, error) {
	type result struct {
		status service.Status
		err    error
	}
	done := make(chan result, 1)
	go func() {
		status, err := svc.Status()
		done <- result{status, err}
	}()
	select {
	case r := <-done:
		return r.status, r.err
	case <-ctx.Done():
		return service.StatusUnknown, ctx.Err()
	}
}

func (w *wrapperSupervisor) Register(ctx context.Context, spec UnitSpec) (*Record, error) {
	svc, err := w.newService(w.config(spec))
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}

	// Reinstall if an older registration exists.
	if status, err := awaitStatus(ctx, svc); err == nil {
		if status == service.StatusRunning {
			if err := await(ctx, svc.Stop); err != nil {
				log.Warn().Err(err).Str("service", spec.Name).Msg("failed to stop existing service")
			}
		}
		if err := await(ctx, svc.Uninstall); err != nil {
			log.Warn().Err(err).Str("service", spec.Name).Msg("failed to uninstall existing service")
		}
	}

	if err := await(ctx, svc.Install); err != nil {
		return nil, fmt.Errorf("install service: %w", err)
	}

	log.Debug().Str("service", spec.Name).Msg("wrapped service registered")
	return &Record{Name: spec.Name, Backend: "wrapper"}, nil
}

func (w *wrapperSupervisor) Start(ctx context.Context, rec *Record) error {
	svc, err := w.service(rec)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := await(ctx, svc.Start); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	return nil
}

func (w *wrapperSupervisor) Stop(ctx context.Context, rec *Record) error {
	svc, err := w.service(rec)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := await(ctx, svc.Stop); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}
	return nil
}

func (w *wrapperSupervisor) Restart(ctx context.Context, rec *Record) error {
	svc, err := w.service(rec)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := await(ctx, svc.Restart); err != nil {
		return fmt.Errorf("restart service: %w", err)
	}
	return nil
}

func (w *wrapperSupervisor) IsAlive(ctx context.Context, rec *Record) (bool, error) {
	svc, err := w.service(rec)
	if err != nil {
		return false, fmt.Errorf("create service: %w", err)
	}
	status, err := awaitStatus(ctx, svc)
	if err != nil {
		if err == service.ErrNotInstalled {
			return false, ErrNotRegistered
		}
		return false, fmt.Errorf("query status: %w", err)
	}
	return status == service.StatusRunning, nil
}

func (w *wrapperSupervisor) Remove(ctx context.Context, rec *Record) error {
	svc, err := w.service(rec)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if status, _ := awaitStatus(ctx, svc); status == service.StatusRunning {
		if err := await(ctx, svc.Stop); err != nil {
			log.Warn().Err(err).Str("service", rec.Name).Msg("failed to stop service")
		}
	}
	if err := await(ctx, svc.Uninstall); err != nil {
		return fmt.Errorf("uninstall service: %w", err)
	}
	return nil
}
