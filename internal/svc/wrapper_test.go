package svc

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/kardianos/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKService struct {
	cfg    *service.Config
	status service.Status
	err    error
	calls  []string

	// block, when non-nil, makes every call hang until it is closed.
	block chan struct{}
}

func (f *fakeKService) record(call string) {
	f.calls = append(f.calls, call)
	if f.block != nil {
		<-f.block
	}
}

func (f *fakeKService) Run() error       { f.record("run"); return nil }
func (f *fakeKService) Start() error     { f.record("start"); return nil }
func (f *fakeKService) Stop() error      { f.record("stop"); return nil }
func (f *fakeKService) Restart() error   { f.record("restart"); return nil }
func (f *fakeKService) Install() error   { f.record("install"); return nil }
func (f *fakeKService) Uninstall() error { f.record("uninstall"); return nil }
func (f *fakeKService) String() string   { return f.cfg.Name }
func (f *fakeKService) Platform() string { return "fake" }

func (f *fakeKService) Logger(errs chan<- error) (service.Logger, error) {
	return nil, service.ErrNoServiceSystemDetected
}

func (f *fakeKService) SystemLogger(errs chan<- error) (service.Logger, error) {
	return nil, service.ErrNoServiceSystemDetected
}

func (f *fakeKService) Status() (service.Status, error) {
	f.record("status")
	return f.status, f.err
}

func newTestWrapper(fake *fakeKService) *wrapperSupervisor {
	return &wrapperSupervisor{
		newService: func(cfg *service.Config) (service.Service, error) {
			fake.cfg = cfg
			return fake, nil
		},
	}
}

func TestWrapperRegisterFresh(t *testing.T) {
	fake := &fakeKService{err: service.ErrNotInstalled}
	w := newTestWrapper(fake)

	rec, err := w.Register(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, "ztconnect-tunnel-hub1-example-com", rec.Name)
	assert.Equal(t, "wrapper", rec.Backend)

	// Nothing to tear down, straight to install.
	assert.Equal(t, []string{"status", "install"}, fake.calls)
}

func TestWrapperRegisterReplacesExisting(t *testing.T) {
	fake := &fakeKService{status: service.StatusRunning}
	w := newTestWrapper(fake)

	_, err := w.Register(context.Background(), testSpec())
	require.NoError(t, err)

	assert.Equal(t, []string{"status", "stop", "uninstall", "install"}, fake.calls)
}

func TestWrapperConfigMapping(t *testing.T) {
	fake := &fakeKService{err: service.ErrNotInstalled}
	w := newTestWrapper(fake)

	spec := testSpec()
	_, err := w.Register(context.Background(), spec)
	require.NoError(t, err)

	cfg := fake.cfg
	assert.Equal(t, spec.Name, cfg.Name)
	assert.Equal(t, spec.Command, cfg.Executable)
	assert.Equal(t, spec.Args, cfg.Arguments)

	if runtime.GOOS == "windows" {
		assert.Equal(t, "restart", cfg.Option["OnFailure"])
		assert.Equal(t, "1m", cfg.Option["OnFailureDelayDuration"])
	} else {
		assert.Equal(t, "on-failure", cfg.Option["Restart"])
		assert.Equal(t, "60", cfg.Option["RestartSec"])
	}
	assert.Equal(t, true, cfg.Option["LogOutput"])
	assert.Equal(t, filepath.Dir(spec.LogPath), cfg.Option["LogDirectory"])
}

func TestWrapperIsAlive(t *testing.T) {
	fake := &fakeKService{status: service.StatusRunning}
	w := newTestWrapper(fake)
	rec := &Record{Name: "ztconnect-watchdog", Backend: "wrapper"}

	alive, err := w.IsAlive(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, alive)

	fake.status = service.StatusStopped
	alive, err = w.IsAlive(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestWrapperIsAliveNotRegistered(t *testing.T) {
	fake := &fakeKService{err: service.ErrNotInstalled}
	w := newTestWrapper(fake)

	_, err := w.IsAlive(context.Background(), &Record{Name: "ztconnect-watchdog"})
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestWrapperRemoveStopsRunningService(t *testing.T) {
	fake := &fakeKService{status: service.StatusRunning}
	w := newTestWrapper(fake)

	err := w.Remove(context.Background(), &Record{Name: "ztconnect-watchdog"})
	require.NoError(t, err)
	assert.Equal(t, []string{"status", "stop", "uninstall"}, fake.calls)
}

func TestWrapperIsAliveHonorsQueryDeadline(t *testing.T) {
	fake := &fakeKService{status: service.StatusRunning, block: make(chan struct{})}
	w := newTestWrapper(fake)
	defer close(fake.block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	begin := time.Now()
	_, err := w.IsAlive(ctx, &Record{Name: "ztconnect-watchdog", Backend: "wrapper"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// A hung status query must not hold the caller past its deadline.
	assert.Less(t, time.Since(begin), time.Second)
}

func TestWrapperStartHonorsCancellation(t *testing.T) {
	fake := &fakeKService{block: make(chan struct{})}
	w := newTestWrapper(fake)
	defer close(fake.block)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Start(ctx, &Record{Name: "ztconnect-watchdog", Backend: "wrapper"})
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

func TestWrapperLifecycle(t *testing.T) {
	fake := &fakeKService{}
	w := newTestWrapper(fake)
	rec := &Record{Name: "ztconnect-watchdog", Backend: "wrapper"}

	require.NoError(t, w.Start(context.Background(), rec))
	require.NoError(t, w.Stop(context.Background(), rec))
	require.NoError(t, w.Restart(context.Background(), rec))
	assert.Equal(t, []string{"start", "stop", "restart"}, fake.calls)
}
