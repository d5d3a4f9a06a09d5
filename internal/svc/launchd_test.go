package svc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPlist(t *testing.T) {
	spec := testSpec()
	plist, err := renderPlist("com.ztconnect.tunnel-hub1", spec)
	require.NoError(t, err)

	assert.Contains(t, plist, "<string>com.ztconnect.tunnel-hub1</string>")
	assert.Contains(t, plist, "<string>/usr/bin/ssh</string>")
	assert.Contains(t, plist, "<string>9721:localhost:22</string>")
	assert.Contains(t, plist, "<key>RunAtLoad</key>\n\t<true/>")
	assert.Contains(t, plist, "<key>ThrottleInterval</key>\n\t<integer>60</integer>")
	assert.Contains(t, plist, "<key>SuccessfulExit</key>")
	assert.Contains(t, plist, "<string>/var/log/ztconnect/tunnel-hub1-example-com.log</string>")
	assert.Contains(t, plist, "<key>UserName</key>\n\t<string>ztconnect</string>")
	assert.Contains(t, plist, "<key>ZTC_HUB</key>")
}

func TestRenderPlistEscapesXML(t *testing.T) {
	spec := testSpec()
	spec.Args = []string{"a<b&c"}
	plist, err := renderPlist("com.ztconnect.t", spec)
	require.NoError(t, err)
	assert.Contains(t, plist, "a&lt;b&amp;c")
}

func TestLaunchdRegisterAndRemove(t *testing.T) {
	run := newFakeRunner()
	sup := &launchdSupervisor{daemonDir: t.TempDir(), run: run}

	rec, err := sup.Register(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, "launchd", rec.Backend)

	path := filepath.Join(sup.daemonDir, "com.ztconnect."+rec.Name+".plist")
	assert.FileExists(t, path)
	assert.Contains(t, run.calls, "launchctl bootstrap system "+path)

	require.NoError(t, sup.Remove(context.Background(), rec))
	assert.NoFileExists(t, path)
	assert.Contains(t, run.calls, "launchctl bootout system "+path)
}

func TestLaunchdIsAlive(t *testing.T) {
	run := newFakeRunner()
	sup := &launchdSupervisor{daemonDir: t.TempDir(), run: run}
	rec := &Record{Name: "tunnel-hub1", Backend: "launchd"}

	run.outputs["launchctl print system/com.ztconnect.tunnel-hub1"] = "com.ztconnect.tunnel-hub1 = {\n\tpid = 4242\n\tstate = running\n}"
	alive, err := sup.IsAlive(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, alive)

	run.outputs["launchctl print system/com.ztconnect.tunnel-hub1"] = "com.ztconnect.tunnel-hub1 = {\n\tstate = not running\n}"
	alive, err = sup.IsAlive(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestLaunchdLifecycleCommands(t *testing.T) {
	run := newFakeRunner()
	sup := &launchdSupervisor{daemonDir: t.TempDir(), run: run}
	rec := &Record{Name: "tunnel-hub1", Backend: "launchd"}
	ctx := context.Background()

	require.NoError(t, sup.Start(ctx, rec))
	require.NoError(t, sup.Stop(ctx, rec))
	require.NoError(t, sup.Restart(ctx, rec))

	assert.Equal(t, []string{
		"launchctl kickstart system/com.ztconnect.tunnel-hub1",
		"launchctl kill SIGTERM system/com.ztconnect.tunnel-hub1",
		"launchctl kickstart -k system/com.ztconnect.tunnel-hub1",
	}, run.calls)
}
