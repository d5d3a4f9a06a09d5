package control

import (
	"encoding/json"
	"net"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	status StatusResponse
}

func (p *staticProvider) Status() StatusResponse {
	return p.status
}

func testStatus() StatusResponse {
	return StatusResponse{
		NodeID:    "eba77c68-6ef0-469a-9166-685829a4fa48",
		NodeName:  "edge-01",
		Reachable: true,
		Tunnels: []TunnelStatus{
			{
				Hub:          "hub1.example.com",
				State:        "connected",
				Up:           true,
				RestartCount: 2,
				SystemPort:   9721,
				TerminalPort: 19721,
				HTTPSPort:    19722,
			},
		},
	}
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets")
	}

	path := filepath.Join(t.TempDir(), "ztc.sock")
	srv := NewServer(path, &staticProvider{status: testStatus()})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv, path
}

func TestQueryStatus(t *testing.T) {
	_, path := startServer(t)

	status, err := QueryStatus(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-01", status.NodeName)
	assert.True(t, status.Reachable)
	require.Len(t, status.Tunnels, 1)
	assert.Equal(t, "connected", status.Tunnels[0].State)
	assert.Equal(t, uint16(19722), status.Tunnels[0].HTTPSPort)
}

func TestUnknownCommand(t *testing.T) {
	_, path := startServer(t)

	conn, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(Request{Command: "nope"}))

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown command")
}

func TestMalformedRequest(t *testing.T) {
	_, path := startServer(t)

	conn, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	assert.False(t, resp.Success)
}

func TestStopRemovesSocket(t *testing.T) {
	srv, path := startServer(t)
	require.NoError(t, srv.Stop())

	_, err := QueryStatus(path)
	assert.Error(t, err)
}
