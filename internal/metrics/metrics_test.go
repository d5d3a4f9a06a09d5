package metrics

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

var (
	initOnce    sync.Once
	testMetrics *FabricMetrics
)

// metrics register into the package registry, so initialize once and share.
func fabricMetrics() *FabricMetrics {
	initOnce.Do(func() {
		testMetrics = InitMetrics("edge-01")
	})
	return testMetrics
}

func TestSetTunnelStateIsExclusive(t *testing.T) {
	m := fabricMetrics()

	m.SetTunnelState("hub1.example.com", "connected")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TunnelState.WithLabelValues("hub1.example.com", "connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TunnelState.WithLabelValues("hub1.example.com", "failed")))

	m.SetTunnelState("hub1.example.com", "failed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TunnelState.WithLabelValues("hub1.example.com", "connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TunnelState.WithLabelValues("hub1.example.com", "failed")))
}

func TestSetTunnelUpAndReachable(t *testing.T) {
	m := fabricMetrics()

	m.SetTunnelUp("hub2.example.com", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TunnelUp.WithLabelValues("hub2.example.com")))
	m.SetTunnelUp("hub2.example.com", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TunnelUp.WithLabelValues("hub2.example.com")))

	m.SetReachable(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reachable))
	m.SetReachable(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Reachable))
}

func TestSetRegistrationDeferred(t *testing.T) {
	m := fabricMetrics()

	m.SetRegistrationDeferred(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistrationDeferred))
	m.SetRegistrationDeferred(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RegistrationDeferred))
}

func TestRestartCounter(t *testing.T) {
	m := fabricMetrics()

	before := testutil.ToFloat64(m.Restarts.WithLabelValues("hub3.example.com"))
	m.Restarts.WithLabelValues("hub3.example.com").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(m.Restarts.WithLabelValues("hub3.example.com")))
}

func TestHandlerExposesFabricMetrics(t *testing.T) {
	m := fabricMetrics()
	m.SetTunnelState("hub1.example.com", "connected")
	m.WatchdogCycles.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(body, "ztconnect_tunnel_state"))
	assert.True(t, strings.Contains(body, "ztconnect_watchdog_cycles_total"))
	assert.True(t, strings.Contains(body, `node="edge-01"`))
}
