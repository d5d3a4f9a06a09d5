// Package firewall applies outbound-allow rules scoped to the configured hub
// endpoints. Inbound stays default-deny; the whole point of the reverse
// tunnels is that the edge never opens an inbound port.
//
// Rules are tagged with a recognizable label and re-applying removes the
// tagged rules first, so apply is idempotent.
package firewall

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/ztconnect/ztconnect/internal/hub"
)

// Label tags every rule we own.
const Label = "ztconnect"

// Configurator applies hub-scoped outbound rules for one platform.
type Configurator interface {
	Apply(ctx context.Context, endpoints []hub.Endpoint) error
}

// New selects the platform backend. Unsupported platforms get a no-op
// configurator: firewall scoping is a connectivity precondition, not a
// feature worth failing setup over on an unknown OS.
func New() Configurator {
	switch runtime.GOOS {
	case "linux":
		return newIptables(execCommand{})
	case "darwin":
		return newPf(execCommand{})
	case "windows":
		return newNetsh(execCommand{})
	default:
		log.Warn().Str("os", runtime.GOOS).Msg("no firewall backend; skipping outbound scoping")
		return noop{}
	}
}

type noop struct{}

func (noop) Apply(ctx context.Context, endpoints []hub.Endpoint) error { return nil }

// commander runs a platform firewall tool. Seam for tests.
type commander interface {
	output(ctx context.Context, name string, args ...string) (string, error)
}

type execCommand struct{}

func (execCommand) output(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("%s %s: %w (%s)", name, strings.Join(args, " "), err, text)
	}
	return text, nil
}

// iptablesConfigurator tags rules with an iptables comment match.
type iptablesConfigurator struct {
	run commander
}

func newIptables(run commander) *iptablesConfigurator {
	return &iptablesConfigurator{run: run}
}

// Apply removes every rule carrying our comment label and re-creates one
// outbound accept per hub endpoint.
func (c *iptablesConfigurator) Apply(ctx context.Context, endpoints []hub.Endpoint) error {
	existing, err := c.run.output(ctx, "iptables", "-S", "OUTPUT")
	if err != nil {
		return fmt.Errorf("list output rules: %w", err)
	}

	for _, line := range strings.Split(existing, "\n") {
		if !strings.Contains(line, "--comment "+Label) {
			continue
		}
		// "-A OUTPUT ..." -> "iptables -D OUTPUT ..."
		spec := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "-A "))
		args := append([]string{"-D"}, spec...)
		if _, err := c.run.output(ctx, "iptables", args...); err != nil {
			return fmt.Errorf("remove stale rule: %w", err)
		}
	}

	for _, ep := range endpoints {
		args := []string{
			"-A", "OUTPUT",
			"-p", "tcp",
			"-d", ep.Host,
			"--dport", fmt.Sprintf("%d", ep.Port),
			"-j", "ACCEPT",
			"-m", "comment", "--comment", Label,
		}
		if _, err := c.run.output(ctx, "iptables", args...); err != nil {
			return fmt.Errorf("allow hub %s: %w", ep.Addr(), err)
		}
		log.Debug().Str("hub", ep.Addr()).Msg("outbound rule applied")
	}
	return nil
}

// pfConfigurator owns a named pf anchor; reloading the anchor replaces its
// rule set wholesale, so idempotence is structural.
type pfConfigurator struct {
	run commander
}

func newPf(run commander) *pfConfigurator {
	return &pfConfigurator{run: run}
}

func (c *pfConfigurator) Apply(ctx context.Context, endpoints []hub.Endpoint) error {
	var rules strings.Builder
	for _, ep := range endpoints {
		fmt.Fprintf(&rules, "pass out proto tcp from any to %s port %d\n", ep.Host, ep.Port)
	}

	// pfctl reads the replacement rule set on stdin; an empty load clears
	// the whole anchor. printf carries the newlines between rules verbatim,
	// which echo does not guarantee.
	script := fmt.Sprintf("printf '%%s' %s | pfctl -a %s -f -", shellQuote(rules.String()), Label)
	if _, err := c.run.output(ctx, "sh", "-c", script); err != nil {
		return fmt.Errorf("load pf anchor: %w", err)
	}
	return nil
}

// shellQuote single-quotes s for POSIX sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// netshConfigurator names every rule identically so a single delete clears
// all of them before re-adding.
type netshConfigurator struct {
	run commander
}

func newNetsh(run commander) *netshConfigurator {
	return &netshConfigurator{run: run}
}

func (c *netshConfigurator) Apply(ctx context.Context, endpoints []hub.Endpoint) error {
	// delete fails when no rule exists yet; that is not an error.
	if out, err := c.run.output(ctx, "netsh", "advfirewall", "firewall", "delete", "rule",
		"name="+Label); err != nil && !strings.Contains(out, "No rules match") {
		log.Debug().Err(err).Msg("no existing rules to delete")
	}

	for _, ep := range endpoints {
		args := []string{
			"advfirewall", "firewall", "add", "rule",
			"name=" + Label,
			"dir=out",
			"action=allow",
			"protocol=TCP",
			"remoteip=" + ep.Host,
			fmt.Sprintf("remoteport=%d", ep.Port),
		}
		if _, err := c.run.output(ctx, "netsh", args...); err != nil {
			return fmt.Errorf("allow hub %s: %w", ep.Addr(), err)
		}
	}
	return nil
}
