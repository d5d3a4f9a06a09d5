// Package hub holds the configured hub endpoints and the one-time key
// registration handshake against the hub control plane.
package hub

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultControlPort is the hub SSH control port used when an endpoint
// entry carries no explicit port.
const DefaultControlPort = 22

// Endpoint is one configured hub. Priority is the position in the
// configured list; it determines tunnel-creation order only. All tunnels
// run concurrently, so the list provides redundancy, not failover.
type Endpoint struct {
	Host     string
	Port     uint16
	Priority int
}

// Addr returns the endpoint as host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// Registry is the ordered list of configured hubs.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry builds a registry from an ordered endpoint slice.
func NewRegistry(endpoints []Endpoint) *Registry {
	return &Registry{endpoints: endpoints}
}

// ParseEndpoints parses a comma-separated hub list as supplied by the
// installer, e.g. "hub1.example.com,hub2.example.com:2222". Entries without
// a port get the default control port. Order is preserved and becomes each
// endpoint's priority.
func ParseEndpoints(list string) (*Registry, error) {
	var endpoints []Endpoint
	for _, raw := range strings.Split(list, ",") {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		host := entry
		port := uint16(DefaultControlPort)
		if h, p, err := net.SplitHostPort(entry); err == nil {
			n, err := strconv.ParseUint(p, 10, 16)
			if err != nil || n == 0 {
				return nil, fmt.Errorf("hub endpoint %q: invalid port %q", entry, p)
			}
			host = h
			port = uint16(n)
		} else if strings.Contains(entry, ":") {
			return nil, fmt.Errorf("hub endpoint %q: %w", entry, err)
		}

		endpoints = append(endpoints, Endpoint{
			Host:     host,
			Port:     port,
			Priority: len(endpoints),
		})
	}

	if len(endpoints) == 0 {
		return nil, fmt.Errorf("hub endpoint list is empty")
	}
	return NewRegistry(endpoints), nil
}

// Endpoints returns the configured hubs in priority order.
func (r *Registry) Endpoints() []Endpoint {
	out := make([]Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

// Len returns the number of configured hubs.
func (r *Registry) Len() int {
	return len(r.endpoints)
}
