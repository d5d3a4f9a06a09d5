package tunnel

import (
	"fmt"

	"github.com/ztconnect/ztconnect/internal/config"
	"github.com/ztconnect/ztconnect/internal/ports"
)

// Purpose identifies which of the three reverse bindings a spec carries.
type Purpose int

const (
	// PurposeSystem is the system/SSH management channel.
	PurposeSystem Purpose = iota
	// PurposeTerminal is the terminal-in-browser channel.
	PurposeTerminal
	// PurposeHTTPS is the HTTPS service channel.
	PurposeHTTPS
)

// String returns a human-readable representation of the purpose.
func (p Purpose) String() string {
	switch p {
	case PurposeSystem:
		return "system"
	case PurposeTerminal:
		return "terminal"
	case PurposeHTTPS:
		return "https"
	default:
		return "unknown"
	}
}

// Spec is one reverse port mapping: the hub-side remote port bound back to
// a local service port. Protocol is always TCP.
type Spec struct {
	Purpose    Purpose
	RemotePort uint16
	LocalPort  uint16
}

// ForwardArg renders the forwarding as an OpenSSH -R argument value.
func (s Spec) ForwardArg() string {
	return fmt.Sprintf("%d:localhost:%d", s.RemotePort, s.LocalPort)
}

// BuildSpecs derives the three specs for one hub from the node's port
// allocation and local service ports. Exactly three specs exist per hub.
func BuildSpecs(alloc ports.Allocation, local config.LocalServices) [3]Spec {
	return [3]Spec{
		{Purpose: PurposeSystem, RemotePort: alloc.System, LocalPort: local.SSHPort},
		{Purpose: PurposeTerminal, RemotePort: alloc.Terminal, LocalPort: local.TermPort},
		{Purpose: PurposeHTTPS, RemotePort: alloc.HTTPS, LocalPort: local.HTTPSPort},
	}
}
