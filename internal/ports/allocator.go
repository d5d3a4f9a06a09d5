// Package ports derives the stable reverse-tunnel port assignments for a node.
package ports

import (
	"crypto/md5"
	"encoding/binary"
)

// Port ranges for the three reverse bindings on the hub side.
const (
	SystemPortBase   = 9000
	SystemPortSpan   = 1000
	TerminalPortBase = 10000
	TerminalPortSpan = 50000
)

// Allocation is the port triple assigned to a node on every hub.
type Allocation struct {
	System   uint16 // system/SSH channel, [9000,9999]
	Terminal uint16 // terminal-in-browser channel, [10000,59999]
	HTTPS    uint16 // HTTPS channel, always Terminal+1
}

// Derive computes the port triple for a node ID. The derivation is pure:
// the same node ID yields the same ports on any machine at any time, which
// is what lets the hub keep a NodeID->port routing table independent of the
// edge's install history.
//
// Distinct node IDs can derive colliding ports on the same hub; there is no
// collision-avoidance registry. Setup logs the derived triple so hub
// operators can spot clashes.
func Derive(nodeID string) Allocation {
	digest := md5.Sum([]byte(nodeID))
	h := binary.BigEndian.Uint32(digest[:4])

	terminal := uint16(TerminalPortBase + h%TerminalPortSpan)
	return Allocation{
		System:   uint16(SystemPortBase + h%SystemPortSpan),
		Terminal: terminal,
		HTTPS:    terminal + 1,
	}
}
