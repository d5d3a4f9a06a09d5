// Package config handles the persisted node configuration record for ztconnect.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Validation failures are precondition errors: they abort setup before any
// tunnel is created.
var (
	ErrMissingNodeID = errors.New("node id is required")
	ErrMissingToken  = errors.New("agent token is required")
	ErrNoHubs        = errors.New("at least one hub endpoint is required")
)

// Identity is the node's provisioning identity. Immutable after setup.
type Identity struct {
	NodeID     string `yaml:"node_id"`
	NodeName   string `yaml:"node_name"`
	AgentToken string `yaml:"agent_token"`
}

// HubPorts records the derived reverse-port triple for one hub.
type HubPorts struct {
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	Priority int    `yaml:"priority"`
	System   uint16 `yaml:"system_port"`
	Terminal uint16 `yaml:"terminal_port"`
	HTTPS    uint16 `yaml:"https_port"`
}

// LocalServices are the edge-side ports the tunnels expose.
type LocalServices struct {
	SSHPort   uint16 `yaml:"ssh_port"`
	HTTPSPort uint16 `yaml:"https_port"`
	TermPort  uint16 `yaml:"terminal_port"`
}

// Node is the full configuration record. It is written once at setup time
// and thereafter only read; every component receives it by reference from
// its constructor rather than from ambient state.
type Node struct {
	Identity Identity      `yaml:"identity"`
	Hubs     []HubPorts    `yaml:"hubs"`
	Local    LocalServices `yaml:"local"`
	KeyDir   string        `yaml:"key_dir"`
	LogDir   string        `yaml:"log_dir"`

	// RegistrationDeferred is set when the install-time key registration
	// could not reach the hub and the public key still needs manual upload.
	RegistrationDeferred bool `yaml:"registration_deferred,omitempty"`
}

// DefaultPath returns the platform default for the node config file.
func DefaultPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "ZTConnect", "node.yaml")
	default:
		return "/etc/ztconnect/node.yaml"
	}
}

// DefaultKeyDir returns the platform default for key material.
func DefaultKeyDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "ZTConnect", "keys")
	default:
		return "/etc/ztconnect/keys"
	}
}

// DefaultLogDir returns the platform default for tunnel log files.
func DefaultLogDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "ZTConnect", "logs")
	default:
		return "/var/log/ztconnect"
	}
}

// Load reads and validates a node configuration file.
func Load(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Node{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// Apply defaults
	if cfg.KeyDir == "" {
		cfg.KeyDir = DefaultKeyDir()
	}
	if cfg.LogDir == "" {
		cfg.LogDir = DefaultLogDir()
	}
	if cfg.Local.SSHPort == 0 {
		cfg.Local.SSHPort = 22
	}
	if cfg.Local.HTTPSPort == 0 {
		cfg.Local.HTTPSPort = 443
	}
	if cfg.Local.TermPort == 0 {
		cfg.Local.TermPort = cfg.Local.SSHPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the record with read access restricted to the service account.
func (n *Node) Save(path string) error {
	if err := n.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the preconditions for running any core component.
func (n *Node) Validate() error {
	if n.Identity.NodeID == "" {
		return ErrMissingNodeID
	}
	if _, err := uuid.Parse(n.Identity.NodeID); err != nil {
		return fmt.Errorf("node id %q is not a valid UUID: %w", n.Identity.NodeID, err)
	}
	if n.Identity.AgentToken == "" {
		return ErrMissingToken
	}
	if len(n.Hubs) == 0 {
		return ErrNoHubs
	}
	for i, h := range n.Hubs {
		if h.Host == "" {
			return fmt.Errorf("hub %d: host is required", i)
		}
		if h.Port == 0 {
			return fmt.Errorf("hub %d (%s): port is required", i, h.Host)
		}
	}
	return nil
}

// PrivateKeyPath returns the path of the node's SSH private key.
func (n *Node) PrivateKeyPath() string {
	return filepath.Join(n.KeyDir, "id_ed25519")
}

// PublicKeyPath returns the path of the node's SSH public key.
func (n *Node) PublicKeyPath() string {
	return filepath.Join(n.KeyDir, "id_ed25519.pub")
}

// FallbackKeyPath is where the public key is persisted for out-of-band
// registration when the hub API could not be reached.
func (n *Node) FallbackKeyPath() string {
	return filepath.Join(n.KeyDir, "register-key.pending")
}
