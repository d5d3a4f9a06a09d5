// Package control provides a Unix socket server for CLI-to-daemon
// communication: `ztconnect status` queries the running fabric supervisor
// through it.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSocketPath returns the default control socket path.
func DefaultSocketPath() string {
	return "/var/run/ztconnect.sock"
}

// Request types for control commands.
const (
	CmdStatus = "status"
)

// Timeouts for control socket operations.
const (
	// SocketDialTimeout is the timeout for connecting to the control socket.
	SocketDialTimeout = 5 * time.Second
	// SocketReadWriteTimeout is the timeout for reading/writing on the socket.
	SocketReadWriteTimeout = 5 * time.Second
)

// Request is a control command from the CLI.
type Request struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is a response to a control command.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// TunnelStatus is one tunnel unit's view in the status response.
type TunnelStatus struct {
	Hub             string    `json:"hub"`
	State           string    `json:"state"`
	Up              bool      `json:"up"`
	RestartCount    int       `json:"restart_count"`
	LastHealthCheck time.Time `json:"last_health_check"`
	SystemPort      uint16    `json:"system_port"`
	TerminalPort    uint16    `json:"terminal_port"`
	HTTPSPort       uint16    `json:"https_port"`
}

// StatusResponse is the payload for the status command.
type StatusResponse struct {
	NodeID    string         `json:"node_id"`
	NodeName  string         `json:"node_name"`
	Reachable bool           `json:"reachable"`
	Tunnels   []TunnelStatus `json:"tunnels"`
}

// StatusProvider supplies the current fabric status.
type StatusProvider interface {
	Status() StatusResponse
}

// Server is a Unix socket control server.
type Server struct {
	socketPath string
	provider   StatusProvider
	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewServer creates a control server backed by the given status provider.
func NewServer(socketPath string, provider StatusProvider) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		provider:   provider,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins listening on the control socket.
func (s *Server) Start() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	// Remove stale socket
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	// Restrict socket permissions
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.listener = listener
	log.Info().Str("path", s.socketPath).Msg("control socket listening")

	go s.acceptLoop()
	return nil
}

// Stop closes the control server.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	_ = os.Remove(s.socketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.socketPath
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Error().Err(err).Msg("control socket accept error")
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(SocketReadWriteTimeout))

	decoder := json.NewDecoder(conn)
	var req Request
	if err := decoder.Decode(&req); err != nil {
		s.sendError(conn, fmt.Errorf("decode request: %w", err))
		return
	}

	resp := s.handleCommand(req)

	encoder := json.NewEncoder(conn)
	_ = encoder.Encode(resp)
}

func (s *Server) handleCommand(req Request) Response {
	switch req.Command {
	case CmdStatus:
		data, err := json.Marshal(s.provider.Status())
		if err != nil {
			return Response{Success: false, Error: err.Error()}
		}
		return Response{Success: true, Data: data}
	default:
		return Response{Success: false, Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (s *Server) sendError(conn net.Conn, err error) {
	encoder := json.NewEncoder(conn)
	_ = encoder.Encode(Response{Success: false, Error: err.Error()})
}

// QueryStatus asks the daemon at socketPath for its current status.
func QueryStatus(socketPath string) (*StatusResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, SocketDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial control socket: %w", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(SocketReadWriteTimeout))

	if err := json.NewEncoder(conn).Encode(Request{Command: CmdStatus}); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}

	status := &StatusResponse{}
	if err := json.Unmarshal(resp.Data, status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}
