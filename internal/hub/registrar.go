package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is the outcome of the key-registration handshake.
type Status int

const (
	// StatusRegistered means the hub accepted the public key.
	StatusRegistered Status = iota
	// StatusDeferred means registration did not complete and the key was
	// persisted locally for out-of-band registration. Never fatal: the
	// tunnels will fail to authenticate until the key is registered, which
	// the watchdog makes visible through repeated restarts.
	StatusDeferred
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Record captures the result of the one-time registration attempt. If the
// handshake failed, FallbackPath points at the persisted public key and
// Reason carries the condition; neither is ever retried automatically.
type Record struct {
	Status       Status
	RegisteredAt time.Time
	FallbackPath string
	Reason       error
}

// DefaultRegisterTimeout bounds the single registration request.
const DefaultRegisterTimeout = 15 * time.Second

// Registrar performs the one-time public-key registration handshake.
type Registrar struct {
	apiBase string
	client  *http.Client
}

// NewRegistrar creates a registrar for the hub control API at apiBase.
// A nil client gets a default with the registration timeout applied.
func NewRegistrar(apiBase string, client *http.Client) *Registrar {
	if client == nil {
		client = &http.Client{Timeout: DefaultRegisterTimeout}
	}
	return &Registrar{apiBase: apiBase, client: client}
}

type registerRequest struct {
	PublicKey string `json:"public_key"`
	NodeName  string `json:"node_name"`
}

// Register POSTs the public key to the hub control API. Any failure (network,
// auth, non-2xx) is downgraded to a Deferred record with the key persisted at
// fallbackPath; there is no retry loop here. Re-invoking setup is the
// operator's retry mechanism.
func (r *Registrar) Register(ctx context.Context, nodeID, nodeName, agentToken, publicKey, fallbackPath string) Record {
	if err := r.post(ctx, nodeID, nodeName, agentToken, publicKey); err != nil {
		log.Warn().
			Err(err).
			Str("node_id", nodeID).
			Str("fallback", fallbackPath).
			Msg("key registration deferred; register the public key with the hub manually")
		r.writeFallback(fallbackPath, publicKey)
		return Record{Status: StatusDeferred, FallbackPath: fallbackPath, Reason: err}
	}

	log.Info().Str("node_id", nodeID).Msg("public key registered with hub")
	return Record{Status: StatusRegistered, RegisteredAt: time.Now()}
}

func (r *Registrar) post(ctx context.Context, nodeID, nodeName, agentToken, publicKey string) error {
	body, err := json.Marshal(registerRequest{PublicKey: publicKey, NodeName: nodeName})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/nodes/%s/register-key", r.apiBase, nodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+agentToken)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post registration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("hub returned %s", resp.Status)
	}
	return nil
}

func (r *Registrar) writeFallback(path, publicKey string) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cannot create fallback key directory")
		return
	}
	if err := os.WriteFile(path, []byte(publicKey+"\n"), 0600); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cannot persist fallback public key")
	}
}
