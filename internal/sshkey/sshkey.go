// Package sshkey generates and loads the node's SSH key pair.
package sshkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Pair is the node's on-disk key material. The key pair is generated once
// at setup; afterwards it is read-only and shared by every tunnel unit.
type Pair struct {
	PrivateKeyPath string
	PublicKeyPath  string
	PublicKey      string // authorized_keys line, no trailing newline
	Fingerprint    string // SHA256 fingerprint of the public key
}

// EnsurePair loads the key pair at privPath, generating a new ed25519 pair
// if none exists. The comment becomes the authorized_keys comment field.
func EnsurePair(privPath, pubPath, comment string) (*Pair, error) {
	if _, err := os.Stat(privPath); err == nil {
		return load(privPath, pubPath)
	}
	return generate(privPath, pubPath, comment)
}

func generate(privPath, pubPath, comment string) (*Pair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}

	pemBlock, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("convert public key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(privPath), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(privPath, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}

	pubLine := authorizedKeyLine(sshPub, comment)
	if err := os.WriteFile(pubPath, []byte(pubLine+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}

	return &Pair{
		PrivateKeyPath: privPath,
		PublicKeyPath:  pubPath,
		PublicKey:      pubLine,
		Fingerprint:    ssh.FingerprintSHA256(sshPub),
	}, nil
}

func load(privPath, pubPath string) (*Pair, error) {
	data, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pubLine := ""
	if pubData, err := os.ReadFile(pubPath); err == nil {
		pubLine = strings.TrimSpace(string(pubData))
	} else {
		pubLine = strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))
	}

	return &Pair{
		PrivateKeyPath: privPath,
		PublicKeyPath:  pubPath,
		PublicKey:      pubLine,
		Fingerprint:    ssh.FingerprintSHA256(signer.PublicKey()),
	}, nil
}

func authorizedKeyLine(pub ssh.PublicKey, comment string) string {
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
	if comment != "" {
		line += " " + comment
	}
	return line
}
