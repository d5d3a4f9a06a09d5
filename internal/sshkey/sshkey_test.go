package sshkey

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsurePairGenerates(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "id_ed25519")
	pub := filepath.Join(dir, "id_ed25519.pub")

	pair, err := EnsurePair(priv, pub, "edge-01")
	require.NoError(t, err)

	assert.FileExists(t, priv)
	assert.FileExists(t, pub)
	assert.True(t, strings.HasPrefix(pair.PublicKey, "ssh-ed25519 "))
	assert.True(t, strings.HasSuffix(pair.PublicKey, " edge-01"))
	assert.True(t, strings.HasPrefix(pair.Fingerprint, "SHA256:"))
}

func TestEnsurePairIsStable(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "id_ed25519")
	pub := filepath.Join(dir, "id_ed25519.pub")

	first, err := EnsurePair(priv, pub, "edge-01")
	require.NoError(t, err)

	// A second call must load, not regenerate.
	second, err := EnsurePair(priv, pub, "edge-01")
	require.NoError(t, err)

	assert.Equal(t, first.PublicKey, second.PublicKey)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestEnsurePairRecoversPublicHalf(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "id_ed25519")
	pub := filepath.Join(dir, "id_ed25519.pub")

	first, err := EnsurePair(priv, pub, "edge-01")
	require.NoError(t, err)

	// Deleting the .pub file must not break loading: the public half is
	// recoverable from the private key.
	require.NoError(t, os.Remove(pub))

	second, err := EnsurePair(priv, pub, "edge-01")
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestPrivateKeyPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}

	dir := t.TempDir()
	priv := filepath.Join(dir, "id_ed25519")
	_, err := EnsurePair(priv, filepath.Join(dir, "id_ed25519.pub"), "")
	require.NoError(t, err)

	info, err := os.Stat(priv)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
