package keystore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/cryptox"
)

func TestGenerateAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")
	passphrase := []byte("correct horse battery staple")

	pubPEM, err := Generate(path, passphrase)
	require.NoError(t, err)
	require.NotEmpty(t, pubPEM)
	assert.True(t, Exists(path))

	privPEM, gotPub, err := Open(path, passphrase)
	require.NoError(t, err)
	assert.Equal(t, pubPEM, gotPub)

	// The unsealed private key must actually decrypt what the public
	// key encrypted.
	blob, err := cryptox.Encrypt([]byte("round trip"), pubPEM)
	require.NoError(t, err)
	assert.Equal(t, "round trip", cryptox.Decrypt(blob, privPEM))
}

func TestOpenWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")

	_, err := Generate(path, []byte("right"))
	require.NoError(t, err)

	_, _, err = Open(path, []byte("wrong"))
	assert.ErrorIs(t, err, common.ErrCrypto)
}

func TestOpenMissingFile(t *testing.T) {
	_, _, err := Open(filepath.Join(t.TempDir(), "nope.key"), []byte("pw"))
	assert.ErrorIs(t, err, common.ErrKeyNotFound)
}
