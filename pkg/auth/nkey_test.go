package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nats-io/nkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserSeed(t *testing.T) ([]byte, string) {
	t.Helper()
	kp, err := nkeys.CreateUser()
	require.NoError(t, err)
	seed, err := kp.Seed()
	require.NoError(t, err)
	pub, err := kp.PublicKey()
	require.NoError(t, err)
	return seed, pub
}

func TestNKeySignerSignsNonce(t *testing.T) {
	seed, pub := newUserSeed(t)

	s, err := NewNKeySigner(seed)
	require.NoError(t, err)
	defer s.Wipe()

	got, err := s.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, pub, got)

	nonce := []byte("abcdefghijk")
	sig, err := s.Sign(nonce)
	require.NoError(t, err)

	assert.NoError(t, Verify(pub, nonce, EncodeSignature(sig)))
	assert.Error(t, Verify(pub, []byte("other"), EncodeSignature(sig)))
}

func TestNewNKeySignerRejectsGarbage(t *testing.T) {
	_, err := NewNKeySigner([]byte("not-a-seed"))
	assert.Error(t, err)
}

func TestLoadNKeySeedFile(t *testing.T) {
	seed, pub := newUserSeed(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "user.nk")
	content := "# user seed\n\n" + string(seed) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	s, err := LoadNKeySeedFile(path)
	require.NoError(t, err)

	got, err := s.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, pub, got)
}

func TestLoadNKeySeedFileWithoutSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.nk")
	require.NoError(t, os.WriteFile(path, []byte("nothing here\n"), 0600))

	_, err := LoadNKeySeedFile(path)
	assert.ErrorIs(t, err, ErrNoSeed)
}

func TestDecodeSignatureAcceptsStdEncoding(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0x01}
	for _, enc := range []string{"+/8B", "-_8B"} {
		got, err := DecodeSignature(enc)
		require.NoError(t, err, enc)
		assert.Equal(t, raw, got, enc)
	}
}
