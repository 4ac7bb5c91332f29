// Package auth signs server nonces during the connection handshake.
package auth

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/nats-io/nkeys"
)

// Auth errors.
var (
	ErrNoSeed = errors.New("no nkey seed found")
)

// Signer proves possession of a key by signing the nonce from INFO.
type Signer interface {
	// PublicKey returns the public key announced in CONNECT.
	PublicKey() (string, error)

	// Sign signs the server nonce.
	Sign(nonce []byte) ([]byte, error)
}

// NKeySigner signs nonces with an Ed25519 nkey.
type NKeySigner struct {
	kp nkeys.KeyPair
}

// Compile-time interface satisfaction check.
var _ Signer = (*NKeySigner)(nil)

// NewNKeySigner creates a signer from an encoded seed ("SU...").
func NewNKeySigner(seed []byte) (*NKeySigner, error) {
	kp, err := nkeys.FromSeed(bytes.TrimSpace(seed))
	if err != nil {
		return nil, fmt.Errorf("parse nkey seed: %w", err)
	}
	return &NKeySigner{kp: kp}, nil
}

// LoadNKeySeedFile reads a seed file and returns a signer. The file may hold
// other lines (comments, decorated credentials); the first line carrying a
// seed is used.
func LoadNKeySeedFile(path string) (*NKeySigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read nkey seed file: %w", err)
	}
	defer wipe(data)

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) > 1 && line[0] == 'S' && line[1] == 'U' {
			return NewNKeySigner(line)
		}
	}
	return nil, fmt.Errorf("%w in %s", ErrNoSeed, path)
}

// PublicKey returns the public key of the user nkey.
func (s *NKeySigner) PublicKey() (string, error) {
	return s.kp.PublicKey()
}

// Sign signs the nonce.
func (s *NKeySigner) Sign(nonce []byte) ([]byte, error) {
	return s.kp.Sign(nonce)
}

// Wipe clears the private key from memory.
func (s *NKeySigner) Wipe() {
	s.kp.Wipe()
}

// EncodeSignature renders a signature for the CONNECT "sig" field.
func EncodeSignature(sig []byte) string {
	return base64.RawURLEncoding.EncodeToString(sig)
}

// DecodeSignature accepts both raw URL and standard base64 encodings.
func DecodeSignature(s string) ([]byte, error) {
	if sig, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return sig, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// Verify checks a CONNECT signature against a public key.
func Verify(publicKey string, nonce []byte, sig string) error {
	kp, err := nkeys.FromPublicKey(publicKey)
	if err != nil {
		return fmt.Errorf("parse public key: %w", err)
	}
	raw, err := DecodeSignature(sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	return kp.Verify(nonce, raw)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 'x'
	}
}
