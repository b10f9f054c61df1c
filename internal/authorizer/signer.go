package authorizer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
)

// Signer validates authorization tokens on behalf of one recovery identity.
type Signer interface {
	// Address returns the identity's address.
	Address() string

	// Verify reports whether token authorizes the given digest.
	Verify(digest, token []byte) bool
}

// KeySigner is a plain public-key identity. Tokens are 64-byte r||s ECDSA
// P-256 signatures over the digest.
type KeySigner struct {
	pub *keys.PublicKey
}

// NewKeySigner parses a compressed 33-byte P-256 public key.
func NewKeySigner(compressed []byte) (*KeySigner, error) {
	pub, err := keys.NewPublicKeyFromBytes(compressed, elliptic.P256())
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &KeySigner{pub: pub}, nil
}

// NewKeySignerFromHex parses a hex-encoded compressed public key.
func NewKeySignerFromHex(s string) (*KeySigner, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key hex: %w", err)
	}
	return NewKeySigner(raw)
}

func (s *KeySigner) Address() string {
	return s.pub.Address()
}

// PublicKeyHex returns the compressed key in hex, the form stored on vaults.
func (s *KeySigner) PublicKeyHex() string {
	return hex.EncodeToString(s.pub.Bytes())
}

func (s *KeySigner) Verify(digest, token []byte) bool {
	if len(token) != 64 {
		return false
	}
	r := new(big.Int).SetBytes(token[:32])
	ss := new(big.Int).SetBytes(token[32:])

	pub := ecdsa.PublicKey{Curve: elliptic.P256(), X: s.pub.X, Y: s.pub.Y}
	return ecdsa.Verify(&pub, digest, r, ss)
}

// AttestorFunc is the validation callback of a programmatic identity. It
// receives the digest and the presented token and decides.
type AttestorFunc func(digest, token []byte) bool

// AttestorSigner is a contract-like identity: instead of an ECDSA check it
// delegates to registered validation logic.
type AttestorSigner struct {
	address string
	approve AttestorFunc
}

// NewAttestorSigner wraps a validation callback as a Signer.
func NewAttestorSigner(address string, approve AttestorFunc) *AttestorSigner {
	return &AttestorSigner{address: address, approve: approve}
}

func (s *AttestorSigner) Address() string { return s.address }

func (s *AttestorSigner) Verify(digest, token []byte) bool {
	if s.approve == nil {
		return false
	}
	return s.approve(digest, token)
}

// Sign produces the 64-byte r||s token a KeySigner accepts for digest.
// Tests, the CLI, and operational signers use it; the service itself only
// ever verifies.
func Sign(randReader io.Reader, priv *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if randReader == nil {
		randReader = rand.Reader
	}
	if len(digest) == 0 {
		return nil, fmt.Errorf("digest is required")
	}

	r, s, err := ecdsa.Sign(randReader, priv, digest)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	token := make([]byte, 64)
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	copy(token[32-len(rBytes):32], rBytes)
	copy(token[64-len(sBytes):64], sBytes)
	return token, nil
}
