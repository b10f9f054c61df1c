// Package signer derives operational P-256 key material from a master
// seed. Guardian keys used in tests and by the CLI come from here, so the
// same seed always reproduces the same identity.
package signer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var hkdfSalt = []byte("neoguard-signer")

// DerivePrivateKey derives a P-256 private key from the master seed and a
// label. Distinct labels yield independent keys.
func DerivePrivateKey(masterSeed []byte, label string) (*ecdsa.PrivateKey, error) {
	if len(masterSeed) == 0 {
		return nil, fmt.Errorf("master seed is required")
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("label is required")
	}

	info := []byte("recovery-key-" + label)
	reader := hkdf.New(sha256.New, masterSeed, hkdfSalt, info)

	okm := make([]byte, 32)
	if _, err := io.ReadFull(reader, okm); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	curve := elliptic.P256()
	n := curve.Params().N

	// Map OKM into [1, n-1] to avoid invalid private keys.
	d := new(big.Int).SetBytes(okm)
	nMinusOne := new(big.Int).Sub(n, big.NewInt(1))
	d.Mod(d, nMinusOne)
	d.Add(d, big.NewInt(1))

	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: curve,
		},
		D: d,
	}
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
	if priv.PublicKey.X == nil || priv.PublicKey.Y == nil || !curve.IsOnCurve(priv.PublicKey.X, priv.PublicKey.Y) {
		return nil, fmt.Errorf("derived key is not on curve")
	}

	return priv, nil
}

// CompressPublicKey encodes a P-256 public key in 33-byte compressed form.
func CompressPublicKey(pub *ecdsa.PublicKey) []byte {
	compressed := make([]byte, 33)
	if pub.Y.Bit(0) == 0 {
		compressed[0] = 0x02
	} else {
		compressed[0] = 0x03
	}
	xBytes := pub.X.Bytes()
	copy(compressed[33-len(xBytes):], xBytes)
	return compressed
}
