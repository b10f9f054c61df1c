package authorizer

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neoguard/internal/app/domain/vault"
	"github.com/R3E-Network/neoguard/internal/errors"
	"github.com/R3E-Network/neoguard/internal/signer"
)

var (
	testVaultAddr = address.Uint160ToString(util.Uint160{0x01, 0x02, 0x03})
	testToAddr    = address.Uint160ToString(util.Uint160{0x04, 0x05, 0x06})
)

func guardianKey(t *testing.T, label string) *ecdsa.PrivateKey {
	t.Helper()
	key, err := signer.DerivePrivateKey([]byte("authorizer-test-seed"), label)
	if err != nil {
		t.Fatalf("DerivePrivateKey: %v", err)
	}
	return key
}

// keyVault builds a signature-mode vault controlled by the labeled guardian
// plus a token authorizing a 75-unit withdrawal at the given counter.
func keyVault(t *testing.T, label string, counter uint64) (*vault.Vault, []byte) {
	t.Helper()
	key := guardianKey(t, label)
	compressed := signer.CompressPublicKey(&key.PublicKey)
	ks, err := NewKeySigner(compressed)
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}

	v := &vault.Vault{
		Address:           testVaultAddr,
		RecoveryKey:       ks.Address(),
		RecoveryPublicKey: hex.EncodeToString(compressed),
		SignerKind:        vault.SignerKindKey,
		Counter:           counter,
	}

	msg := WithdrawalMessage{Vault: v.Address, To: testToAddr, Amount: 75, Counter: counter}
	digest, err := msg.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	token, err := Sign(nil, key, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return v, token
}

func TestVerifyAndConsumeAdvancesCounter(t *testing.T) {
	v, token := keyVault(t, "g1", 3)
	a := New()

	msg := WithdrawalMessage{Vault: v.Address, To: testToAddr, Amount: 75, Counter: 3}
	if err := a.VerifyAndConsume(v, msg, token); err != nil {
		t.Fatalf("VerifyAndConsume: %v", err)
	}
	if v.Counter != 4 {
		t.Fatalf("counter = %d, want 4", v.Counter)
	}
}

func TestVerifyAndConsumeRejectsReplay(t *testing.T) {
	v, token := keyVault(t, "g1", 3)
	a := New()

	msg := WithdrawalMessage{Vault: v.Address, To: testToAddr, Amount: 75, Counter: 3}
	if err := a.VerifyAndConsume(v, msg, token); err != nil {
		t.Fatalf("first use: %v", err)
	}

	// Same token again: the stored counter moved, so it must fail and must
	// not advance the counter further.
	err := a.VerifyAndConsume(v, msg, token)
	if !errors.IsCode(err, errors.CodeSignatureInvalid) {
		t.Fatalf("replay error = %v, want SignatureInvalid", err)
	}
	if v.Counter != 4 {
		t.Fatalf("counter after failed replay = %d, want 4", v.Counter)
	}
}

func TestVerifyAndConsumeCounterMismatch(t *testing.T) {
	v, _ := keyVault(t, "g1", 5)
	a := New()

	// Token minted for counter 4 while the vault sits at 5.
	key := guardianKey(t, "g1")
	stale := WithdrawalMessage{Vault: v.Address, To: testToAddr, Amount: 75, Counter: 4}
	digest, err := stale.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	token, err := Sign(nil, key, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	err = a.VerifyAndConsume(v, stale, token)
	if !errors.IsCode(err, errors.CodeSignatureInvalid) {
		t.Fatalf("err = %v, want SignatureInvalid", err)
	}
	if v.Counter != 5 {
		t.Fatalf("counter = %d, want 5 untouched", v.Counter)
	}
}

func TestVerifyAndConsumeRejectsWrongSigner(t *testing.T) {
	v, _ := keyVault(t, "g1", 0)
	a := New()

	imposter := guardianKey(t, "imposter")
	msg := WithdrawalMessage{Vault: v.Address, To: testToAddr, Amount: 75, Counter: 0}
	digest, err := msg.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	token, err := Sign(nil, imposter, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	err = a.VerifyAndConsume(v, msg, token)
	if !errors.IsCode(err, errors.CodeSignatureInvalid) {
		t.Fatalf("err = %v, want SignatureInvalid", err)
	}
	if v.Counter != 0 {
		t.Fatalf("counter = %d, want 0 untouched", v.Counter)
	}
}

func TestVerifyAndConsumeRejectsTamperedFields(t *testing.T) {
	v, token := keyVault(t, "g1", 1)
	a := New()

	// Token was minted for amount 75; presenting it for 76 must fail.
	msg := WithdrawalMessage{Vault: v.Address, To: testToAddr, Amount: 76, Counter: 1}
	err := a.VerifyAndConsume(v, msg, token)
	if !errors.IsCode(err, errors.CodeSignatureInvalid) {
		t.Fatalf("tampered amount: err = %v, want SignatureInvalid", err)
	}

	// Different recipient, same amount.
	msg = WithdrawalMessage{Vault: v.Address, To: testVaultAddr, Amount: 75, Counter: 1}
	err = a.VerifyAndConsume(v, msg, token)
	if !errors.IsCode(err, errors.CodeSignatureInvalid) {
		t.Fatalf("tampered recipient: err = %v, want SignatureInvalid", err)
	}
}

func TestAttestorSignerPath(t *testing.T) {
	a := New()
	attestorAddr := address.Uint160ToString(util.Uint160{0xAA, 0xBB})

	var seen []byte
	a.RegisterAttestor(attestorAddr, func(digest, token []byte) bool {
		seen = digest
		return bytes.Equal(token, []byte("approved"))
	})

	v := &vault.Vault{
		Address:     testVaultAddr,
		RecoveryKey: attestorAddr,
		SignerKind:  vault.SignerKindAttestor,
		Counter:     7,
	}
	msg := WithdrawalMessage{Vault: v.Address, To: testToAddr, Amount: 10, Counter: 7}

	if err := a.VerifyAndConsume(v, msg, []byte("approved")); err != nil {
		t.Fatalf("attestor approve: %v", err)
	}
	if v.Counter != 8 {
		t.Fatalf("counter = %d, want 8", v.Counter)
	}
	if len(seen) != 32 {
		t.Fatalf("attestor saw digest of %d bytes, want 32", len(seen))
	}

	msg.Counter = 8
	err := a.VerifyAndConsume(v, msg, []byte("nope"))
	if !errors.IsCode(err, errors.CodeSignatureInvalid) {
		t.Fatalf("attestor reject: err = %v, want SignatureInvalid", err)
	}
	if v.Counter != 8 {
		t.Fatalf("counter = %d, want 8 untouched", v.Counter)
	}
}

func TestUnregisteredAttestorFails(t *testing.T) {
	a := New()
	v := &vault.Vault{
		Address:     testVaultAddr,
		RecoveryKey: address.Uint160ToString(util.Uint160{0xEE}),
		SignerKind:  vault.SignerKindAttestor,
	}
	msg := WithdrawalMessage{Vault: v.Address, To: testToAddr, Amount: 10, Counter: 0}

	err := a.VerifyAndConsume(v, msg, []byte("anything"))
	if !errors.IsCode(err, errors.CodeSignatureInvalid) {
		t.Fatalf("err = %v, want SignatureInvalid", err)
	}
}

func TestDigestDiffersPerField(t *testing.T) {
	base := WithdrawalMessage{Vault: testVaultAddr, To: testToAddr, Amount: 75, Counter: 3}
	baseDigest, err := base.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	variants := []WithdrawalMessage{
		{Vault: testVaultAddr, To: testToAddr, Amount: 75, Counter: 4},
		{Vault: testVaultAddr, To: testToAddr, Amount: 74, Counter: 3},
		{Vault: testToAddr, To: testToAddr, Amount: 75, Counter: 3},
		{Vault: testVaultAddr, To: testVaultAddr, Amount: 75, Counter: 3},
	}
	for i, m := range variants {
		d, err := m.Digest()
		if err != nil {
			t.Fatalf("variant %d: %v", i, err)
		}
		if bytes.Equal(d, baseDigest) {
			t.Fatalf("variant %d produced the same digest as base", i)
		}
	}
}

func TestDigestRejectsBadInputs(t *testing.T) {
	if _, err := (WithdrawalMessage{Vault: "junk", To: testToAddr, Amount: 1}).Digest(); err == nil {
		t.Fatal("expected error for bad vault address")
	}
	if _, err := (WithdrawalMessage{Vault: testVaultAddr, To: "junk", Amount: 1}).Digest(); err == nil {
		t.Fatal("expected error for bad recipient address")
	}
	if _, err := (WithdrawalMessage{Vault: testVaultAddr, To: testToAddr, Amount: -1}).Digest(); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestKeySignerRejectsMalformedTokens(t *testing.T) {
	key := guardianKey(t, "g1")
	ks, err := NewKeySigner(signer.CompressPublicKey(&key.PublicKey))
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}

	digest := bytes.Repeat([]byte{0xAB}, 32)
	if ks.Verify(digest, nil) {
		t.Fatal("nil token verified")
	}
	if ks.Verify(digest, bytes.Repeat([]byte{1}, 63)) {
		t.Fatal("short token verified")
	}
	if ks.Verify(digest, bytes.Repeat([]byte{1}, 65)) {
		t.Fatal("long token verified")
	}
}

func TestKeySignerRoundTrip(t *testing.T) {
	key := guardianKey(t, "g1")
	compressed := signer.CompressPublicKey(&key.PublicKey)
	ks, err := NewKeySigner(compressed)
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}

	if ks.PublicKeyHex() != hex.EncodeToString(compressed) {
		t.Fatal("PublicKeyHex round trip mismatch")
	}

	digest := bytes.Repeat([]byte{0x11}, 32)
	token, err := Sign(nil, key, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("token length = %d, want 64", len(token))
	}
	if !ks.Verify(digest, token) {
		t.Fatal("valid token did not verify")
	}
}
