package authorizer

import (
	"sync"

	"github.com/R3E-Network/neoguard/internal/app/domain/vault"
	"github.com/R3E-Network/neoguard/internal/errors"
)

// Authorizer resolves vault recovery identities and validates withdrawal
// tokens. Attestor callbacks are registered at wiring time; key identities
// resolve straight from the vault record.
type Authorizer struct {
	mu        sync.RWMutex
	attestors map[string]AttestorFunc
}

// New creates an empty Authorizer.
func New() *Authorizer {
	return &Authorizer{attestors: make(map[string]AttestorFunc)}
}

// RegisterAttestor installs the validation callback for a contract-like
// recovery identity. Re-registering an address replaces the callback.
func (a *Authorizer) RegisterAttestor(address string, approve AttestorFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attestors[address] = approve
}

// SignerFor resolves the vault's recovery identity into a Signer.
func (a *Authorizer) SignerFor(v *vault.Vault) (Signer, error) {
	switch v.SignerKind {
	case vault.SignerKindKey:
		s, err := NewKeySignerFromHex(v.RecoveryPublicKey)
		if err != nil {
			return nil, errors.Internal("vault recovery key is unusable", err)
		}
		return s, nil
	case vault.SignerKindAttestor:
		a.mu.RLock()
		approve, ok := a.attestors[v.RecoveryKey]
		a.mu.RUnlock()
		if !ok {
			return nil, errors.SignatureInvalid("no attestor registered for recovery identity")
		}
		return NewAttestorSigner(v.RecoveryKey, approve), nil
	default:
		return nil, errors.Internal("unknown recovery signer kind", nil)
	}
}

// VerifyAndConsume validates the token against the vault's recovery
// identity and stored counter, then advances the counter on the working
// copy. The caller commits the copy in the same critical section as the
// withdrawal itself; on any failure nothing is consumed.
//
// Both checks are mandatory: the presented counter must equal the stored
// counter, and the token must verify over the digest computed from the
// presented counter. A token minted for an older counter value fails the
// first check even though its signature still verifies for its own digest.
func (a *Authorizer) VerifyAndConsume(v *vault.Vault, msg WithdrawalMessage, token []byte) error {
	if msg.Counter != v.Counter {
		return errors.SignatureInvalid("authorization counter mismatch")
	}

	digest, err := msg.Digest()
	if err != nil {
		return err
	}

	signer, err := a.SignerFor(v)
	if err != nil {
		return err
	}
	if !signer.Verify(digest, token) {
		return errors.SignatureInvalid("")
	}

	v.Counter++
	return nil
}
