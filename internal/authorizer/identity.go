package authorizer

import (
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"

	"github.com/R3E-Network/neoguard/internal/app/domain/vault"
	"github.com/R3E-Network/neoguard/internal/errors"
)

// ResolveRecoveryIdentity normalizes a recovery signer spec into the
// identity fields stored on a vault. Key identities are specified by their
// compressed public key and the address is derived from it; attestor
// identities are specified by address alone. An empty kind means key.
func ResolveRecoveryIdentity(kind vault.SignerKind, addr, publicKey string) (string, string, vault.SignerKind, error) {
	if kind == "" {
		kind = vault.SignerKindKey
	}

	switch kind {
	case vault.SignerKindKey:
		publicKey = strings.TrimSpace(publicKey)
		if publicKey == "" {
			return "", "", "", errors.InvalidRecoveryKey()
		}
		ks, err := NewKeySignerFromHex(publicKey)
		if err != nil {
			return "", "", "", errors.InvalidRecoveryKey()
		}
		return ks.Address(), ks.PublicKeyHex(), kind, nil
	case vault.SignerKindAttestor:
		addr = strings.TrimSpace(addr)
		if _, err := address.StringToUint160(addr); err != nil {
			return "", "", "", errors.InvalidRecoveryKey()
		}
		return addr, "", kind, nil
	default:
		return "", "", "", errors.InvalidInput("signer kind must be key or attestor")
	}
}
