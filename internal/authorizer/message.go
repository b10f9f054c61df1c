// Package authorizer verifies emergency withdrawal authorizations. A token
// is valid only for one exact (vault, recipient, amount, counter) tuple;
// the counter makes every token single-use.
package authorizer

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"

	"github.com/R3E-Network/neoguard/internal/errors"
)

// WithdrawTypeHash is the domain separator for emergency withdrawal
// messages. Signatures over any other message shape never collide with it.
var WithdrawTypeHash = sha256.Sum256([]byte(
	"EmergencyWithdraw(address vault,address to,integer amount,integer counter)"))

// WithdrawalMessage is the tuple a recovery identity signs to authorize an
// emergency withdrawal.
type WithdrawalMessage struct {
	Vault   string
	To      string
	Amount  int64
	Counter uint64
}

// Digest computes the 32-byte signing digest:
//
//	0x19 0x01 || typeHash || vaultHash(20) || toHash(20) || amount(8 BE) || counter(8 BE)
//
// hashed with SHA-256. The 0x19 0x01 prefix keeps the preimage out of any
// other signable namespace.
func (m WithdrawalMessage) Digest() ([]byte, error) {
	vaultHash, err := address.StringToUint160(m.Vault)
	if err != nil {
		return nil, errors.InvalidIdentity("vault")
	}
	toHash, err := address.StringToUint160(m.To)
	if err != nil {
		return nil, errors.InvalidIdentity("to")
	}
	if m.Amount < 0 {
		return nil, errors.InvalidAmount()
	}

	buf := make([]byte, 0, 2+len(WithdrawTypeHash)+20+20+8+8)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, WithdrawTypeHash[:]...)
	buf = append(buf, vaultHash.BytesBE()...)
	buf = append(buf, toHash.BytesBE()...)

	var word [8]byte
	binary.BigEndian.PutUint64(word[:], uint64(m.Amount))
	buf = append(buf, word[:]...)
	binary.BigEndian.PutUint64(word[:], m.Counter)
	buf = append(buf, word[:]...)

	digest := sha256.Sum256(buf)
	return digest[:], nil
}
