// Package deploy computes deterministic vault addresses. The registry and
// the prediction endpoint both call Predict; deployment writes a vault at
// exactly the address a prior Predict call reported for the same inputs.
package deploy

import (
	"encoding/binary"

	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neoguard/internal/errors"
)

// preimage version tag. Bump only with a migration story: changing it moves
// every predicted address.
var preimageTag = []byte{'N', 'G', 'V', 0x01}

// Predict derives the address for a vault deployed from the given
// implementation template and salt. Pure: same inputs, same address.
func Predict(implementation util.Uint160, salt []byte) string {
	preimage := make([]byte, 0, len(preimageTag)+util.Uint160Size+len(salt))
	preimage = append(preimage, preimageTag...)
	preimage = append(preimage, implementation.BytesBE()...)
	preimage = append(preimage, salt...)

	return address.Uint160ToString(hash.Hash160(preimage))
}

// SaltForDeployer derives the single-vault salt: the deployer's script hash.
func SaltForDeployer(deployer string) ([]byte, error) {
	u, err := address.StringToUint160(deployer)
	if err != nil {
		return nil, errors.InvalidIdentity("deployer")
	}
	return u.BytesBE(), nil
}

// SaltForDeployerSeq derives the multi-vault salt: the deployer's script
// hash followed by the big-endian deployment sequence number. Sequence 0
// is a distinct salt from SaltForDeployer on purpose; the two schemes
// never collide because the lengths differ.
func SaltForDeployerSeq(deployer string, seq uint64) ([]byte, error) {
	base, err := SaltForDeployer(deployer)
	if err != nil {
		return nil, err
	}
	salt := make([]byte, len(base)+8)
	copy(salt, base)
	binary.BigEndian.PutUint64(salt[len(base):], seq)
	return salt, nil
}

// ParseImplementation decodes an implementation script hash from its
// little-endian hex form (with or without the 0x prefix).
func ParseImplementation(s string) (util.Uint160, error) {
	if len(s) > 1 && (s[0:2] == "0x" || s[0:2] == "0X") {
		s = s[2:]
	}
	u, err := util.Uint160DecodeStringLE(s)
	if err != nil {
		return util.Uint160{}, errors.InvalidInput("implementation must be a 20-byte script hash in hex")
	}
	return u, nil
}
