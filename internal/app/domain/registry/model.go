// Package registry defines the ownership registry domain model: the
// deployment record kept for every vault the registry creates, plus the
// derived owner/recovery-key index entries.
package registry

import "time"

// Record is the registry's view of one deployed vault. Owner is a derived
// mirror of the vault's own owner field and may go stale after out-of-band
// transfers until the next sync.
type Record struct {
	ID      string
	Address string

	Owner       string
	RecoveryKey string

	Implementation string
	Salt           string
	Deployer       string
	// Sequence is the deployer's deployment counter at creation time; it
	// feeds the salt in the multi-vault derivation.
	Sequence uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy safe to hand across goroutines.
func (r Record) Clone() Record {
	return r
}
