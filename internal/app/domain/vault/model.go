// Package vault defines the recovery vault domain model: a custodial
// balance account with an owner, a recovery key, a timelock, and at most
// one recovery request in flight.
package vault

import "time"

// AuthMode selects how emergency withdrawals are authorized. The mode is
// fixed at deployment; a vault never honors both.
type AuthMode string

const (
	// AuthModeCaller requires the submitting caller to be the recovery key.
	AuthModeCaller AuthMode = "caller"

	// AuthModeSignature accepts a detached signature from the recovery key,
	// so any relayer may submit on its behalf.
	AuthModeSignature AuthMode = "signature"
)

// RecoveryState is the derived lifecycle state of a vault's recovery flow.
type RecoveryState string

const (
	// StateNoRequest means no recovery is in flight.
	StateNoRequest RecoveryState = "no_request"

	// StatePending means a request exists but its timelock has not elapsed.
	StatePending RecoveryState = "pending"

	// StateExecutable means the request's timelock has elapsed.
	StateExecutable RecoveryState = "executable"
)

// SignerKind distinguishes how a recovery identity proves itself.
type SignerKind string

const (
	// SignerKindKey is a plain public-key identity (ECDSA P-256).
	SignerKindKey SignerKind = "key"

	// SignerKindAttestor is a programmatic identity: a registered callback
	// approves or rejects the exact message instead of an ECDSA check.
	SignerKindAttestor SignerKind = "attestor"
)

// RecoveryRequest is a pending ownership transfer. ExecuteAfter is fixed at
// initiation from the timelock in force at that moment and is never
// recomputed, even if the timelock changes afterwards.
type RecoveryRequest struct {
	NewOwner     string
	ExecuteAfter time.Time
	InitiatedAt  time.Time
	InitiatedBy  string
	Active       bool
}

// Vault is a custodial balance account. Balance and Counter only ever move
// inside the owning service's per-vault critical section.
type Vault struct {
	ID      string
	Address string

	Owner       string
	RecoveryKey string
	// RecoveryPublicKey is the compressed P-256 key (hex) backing
	// RecoveryKey when SignerKind is "key"; empty for attestor identities.
	RecoveryPublicKey string
	SignerKind        SignerKind
	AuthMode          AuthMode

	Timelock time.Duration
	Balance  int64
	// Counter is the replay counter consumed by signature-authorized
	// emergency withdrawals. It advances by exactly one per success.
	Counter uint64

	Request *RecoveryRequest

	Implementation string
	Salt           string
	Deployer       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// State derives the recovery state at the given instant. The boundary is
// inclusive: at exactly ExecuteAfter the request is executable.
func (v Vault) State(now time.Time) RecoveryState {
	if v.Request == nil || !v.Request.Active {
		return StateNoRequest
	}
	if now.Before(v.Request.ExecuteAfter) {
		return StatePending
	}
	return StateExecutable
}

// HasActiveRequest reports whether a recovery request is in flight.
func (v Vault) HasActiveRequest() bool {
	return v.Request != nil && v.Request.Active
}

// Clone returns a deep copy so services can mutate a working copy and
// commit it in one store write.
func (v Vault) Clone() Vault {
	cp := v
	if v.Request != nil {
		req := *v.Request
		cp.Request = &req
	}
	return cp
}
