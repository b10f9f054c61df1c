// Package storage defines the persistence interfaces for vaults and
// registry records, implemented by the memory and postgres subpackages.
package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/neoguard/internal/app/domain/registry"
	"github.com/R3E-Network/neoguard/internal/app/domain/vault"
)

// Sentinel errors shared by every implementation. Services translate them
// into their own typed failures.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// VaultStore persists vault records keyed by address. UpdateVault replaces
// the whole row in one write; callers prepare a full working copy first.
type VaultStore interface {
	CreateVault(ctx context.Context, v vault.Vault) (vault.Vault, error)
	UpdateVault(ctx context.Context, v vault.Vault) (vault.Vault, error)
	GetVault(ctx context.Context, address string) (vault.Vault, error)
	ListVaults(ctx context.Context) ([]vault.Vault, error)
}

// RegistryStore persists deployment records. The owner and recovery-key
// lookups are derived indexes over the same records; entries are never
// deleted.
type RegistryStore interface {
	CreateRecord(ctx context.Context, rec registry.Record) (registry.Record, error)
	UpdateRecord(ctx context.Context, rec registry.Record) (registry.Record, error)
	GetRecord(ctx context.Context, address string) (registry.Record, error)
	ListRecords(ctx context.Context) ([]registry.Record, error)
	ListRecordsByOwner(ctx context.Context, owner string) ([]registry.Record, error)
	ListRecordsByRecoveryKey(ctx context.Context, recoveryKey string) ([]registry.Record, error)

	// CreateDeployment persists a new vault together with its registry
	// record in one atomic write: afterwards either both exist or neither.
	CreateDeployment(ctx context.Context, rec registry.Record, v vault.Vault) (registry.Record, vault.Vault, error)

	// NextSequence returns the deployer's current deployment counter and
	// advances it. The first call for a deployer returns 0.
	NextSequence(ctx context.Context, deployer string) (uint64, error)
}

// SettingsStore persists registry-level configuration, currently just the
// implementation template for future deployments.
type SettingsStore interface {
	GetImplementation(ctx context.Context) (string, error)
	SetImplementation(ctx context.Context, implementation string) error
}
