// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/neoguard/internal/app/domain/registry"
	"github.com/R3E-Network/neoguard/internal/app/domain/vault"
	"github.com/R3E-Network/neoguard/internal/app/storage"
)

// Store is the in-memory persistence layer.
type Store struct {
	mu             sync.RWMutex
	vaults         map[string]vault.Vault
	records        map[string]registry.Record
	sequences      map[string]uint64
	implementation string
}

var _ storage.VaultStore = (*Store)(nil)
var _ storage.RegistryStore = (*Store)(nil)
var _ storage.SettingsStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		vaults:    make(map[string]vault.Vault),
		records:   make(map[string]registry.Record),
		sequences: make(map[string]uint64),
	}
}

// VaultStore implementation ---------------------------------------------------

func (s *Store) CreateVault(_ context.Context, v vault.Vault) (vault.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.Address == "" {
		return vault.Vault{}, fmt.Errorf("vault address is required")
	}
	if _, exists := s.vaults[v.Address]; exists {
		return vault.Vault{}, fmt.Errorf("vault %s: %w", v.Address, storage.ErrConflict)
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	s.vaults[v.Address] = v.Clone()
	return v.Clone(), nil
}

func (s *Store) UpdateVault(_ context.Context, v vault.Vault) (vault.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.vaults[v.Address]
	if !ok {
		return vault.Vault{}, fmt.Errorf("vault %s: %w", v.Address, storage.ErrNotFound)
	}

	v.ID = original.ID
	v.CreatedAt = original.CreatedAt
	v.UpdatedAt = time.Now().UTC()

	s.vaults[v.Address] = v.Clone()
	return v.Clone(), nil
}

func (s *Store) GetVault(_ context.Context, address string) (vault.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vaults[address]
	if !ok {
		return vault.Vault{}, fmt.Errorf("vault %s: %w", address, storage.ErrNotFound)
	}
	return v.Clone(), nil
}

func (s *Store) ListVaults(_ context.Context) ([]vault.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]vault.Vault, 0, len(s.vaults))
	for _, v := range s.vaults {
		result = append(result, v.Clone())
	}
	return result, nil
}

// RegistryStore implementation ------------------------------------------------

func (s *Store) CreateRecord(_ context.Context, rec registry.Record) (registry.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Address == "" {
		return registry.Record{}, fmt.Errorf("record address is required")
	}
	if _, exists := s.records[rec.Address]; exists {
		return registry.Record{}, fmt.Errorf("record %s: %w", rec.Address, storage.ErrConflict)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	s.records[rec.Address] = rec.Clone()
	return rec.Clone(), nil
}

func (s *Store) UpdateRecord(_ context.Context, rec registry.Record) (registry.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.records[rec.Address]
	if !ok {
		return registry.Record{}, fmt.Errorf("record %s: %w", rec.Address, storage.ErrNotFound)
	}

	rec.ID = original.ID
	rec.CreatedAt = original.CreatedAt
	rec.UpdatedAt = time.Now().UTC()

	s.records[rec.Address] = rec.Clone()
	return rec.Clone(), nil
}

func (s *Store) GetRecord(_ context.Context, address string) (registry.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[address]
	if !ok {
		return registry.Record{}, fmt.Errorf("record %s: %w", address, storage.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *Store) ListRecords(_ context.Context) ([]registry.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]registry.Record, 0, len(s.records))
	for _, rec := range s.records {
		result = append(result, rec.Clone())
	}
	return result, nil
}

func (s *Store) ListRecordsByOwner(_ context.Context, owner string) ([]registry.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]registry.Record, 0)
	for _, rec := range s.records {
		if rec.Owner == owner {
			result = append(result, rec.Clone())
		}
	}
	return result, nil
}

func (s *Store) ListRecordsByRecoveryKey(_ context.Context, recoveryKey string) ([]registry.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]registry.Record, 0)
	for _, rec := range s.records {
		if rec.RecoveryKey == recoveryKey {
			result = append(result, rec.Clone())
		}
	}
	return result, nil
}

func (s *Store) CreateDeployment(_ context.Context, rec registry.Record, v vault.Vault) (registry.Record, vault.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Address == "" || v.Address == "" {
		return registry.Record{}, vault.Vault{}, fmt.Errorf("deployment address is required")
	}
	if rec.Address != v.Address {
		return registry.Record{}, vault.Vault{}, fmt.Errorf("record and vault addresses differ")
	}
	if _, exists := s.vaults[v.Address]; exists {
		return registry.Record{}, vault.Vault{}, fmt.Errorf("vault %s: %w", v.Address, storage.ErrConflict)
	}
	if _, exists := s.records[rec.Address]; exists {
		return registry.Record{}, vault.Vault{}, fmt.Errorf("record %s: %w", rec.Address, storage.ErrConflict)
	}

	now := time.Now().UTC()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.CreatedAt = now
	v.UpdatedAt = now
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	s.vaults[v.Address] = v.Clone()
	s.records[rec.Address] = rec.Clone()
	return rec.Clone(), v.Clone(), nil
}

func (s *Store) NextSequence(_ context.Context, deployer string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.sequences[deployer]
	s.sequences[deployer] = seq + 1
	return seq, nil
}

// SettingsStore implementation ------------------------------------------------

func (s *Store) GetImplementation(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.implementation == "" {
		return "", fmt.Errorf("implementation: %w", storage.ErrNotFound)
	}
	return s.implementation, nil
}

func (s *Store) SetImplementation(_ context.Context, implementation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.implementation = implementation
	return nil
}
