// Package rediscache wraps a RegistryStore with a Redis read cache for
// record-by-address lookups, the hot path behind address prediction and
// wallet status checks. List queries and sequence allocation always go to
// the backing store; cache failures degrade to direct reads, so the
// backing store stays authoritative.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/neoguard/internal/app/domain/registry"
	"github.com/R3E-Network/neoguard/internal/app/domain/vault"
	"github.com/R3E-Network/neoguard/internal/app/storage"
)

const keyPrefix = "neoguard:record:"

// DefaultTTL bounds how long a cached record can outlive an out-of-band
// change before the reconciler or a sync refreshes it.
const DefaultTTL = 5 * time.Minute

// Store decorates a RegistryStore with Redis caching.
type Store struct {
	inner  storage.RegistryStore
	client *redis.Client
	ttl    time.Duration
}

var _ storage.RegistryStore = (*Store)(nil)

// New wraps inner with a Redis cache. A zero ttl uses DefaultTTL.
func New(inner storage.RegistryStore, client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{inner: inner, client: client, ttl: ttl}
}

// Dial connects to Redis and verifies the connection before returning.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (s *Store) GetRecord(ctx context.Context, address string) (registry.Record, error) {
	if rec, ok := s.cached(ctx, address); ok {
		return rec, nil
	}
	rec, err := s.inner.GetRecord(ctx, address)
	if err != nil {
		return registry.Record{}, err
	}
	s.fill(ctx, rec)
	return rec, nil
}

func (s *Store) CreateRecord(ctx context.Context, rec registry.Record) (registry.Record, error) {
	created, err := s.inner.CreateRecord(ctx, rec)
	if err != nil {
		return registry.Record{}, err
	}
	s.fill(ctx, created)
	return created, nil
}

func (s *Store) UpdateRecord(ctx context.Context, rec registry.Record) (registry.Record, error) {
	updated, err := s.inner.UpdateRecord(ctx, rec)
	if err != nil {
		return registry.Record{}, err
	}
	// Invalidate rather than overwrite: a concurrent reader may already
	// hold an older row, and a delete forces everyone back to the store.
	s.invalidate(ctx, updated.Address)
	return updated, nil
}

func (s *Store) CreateDeployment(ctx context.Context, rec registry.Record, v vault.Vault) (registry.Record, vault.Vault, error) {
	createdRec, createdVault, err := s.inner.CreateDeployment(ctx, rec, v)
	if err != nil {
		return registry.Record{}, vault.Vault{}, err
	}
	s.fill(ctx, createdRec)
	return createdRec, createdVault, nil
}

func (s *Store) ListRecords(ctx context.Context) ([]registry.Record, error) {
	return s.inner.ListRecords(ctx)
}

func (s *Store) ListRecordsByOwner(ctx context.Context, owner string) ([]registry.Record, error) {
	return s.inner.ListRecordsByOwner(ctx, owner)
}

func (s *Store) ListRecordsByRecoveryKey(ctx context.Context, recoveryKey string) ([]registry.Record, error) {
	return s.inner.ListRecordsByRecoveryKey(ctx, recoveryKey)
}

func (s *Store) NextSequence(ctx context.Context, deployer string) (uint64, error) {
	return s.inner.NextSequence(ctx, deployer)
}

func (s *Store) cached(ctx context.Context, address string) (registry.Record, bool) {
	payload, err := s.client.Get(ctx, keyPrefix+address).Bytes()
	if err != nil {
		return registry.Record{}, false
	}
	var rec registry.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		s.invalidate(ctx, address)
		return registry.Record{}, false
	}
	return rec, true
}

func (s *Store) fill(ctx context.Context, rec registry.Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	s.client.Set(ctx, keyPrefix+rec.Address, payload, s.ttl)
}

func (s *Store) invalidate(ctx context.Context, address string) {
	s.client.Del(ctx, keyPrefix+address)
}
