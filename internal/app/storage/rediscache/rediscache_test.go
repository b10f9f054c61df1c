package rediscache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/R3E-Network/neoguard/internal/app/domain/registry"
	"github.com/R3E-Network/neoguard/internal/app/domain/vault"
	"github.com/R3E-Network/neoguard/internal/app/storage"
	"github.com/R3E-Network/neoguard/internal/app/storage/memory"
)

func testClient(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("dial redis: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	store := New(memory.New(), client, time.Minute)
	return store
}

func seedRecord(t *testing.T, store *Store, address string) registry.Record {
	t.Helper()
	rec, _, err := store.CreateDeployment(context.Background(), registry.Record{
		Address:        address,
		Owner:          "NOwner",
		RecoveryKey:    "NGuardian",
		Implementation: "aa00000000000000000000000000000000000000",
		Salt:           "0badc0de",
		Deployer:       "NDeployer",
	}, vault.Vault{
		Address:     address,
		Owner:       "NOwner",
		RecoveryKey: "NGuardian",
		SignerKind:  vault.SignerKindKey,
		AuthMode:    vault.AuthModeCaller,
		Timelock:    7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("create deployment: %v", err)
	}
	return rec
}

func TestCacheServesRepeatReads(t *testing.T) {
	store := testClient(t)
	ctx := context.Background()

	rec := seedRecord(t, store, "NCacheRepeat")
	store.invalidate(ctx, rec.Address)

	first, err := store.GetRecord(ctx, rec.Address)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if first.Owner != "NOwner" {
		t.Fatalf("owner = %q, want NOwner", first.Owner)
	}

	// A cached read survives the backing store going away.
	store.inner = memory.New()
	second, err := store.GetRecord(ctx, rec.Address)
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if second.Owner != first.Owner || second.Address != first.Address {
		t.Errorf("cached record = %+v, want %+v", second, first)
	}
}

func TestUpdateInvalidatesCache(t *testing.T) {
	store := testClient(t)
	ctx := context.Background()

	rec := seedRecord(t, store, "NCacheInvalidate")
	if _, err := store.GetRecord(ctx, rec.Address); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	rec.Owner = "NNewOwner"
	if _, err := store.UpdateRecord(ctx, rec); err != nil {
		t.Fatalf("update record: %v", err)
	}

	got, err := store.GetRecord(ctx, rec.Address)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Owner != "NNewOwner" {
		t.Errorf("owner after update = %q, want NNewOwner", got.Owner)
	}
}

func TestCacheMissFallsThrough(t *testing.T) {
	store := testClient(t)
	ctx := context.Background()

	if _, err := store.GetRecord(ctx, "NNeverDeployed"); !storage.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
