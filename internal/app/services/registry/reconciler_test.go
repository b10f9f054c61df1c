package registry

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/neoguard/internal/app/storage/memory"
	"github.com/R3E-Network/neoguard/pkg/logger"
)

func TestReconcilerRepairsStaleIndexOnStart(t *testing.T) {
	store := memory.New()
	svc, _ := newRegistry(t, store, func() time.Time { return t0 })
	pubHex, _ := guardianKey(t)

	rec, _, err := svc.Deploy(context.Background(), DeployParams{
		Deployer:          addrDeployer,
		Owner:             addrOwner,
		RecoveryPublicKey: pubHex,
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	v, err := store.GetVault(context.Background(), rec.Address)
	if err != nil {
		t.Fatalf("load vault: %v", err)
	}
	v.Owner = addrNewOwner
	if _, err := store.UpdateVault(context.Background(), v); err != nil {
		t.Fatalf("update vault: %v", err)
	}

	r := NewReconciler(svc, "@every 1h", logger.NewNop())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := r.Stop(context.Background()); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}()

	// The startup sweep runs asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := svc.Record(context.Background(), rec.Address)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if got.Owner == addrNewOwner {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("index still stale after startup sweep: owner = %s", got.Owner)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReconcilerLifecycle(t *testing.T) {
	store := memory.New()
	svc, _ := newRegistry(t, store, func() time.Time { return t0 })

	r := NewReconciler(svc, "", logger.NewNop())
	if r.Name() != "registry-reconciler" {
		t.Fatalf("name = %q", r.Name())
	}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Starting twice is a no-op, not an error.
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestReconcilerRejectsBadSchedule(t *testing.T) {
	store := memory.New()
	svc, _ := newRegistry(t, store, func() time.Time { return t0 })

	r := NewReconciler(svc, "not-a-schedule", logger.NewNop())
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("start accepted a malformed schedule")
	}
}
