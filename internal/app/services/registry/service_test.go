package registry

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neoguard/internal/app/domain/vault"
	"github.com/R3E-Network/neoguard/internal/app/services/vaults"
	"github.com/R3E-Network/neoguard/internal/app/storage/memory"
	"github.com/R3E-Network/neoguard/internal/authorizer"
	"github.com/R3E-Network/neoguard/internal/errors"
	"github.com/R3E-Network/neoguard/internal/events"
	"github.com/R3E-Network/neoguard/internal/signer"
	"github.com/R3E-Network/neoguard/pkg/logger"
)

const week = 604800 * time.Second

var (
	addrDeployer = address.Uint160ToString(util.Uint160{0x21})
	addrSecond   = address.Uint160ToString(util.Uint160{0x22})
	addrOwner    = address.Uint160ToString(util.Uint160{0x23})
	addrNewOwner = address.Uint160ToString(util.Uint160{0x24})
	addrAdmin    = address.Uint160ToString(util.Uint160{0x25})
	addrOther    = address.Uint160ToString(util.Uint160{0x26})

	implA = util.Uint160{0xA1}.StringLE()
	implB = util.Uint160{0xB2}.StringLE()
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func guardianKey(t *testing.T) (pubHex, addr string) {
	t.Helper()
	key, err := signer.DerivePrivateKey([]byte("registry-test-seed"), "guardian")
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	compressed := signer.CompressPublicKey(&key.PublicKey)
	ks, err := authorizer.NewKeySigner(compressed)
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	return hex.EncodeToString(compressed), ks.Address()
}

func newRegistry(t *testing.T, store *memory.Store, nowFn func() time.Time) (*Service, *events.RingBuffer) {
	t.Helper()
	ring := events.NewRingBuffer(100)
	svc := New(Config{
		Records:        store,
		Vaults:         store,
		Settings:       store,
		Events:         ring,
		Log:            logger.NewNop(),
		Now:            nowFn,
		Admin:          addrAdmin,
		Implementation: implA,
	})
	if err := svc.EnsureImplementation(context.Background()); err != nil {
		t.Fatalf("seed implementation: %v", err)
	}
	return svc, ring
}

func TestDeployMatchesPrediction(t *testing.T) {
	store := memory.New()
	svc, ring := newRegistry(t, store, func() time.Time { return t0 })
	pubHex, guardian := guardianKey(t)

	predicted, err := svc.PredictForDeployer(context.Background(), addrDeployer, nil)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	rec, v, err := svc.Deploy(context.Background(), DeployParams{
		Deployer:          addrDeployer,
		Owner:             addrOwner,
		RecoveryPublicKey: pubHex,
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if rec.Address != predicted || v.Address != predicted {
		t.Fatalf("deployed at %s / %s, predicted %s", rec.Address, v.Address, predicted)
	}
	if rec.Owner != addrOwner || v.Owner != addrOwner {
		t.Fatalf("owner = %s / %s, want %s", rec.Owner, v.Owner, addrOwner)
	}
	if rec.RecoveryKey != guardian || v.RecoveryKey != guardian {
		t.Fatalf("recovery key = %s / %s, want derived %s", rec.RecoveryKey, v.RecoveryKey, guardian)
	}
	if v.Timelock != week {
		t.Fatalf("timelock = %v, want default week", v.Timelock)
	}
	if v.AuthMode != vault.AuthModeCaller {
		t.Fatalf("auth mode = %q, want default caller", v.AuthMode)
	}
	if v.HasActiveRequest() {
		t.Fatal("fresh vault should have no recovery request")
	}
	if rec.Implementation != implA || v.Implementation != implA {
		t.Fatalf("implementation = %s / %s, want %s", rec.Implementation, v.Implementation, implA)
	}

	// The explicit-salt prediction agrees with the deployer-derived one.
	salt, err := hex.DecodeString(rec.Salt)
	if err != nil {
		t.Fatalf("decode salt: %v", err)
	}
	bySalt, err := svc.Predict(context.Background(), implA, salt)
	if err != nil {
		t.Fatalf("predict by salt: %v", err)
	}
	if bySalt != predicted {
		t.Fatalf("predict by salt = %s, want %s", bySalt, predicted)
	}

	// One vault per salt: the same deployer cannot deploy twice under the
	// single-vault scheme.
	_, _, err = svc.Deploy(context.Background(), DeployParams{
		Deployer:          addrDeployer,
		RecoveryPublicKey: pubHex,
	})
	if !errors.IsCode(err, errors.CodeStateConflict) {
		t.Fatalf("redeploy: err = %v, want StateConflict", err)
	}
	se := errors.GetServiceError(err)
	if se.Details["address"] != predicted {
		t.Fatalf("conflict details = %v, want address %s", se.Details, predicted)
	}

	if got := ring.RecentByType(events.EventVaultDeployed, 10); len(got) != 1 {
		t.Fatalf("deploy events = %d, want 1", len(got))
	}
}

func TestDeployMultiVault(t *testing.T) {
	store := memory.New()
	svc, _ := newRegistry(t, store, func() time.Time { return t0 })
	pubHex, _ := guardianKey(t)

	first, _, err := svc.Deploy(context.Background(), DeployParams{
		Deployer:          addrDeployer,
		RecoveryPublicKey: pubHex,
		MultiVault:        true,
	})
	if err != nil {
		t.Fatalf("deploy #0: %v", err)
	}
	second, _, err := svc.Deploy(context.Background(), DeployParams{
		Deployer:          addrDeployer,
		RecoveryPublicKey: pubHex,
		MultiVault:        true,
	})
	if err != nil {
		t.Fatalf("deploy #1: %v", err)
	}

	if first.Sequence != 0 || second.Sequence != 1 {
		t.Fatalf("sequences = %d, %d, want 0, 1", first.Sequence, second.Sequence)
	}
	if first.Address == second.Address {
		t.Fatalf("both deployments landed on %s", first.Address)
	}
	// Owner defaults to the deployer.
	if first.Owner != addrDeployer {
		t.Fatalf("owner = %s, want deployer %s", first.Owner, addrDeployer)
	}

	// Predictions for explicit sequences match what was deployed, and
	// predicting consumes nothing.
	for i, want := range []string{first.Address, second.Address} {
		seq := uint64(i)
		got, err := svc.PredictForDeployer(context.Background(), addrDeployer, &seq)
		if err != nil {
			t.Fatalf("predict seq %d: %v", seq, err)
		}
		if got != want {
			t.Fatalf("predict seq %d = %s, want %s", seq, got, want)
		}
	}

	// The single-vault scheme is a different salt space: the same deployer
	// still has its sequence-free address available.
	single, err := svc.PredictForDeployer(context.Background(), addrDeployer, nil)
	if err != nil {
		t.Fatalf("predict single: %v", err)
	}
	if single == first.Address || single == second.Address {
		t.Fatalf("single-vault address %s collides with a sequenced one", single)
	}

	third, _, err := svc.Deploy(context.Background(), DeployParams{
		Deployer:          addrDeployer,
		RecoveryPublicKey: pubHex,
	})
	if err != nil {
		t.Fatalf("deploy single: %v", err)
	}
	if third.Address != single {
		t.Fatalf("single deploy = %s, predicted %s", third.Address, single)
	}
}

func TestDeployValidation(t *testing.T) {
	store := memory.New()
	svc, _ := newRegistry(t, store, func() time.Time { return t0 })
	pubHex, guardian := guardianKey(t)

	if _, _, err := svc.Deploy(context.Background(), DeployParams{Deployer: "junk", RecoveryPublicKey: pubHex}); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("bad deployer: err = %v, want InvalidInput", err)
	}
	if _, _, err := svc.Deploy(context.Background(), DeployParams{Deployer: addrDeployer, Owner: "junk", RecoveryPublicKey: pubHex}); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("bad owner: err = %v, want InvalidInput", err)
	}
	if _, _, err := svc.Deploy(context.Background(), DeployParams{Deployer: addrDeployer}); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("missing recovery key: err = %v, want InvalidInput", err)
	}
	if _, _, err := svc.Deploy(context.Background(), DeployParams{Deployer: addrDeployer, RecoveryPublicKey: pubHex, Timelock: -time.Hour}); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("negative timelock: err = %v, want InvalidInput", err)
	}
	if _, _, err := svc.Deploy(context.Background(), DeployParams{Deployer: addrDeployer, RecoveryPublicKey: pubHex, AuthMode: "webauthn"}); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("bad auth mode: err = %v, want InvalidInput", err)
	}

	// An attestor guardian is addressed directly and carries no public key.
	rec, v, err := svc.Deploy(context.Background(), DeployParams{
		Deployer:        addrDeployer,
		RecoveryKind:    vault.SignerKindAttestor,
		RecoveryAddress: guardian,
	})
	if err != nil {
		t.Fatalf("attestor deploy: %v", err)
	}
	if rec.RecoveryKey != guardian || v.RecoveryPublicKey != "" {
		t.Fatalf("attestor identity = %s / %q", rec.RecoveryKey, v.RecoveryPublicKey)
	}
}

func TestDeployBootstrap(t *testing.T) {
	store := memory.New()
	svc, ring := newRegistry(t, store, func() time.Time { return t0 })
	pubHex, _ := guardianKey(t)

	_, v, err := svc.Deploy(context.Background(), DeployParams{
		Deployer:          addrDeployer,
		Owner:             addrOwner,
		RecoveryPublicKey: pubHex,
		Timelock:          48 * time.Hour,
		Bootstrap:         true,
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	if !v.HasActiveRequest() {
		t.Fatal("bootstrap deployment should start with a live recovery request")
	}
	if v.Request.NewOwner != addrOwner {
		t.Fatalf("request targets %s, want the initial owner %s", v.Request.NewOwner, addrOwner)
	}
	if !v.Request.ExecuteAfter.Equal(t0.Add(48 * time.Hour)) {
		t.Fatalf("execute after = %v, want deployment time + timelock", v.Request.ExecuteAfter)
	}
	if v.Request.InitiatedBy != addrDeployer {
		t.Fatalf("initiated by = %s, want deployer", v.Request.InitiatedBy)
	}

	if got := ring.RecentByType(events.EventRecoveryInitiated, 10); len(got) != 1 {
		t.Fatalf("initiation events = %d, want 1", len(got))
	}
}

func TestSyncOwner(t *testing.T) {
	store := memory.New()
	svc, ring := newRegistry(t, store, func() time.Time { return t0 })
	pubHex, _ := guardianKey(t)

	rec, _, err := svc.Deploy(context.Background(), DeployParams{
		Deployer:          addrDeployer,
		Owner:             addrOwner,
		RecoveryPublicKey: pubHex,
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	// Flip the vault's owner behind the registry's back.
	v, err := store.GetVault(context.Background(), rec.Address)
	if err != nil {
		t.Fatalf("load vault: %v", err)
	}
	v.Owner = addrNewOwner
	if _, err := store.UpdateVault(context.Background(), v); err != nil {
		t.Fatalf("update vault: %v", err)
	}

	// The index is stale until someone syncs it.
	stale, err := svc.Record(context.Background(), rec.Address)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if stale.Owner != addrOwner {
		t.Fatalf("stale owner = %s, want %s", stale.Owner, addrOwner)
	}

	synced, changed, err := svc.SyncOwner(context.Background(), rec.Address)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !changed || synced.Owner != addrNewOwner {
		t.Fatalf("sync: changed=%t owner=%s, want true/%s", changed, synced.Owner, addrNewOwner)
	}

	// Syncing an already-current record is a no-op and emits nothing.
	_, changed, err = svc.SyncOwner(context.Background(), rec.Address)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if changed {
		t.Fatal("second sync reported a change")
	}
	if got := ring.RecentByType(events.EventVaultOwnerChanged, 10); len(got) != 1 {
		t.Fatalf("owner-changed events = %d, want 1", len(got))
	}

	if _, _, err := svc.SyncOwner(context.Background(), addrOther); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("unknown vault: err = %v, want NotFound", err)
	}
}

func TestSweepOwners(t *testing.T) {
	store := memory.New()
	svc, _ := newRegistry(t, store, func() time.Time { return t0 })
	pubHex, _ := guardianKey(t)

	var addrs []string
	for i := 0; i < 3; i++ {
		rec, _, err := svc.Deploy(context.Background(), DeployParams{
			Deployer:          addrDeployer,
			RecoveryPublicKey: pubHex,
			MultiVault:        true,
		})
		if err != nil {
			t.Fatalf("deploy %d: %v", i, err)
		}
		addrs = append(addrs, rec.Address)
	}

	v, err := store.GetVault(context.Background(), addrs[1])
	if err != nil {
		t.Fatalf("load vault: %v", err)
	}
	v.Owner = addrNewOwner
	if _, err := store.UpdateVault(context.Background(), v); err != nil {
		t.Fatalf("update vault: %v", err)
	}

	changed, err := svc.SweepOwners(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if changed != 1 {
		t.Fatalf("sweep repaired %d records, want 1", changed)
	}

	changed, err = svc.SweepOwners(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if changed != 0 {
		t.Fatalf("second sweep repaired %d records, want 0", changed)
	}
}

func TestSetImplementation(t *testing.T) {
	store := memory.New()
	svc, ring := newRegistry(t, store, func() time.Time { return t0 })
	pubHex, _ := guardianKey(t)

	// Deployed under the original template.
	before, beforeVault, err := svc.Deploy(context.Background(), DeployParams{
		Deployer:          addrDeployer,
		RecoveryPublicKey: pubHex,
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	if err := svc.SetImplementation(context.Background(), addrOther, implB); !errors.IsCode(err, errors.CodeUnauthorized) {
		t.Fatalf("non-admin: err = %v, want Unauthorized", err)
	}
	if err := svc.SetImplementation(context.Background(), addrAdmin, "junk"); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("bad template: err = %v, want InvalidInput", err)
	}

	if err := svc.SetImplementation(context.Background(), addrAdmin, "0x"+implB); err != nil {
		t.Fatalf("set implementation: %v", err)
	}
	got, err := svc.Implementation(context.Background())
	if err != nil {
		t.Fatalf("implementation: %v", err)
	}
	if got != implB {
		t.Fatalf("implementation = %s, want normalized %s", got, implB)
	}

	// Setting the same value again changes nothing and emits nothing.
	if err := svc.SetImplementation(context.Background(), addrAdmin, implB); err != nil {
		t.Fatalf("idempotent set: %v", err)
	}
	if got := ring.RecentByType(events.EventImplementationChanged, 10); len(got) != 1 {
		t.Fatalf("implementation events = %d, want 1", len(got))
	}

	// Only future deployments pick up the new template. The old vault keeps
	// its record, and a fresh deployer lands on a template-B address.
	kept, err := svc.Record(context.Background(), before.Address)
	if err != nil {
		t.Fatalf("old record: %v", err)
	}
	if kept.Implementation != implA || beforeVault.Implementation != implA {
		t.Fatalf("existing deployment re-templated: %s / %s", kept.Implementation, beforeVault.Implementation)
	}

	underA, err := svc.Predict(context.Background(), implA, []byte{0x01})
	if err != nil {
		t.Fatalf("predict under A: %v", err)
	}
	underCurrent, err := svc.Predict(context.Background(), "", []byte{0x01})
	if err != nil {
		t.Fatalf("predict under current: %v", err)
	}
	if underA == underCurrent {
		t.Fatal("template change did not move predicted addresses")
	}

	after, _, err := svc.Deploy(context.Background(), DeployParams{
		Deployer:          addrSecond,
		RecoveryPublicKey: pubHex,
	})
	if err != nil {
		t.Fatalf("deploy after change: %v", err)
	}
	if after.Implementation != implB {
		t.Fatalf("new deployment implementation = %s, want %s", after.Implementation, implB)
	}
}

// The full recovery round trip: a guardian initiates, the timelock runs
// out, anyone executes, and the registry reflects the new owner without a
// manual sync.
func TestExecuteRecoveryUpdatesIndex(t *testing.T) {
	store := memory.New()
	now := t0
	nowFn := func() time.Time { return now }

	reg, _ := newRegistry(t, store, nowFn)
	vaultSvc := vaults.New(vaults.Config{
		Store:    store,
		Events:   events.NewRingBuffer(100),
		Notifier: reg,
		Log:      logger.NewNop(),
		Now:      nowFn,
	})

	pubHex, guardian := guardianKey(t)
	rec, _, err := reg.Deploy(context.Background(), DeployParams{
		Deployer:          addrDeployer,
		Owner:             addrOwner,
		RecoveryPublicKey: pubHex,
		Timelock:          week,
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	if _, err := vaultSvc.Initiate(context.Background(), rec.Address, guardian, addrNewOwner); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	now = t0.Add(week - time.Second)
	if _, err := vaultSvc.Execute(context.Background(), rec.Address, addrOther); !errors.IsCode(err, errors.CodeTimelockNotElapsed) {
		t.Fatalf("early execute: err = %v, want TimelockNotElapsed", err)
	}

	now = t0.Add(week + time.Second)
	v, err := vaultSvc.Execute(context.Background(), rec.Address, addrOther)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if v.Owner != addrNewOwner {
		t.Fatalf("vault owner = %s, want %s", v.Owner, addrNewOwner)
	}

	// No sync call here: the execute path already notified the registry.
	after, err := reg.Record(context.Background(), rec.Address)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if after.Owner != addrNewOwner {
		t.Fatalf("index owner = %s, want %s", after.Owner, addrNewOwner)
	}

	mine, err := reg.RecordsByOwner(context.Background(), addrNewOwner)
	if err != nil {
		t.Fatalf("by owner: %v", err)
	}
	if len(mine) != 1 || mine[0].Address != rec.Address {
		t.Fatalf("owner index = %+v, want the recovered vault", mine)
	}
	old, err := reg.RecordsByOwner(context.Background(), addrOwner)
	if err != nil {
		t.Fatalf("by old owner: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("old owner still indexed: %+v", old)
	}
}
