// Package registry deploys vaults at addresses computable in advance and
// maintains the derived ownership indexes over them. The indexes are not
// authoritative: the vault itself is, and the registry tolerates staleness
// until the next sync.
package registry

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neoguard/internal/app/domain/registry"
	"github.com/R3E-Network/neoguard/internal/app/domain/vault"
	"github.com/R3E-Network/neoguard/internal/app/storage"
	"github.com/R3E-Network/neoguard/internal/authorizer"
	"github.com/R3E-Network/neoguard/internal/deploy"
	"github.com/R3E-Network/neoguard/internal/errors"
	"github.com/R3E-Network/neoguard/internal/events"
	"github.com/R3E-Network/neoguard/pkg/logger"
)

// defaultTimelock applies when a deployment does not specify one.
const defaultTimelock = 604800 * time.Second

// Config wires the registry service.
type Config struct {
	Records  storage.RegistryStore
	Vaults   storage.VaultStore
	Settings storage.SettingsStore
	Events   events.EventLogger
	Log      *logger.Logger
	Now      func() time.Time

	// Admin is the only identity allowed to change the implementation
	// template. Empty disables the operation entirely.
	Admin string

	// Implementation seeds the template on first start when the settings
	// store holds none.
	Implementation string

	// DefaultTimelock overrides the built-in one-week default.
	DefaultTimelock time.Duration
}

// Service is the ownership registry.
type Service struct {
	records  storage.RegistryStore
	vaults   storage.VaultStore
	settings storage.SettingsStore
	events   events.EventLogger
	log      *logger.Logger
	now      func() time.Time

	admin           string
	seedImpl        string
	defaultTimelock time.Duration

	// mu serializes deployments and index writes so two conflicting
	// submissions resolve first-committed-wins.
	mu sync.Mutex
}

// New constructs a registry service.
func New(cfg Config) *Service {
	if cfg.Events == nil {
		cfg.Events = events.NoOpLogger{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewDefault("registry")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DefaultTimelock <= 0 {
		cfg.DefaultTimelock = defaultTimelock
	}
	return &Service{
		records:         cfg.Records,
		vaults:          cfg.Vaults,
		settings:        cfg.Settings,
		events:          cfg.Events,
		log:             cfg.Log,
		now:             cfg.Now,
		admin:           strings.TrimSpace(cfg.Admin),
		seedImpl:        strings.TrimSpace(cfg.Implementation),
		defaultTimelock: cfg.DefaultTimelock,
	}
}

func validAddress(s string) bool {
	_, err := address.StringToUint160(s)
	return err == nil
}

// EnsureImplementation seeds the implementation template from the
// configuration when the settings store holds none. Wiring calls it once
// at startup so a malformed template fails fast instead of at first deploy.
func (s *Service) EnsureImplementation(ctx context.Context) error {
	if _, err := s.settings.GetImplementation(ctx); err == nil {
		return nil
	} else if !storage.IsNotFound(err) {
		return errors.Internal("load implementation template", err)
	}
	if s.seedImpl == "" {
		return nil
	}

	u, err := deploy.ParseImplementation(s.seedImpl)
	if err != nil {
		return err
	}
	if err := s.settings.SetImplementation(ctx, u.StringLE()); err != nil {
		return errors.Internal("seed implementation template", err)
	}
	s.log.WithField("implementation", u.StringLE()).Info("implementation template seeded")
	return nil
}

// Implementation returns the current template for new deployments.
func (s *Service) Implementation(ctx context.Context) (string, error) {
	impl, err := s.settings.GetImplementation(ctx)
	if err != nil {
		if storage.IsNotFound(err) {
			return "", errors.NotFound("implementation template")
		}
		return "", errors.Internal("load implementation template", err)
	}
	return impl, nil
}

func (s *Service) implementationTemplate(ctx context.Context) (string, util.Uint160, error) {
	impl, err := s.settings.GetImplementation(ctx)
	if err != nil {
		if storage.IsNotFound(err) {
			return "", util.Uint160{}, errors.Internal("no implementation template configured", nil)
		}
		return "", util.Uint160{}, errors.Internal("load implementation template", err)
	}
	u, err := deploy.ParseImplementation(impl)
	if err != nil {
		return "", util.Uint160{}, errors.Internal("implementation template is malformed", err)
	}
	return impl, u, nil
}

// DeployParams describes a vault deployment. Owner defaults to the
// deployer. The recovery identity follows the same spec as a key rotation:
// public key for key signers, address for attestors.
type DeployParams struct {
	Deployer          string
	Owner             string
	RecoveryKind      vault.SignerKind
	RecoveryAddress   string
	RecoveryPublicKey string
	Timelock          time.Duration
	AuthMode          vault.AuthMode

	// MultiVault salts the address with a per-deployer sequence so one
	// identity can deploy any number of vaults. Without it the deployer's
	// own identity is the salt: one vault per deployer.
	MultiVault bool

	// Bootstrap creates the vault with a live recovery request targeting
	// its own initial owner, so the timelock starts counting immediately.
	Bootstrap bool
}

// Deploy creates a vault at the deterministic address derived from the
// current implementation template and the deployer's salt, and records it
// in the ownership indexes. The vault and its record appear atomically;
// a salt that already produced an address fails the whole deployment.
func (s *Service) Deploy(ctx context.Context, p DeployParams) (registry.Record, vault.Vault, error) {
	deployer := strings.TrimSpace(p.Deployer)
	if !validAddress(deployer) {
		return registry.Record{}, vault.Vault{}, errors.InvalidIdentity("deployer")
	}
	owner := strings.TrimSpace(p.Owner)
	if owner == "" {
		owner = deployer
	}
	if !validAddress(owner) {
		return registry.Record{}, vault.Vault{}, errors.InvalidIdentity("owner")
	}

	recoveryKey, recoveryPub, kind, err := authorizer.ResolveRecoveryIdentity(p.RecoveryKind, p.RecoveryAddress, p.RecoveryPublicKey)
	if err != nil {
		return registry.Record{}, vault.Vault{}, err
	}

	timelock := p.Timelock
	if timelock == 0 {
		timelock = s.defaultTimelock
	}
	if timelock < 0 {
		return registry.Record{}, vault.Vault{}, errors.InvalidTimelock()
	}

	authMode := p.AuthMode
	if authMode == "" {
		authMode = vault.AuthModeCaller
	}
	if authMode != vault.AuthModeCaller && authMode != vault.AuthModeSignature {
		return registry.Record{}, vault.Vault{}, errors.InvalidInput("auth mode must be caller or signature")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	implHex, implU, err := s.implementationTemplate(ctx)
	if err != nil {
		return registry.Record{}, vault.Vault{}, err
	}

	var (
		salt []byte
		seq  uint64
	)
	if p.MultiVault {
		seq, err = s.records.NextSequence(ctx, deployer)
		if err != nil {
			return registry.Record{}, vault.Vault{}, errors.Internal("advance deployment sequence", err)
		}
		salt, err = deploy.SaltForDeployerSeq(deployer, seq)
	} else {
		salt, err = deploy.SaltForDeployer(deployer)
	}
	if err != nil {
		return registry.Record{}, vault.Vault{}, err
	}

	addr := deploy.Predict(implU, salt)
	now := s.now().UTC()

	v := vault.Vault{
		Address:           addr,
		Owner:             owner,
		RecoveryKey:       recoveryKey,
		RecoveryPublicKey: recoveryPub,
		SignerKind:        kind,
		AuthMode:          authMode,
		Timelock:          timelock,
		Implementation:    implHex,
		Salt:              hex.EncodeToString(salt),
		Deployer:          deployer,
	}
	if p.Bootstrap {
		v.Request = &vault.RecoveryRequest{
			NewOwner:     owner,
			ExecuteAfter: now.Add(timelock),
			InitiatedAt:  now,
			InitiatedBy:  deployer,
			Active:       true,
		}
	}

	rec := registry.Record{
		Address:        addr,
		Owner:          owner,
		RecoveryKey:    recoveryKey,
		Implementation: implHex,
		Salt:           hex.EncodeToString(salt),
		Deployer:       deployer,
		Sequence:       seq,
	}

	createdRec, createdVault, err := s.records.CreateDeployment(ctx, rec, v)
	if err != nil {
		if storage.IsConflict(err) {
			return registry.Record{}, vault.Vault{}, errors.SaltAlreadyUsed(addr)
		}
		return registry.Record{}, vault.Vault{}, errors.Internal("persist deployment", err)
	}

	events.NewEvent(events.EventVaultDeployed).
		Vault(addr).
		Actor(deployer).
		Component("registry").
		Message("vault deployed").
		Metadata("owner", owner).
		Metadata("implementation", implHex).
		Metadata("salt", createdRec.Salt).
		LogToWithContext(ctx, s.events)
	if createdVault.HasActiveRequest() {
		events.NewEvent(events.EventRecoveryInitiated).
			Vault(addr).
			Actor(deployer).
			Component("registry").
			Message("recovery initiated at deployment").
			Metadata("new_owner", owner).
			Metadata("execute_after", createdVault.Request.ExecuteAfter.Format(time.RFC3339)).
			LogToWithContext(ctx, s.events)
	}
	s.log.WithField("vault", addr).
		WithField("owner", owner).
		WithField("deployer", deployer).
		Info("vault deployed")
	return createdRec, createdVault, nil
}

// Predict computes the address a deployment with the given salt would
// produce under the implementation template (the current one when the
// argument is empty). Deploy calls the identical derivation, so the two
// can never disagree.
func (s *Service) Predict(ctx context.Context, implementation string, salt []byte) (string, error) {
	if len(salt) == 0 {
		return "", errors.InvalidInput("salt is required")
	}

	var u util.Uint160
	if strings.TrimSpace(implementation) == "" {
		_, cur, err := s.implementationTemplate(ctx)
		if err != nil {
			return "", err
		}
		u = cur
	} else {
		var err error
		u, err = deploy.ParseImplementation(implementation)
		if err != nil {
			return "", err
		}
	}
	return deploy.Predict(u, salt), nil
}

// PredictForDeployer computes the address a deployer's vault lands on:
// the single-vault address when sequence is nil, otherwise the address for
// that deployment sequence. Nothing is consumed; clients use this to
// pre-fund vaults that do not exist yet.
func (s *Service) PredictForDeployer(ctx context.Context, deployer string, sequence *uint64) (string, error) {
	var (
		salt []byte
		err  error
	)
	if sequence != nil {
		salt, err = deploy.SaltForDeployerSeq(strings.TrimSpace(deployer), *sequence)
	} else {
		salt, err = deploy.SaltForDeployer(strings.TrimSpace(deployer))
	}
	if err != nil {
		return "", err
	}
	return s.Predict(ctx, "", salt)
}

// SyncOwner reconciles one record against its vault's current owner. The
// vault is authoritative. Returns the record and whether anything changed;
// an unchanged record performs no write and emits no event.
func (s *Service) SyncOwner(ctx context.Context, addr string) (registry.Record, bool, error) {
	addr = strings.TrimSpace(addr)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.records.GetRecord(ctx, addr)
	if err != nil {
		if storage.IsNotFound(err) {
			return registry.Record{}, false, errors.AccountNotFound(addr)
		}
		return registry.Record{}, false, errors.Internal("load registry record", err)
	}

	v, err := s.vaults.GetVault(ctx, addr)
	if err != nil {
		// Records are created atomically with their vault, so this is
		// corruption, not a lookup miss.
		return registry.Record{}, false, errors.Internal("registry record has no backing vault", err)
	}

	if v.Owner == rec.Owner {
		return rec, false, nil
	}

	previous := rec.Owner
	rec.Owner = v.Owner
	updated, err := s.records.UpdateRecord(ctx, rec)
	if err != nil {
		return registry.Record{}, false, errors.Internal("persist registry record", err)
	}

	events.NewEvent(events.EventVaultOwnerChanged).
		Vault(addr).
		Component("registry").
		Message("owner index updated").
		Metadata("previous_owner", previous).
		Metadata("new_owner", updated.Owner).
		LogToWithContext(ctx, s.events)
	s.log.WithField("vault", addr).
		WithField("previous_owner", previous).
		WithField("new_owner", updated.Owner).
		Info("owner index synced")
	return updated, true, nil
}

// NotifyRecovered is the vault service's post-recovery hook. It runs the
// ordinary sync path; the new owner is read from the vault itself.
func (s *Service) NotifyRecovered(ctx context.Context, vaultAddr, newOwner string) error {
	_, changed, err := s.SyncOwner(ctx, vaultAddr)
	if err != nil {
		return err
	}
	if !changed {
		s.log.WithField("vault", vaultAddr).
			WithField("new_owner", newOwner).
			Debug("recovery notification was a no-op")
	}
	return nil
}

// SweepOwners syncs every record and reports how many changed. The cron
// reconciler and the manual resync endpoint both run through here.
func (s *Service) SweepOwners(ctx context.Context) (int, error) {
	records, err := s.records.ListRecords(ctx)
	if err != nil {
		return 0, errors.Internal("list registry records", err)
	}

	changed := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		_, didChange, err := s.SyncOwner(ctx, rec.Address)
		if err != nil {
			s.log.WithError(err).WithField("vault", rec.Address).Warn("sync failed during sweep")
			continue
		}
		if didChange {
			changed++
		}
	}
	return changed, nil
}

// SetImplementation swaps the template used for future deployments.
// Already-deployed vaults are untouched. Admin only.
func (s *Service) SetImplementation(ctx context.Context, caller, implementation string) error {
	caller = strings.TrimSpace(caller)
	if s.admin == "" || caller != s.admin {
		return errors.Unauthorized("only the registry admin may change the implementation template")
	}
	u, err := deploy.ParseImplementation(implementation)
	if err != nil {
		return err
	}
	norm := u.StringLE()

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.settings.GetImplementation(ctx)
	if err != nil && !storage.IsNotFound(err) {
		return errors.Internal("load implementation template", err)
	}
	if previous == norm {
		return nil
	}
	if err := s.settings.SetImplementation(ctx, norm); err != nil {
		return errors.Internal("persist implementation template", err)
	}

	events.NewEvent(events.EventImplementationChanged).
		Actor(caller).
		Component("registry").
		Message("implementation template changed").
		Metadata("previous", previous).
		Metadata("new", norm).
		LogToWithContext(ctx, s.events)
	s.log.WithField("implementation", norm).Info("implementation template changed")
	return nil
}

// Record returns the registry record for a deployed vault.
func (s *Service) Record(ctx context.Context, addr string) (registry.Record, error) {
	rec, err := s.records.GetRecord(ctx, strings.TrimSpace(addr))
	if err != nil {
		if storage.IsNotFound(err) {
			return registry.Record{}, errors.AccountNotFound(addr)
		}
		return registry.Record{}, errors.Internal("load registry record", err)
	}
	return rec, nil
}

// Records returns every registry record.
func (s *Service) Records(ctx context.Context) ([]registry.Record, error) {
	return s.records.ListRecords(ctx)
}

// RecordsByOwner returns the owner index: every vault currently recorded
// for the given owner.
func (s *Service) RecordsByOwner(ctx context.Context, owner string) ([]registry.Record, error) {
	return s.records.ListRecordsByOwner(ctx, strings.TrimSpace(owner))
}

// RecordsByRecoveryKey returns the recovery-key index. The index reflects
// deployment-time keys; it is not refreshed by owner syncs.
func (s *Service) RecordsByRecoveryKey(ctx context.Context, recoveryKey string) ([]registry.Record, error) {
	return s.records.ListRecordsByRecoveryKey(ctx, strings.TrimSpace(recoveryKey))
}
