// Package vaults implements the per-vault recovery state machine: role
// changes, the single pending-request slot, the three recovery transitions,
// and the balance paths including signature-authorized emergency withdrawal.
package vaults

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"

	"github.com/R3E-Network/neoguard/internal/app/domain/vault"
	"github.com/R3E-Network/neoguard/internal/app/storage"
	"github.com/R3E-Network/neoguard/internal/authorizer"
	"github.com/R3E-Network/neoguard/internal/errors"
	"github.com/R3E-Network/neoguard/internal/events"
	"github.com/R3E-Network/neoguard/pkg/logger"
)

// lockStripes bounds lock memory while keeping contention on distinct
// vaults negligible.
const lockStripes = 64

// RecoveryNotifier is told after an executed recovery so derived indexes
// can follow the ownership change. The vault service treats notification
// as best effort: a failing notifier never aborts the transfer.
type RecoveryNotifier interface {
	NotifyRecovered(ctx context.Context, vaultAddress, newOwner string) error
}

// Config wires the vault service. Store is required; everything else has
// a working default.
type Config struct {
	Store      storage.VaultStore
	Authorizer *authorizer.Authorizer
	Events     events.EventLogger
	Notifier   RecoveryNotifier
	Log        *logger.Logger
	Now        func() time.Time
}

// Service owns all state transitions on vaults. Every mutating operation
// runs under the vault's stripe lock: load, validate, mutate a working
// copy, commit with one store write.
type Service struct {
	store    storage.VaultStore
	auth     *authorizer.Authorizer
	events   events.EventLogger
	notifier RecoveryNotifier
	log      *logger.Logger
	now      func() time.Time

	locks [lockStripes]sync.Mutex
}

// New constructs a vault service.
func New(cfg Config) *Service {
	if cfg.Authorizer == nil {
		cfg.Authorizer = authorizer.New()
	}
	if cfg.Events == nil {
		cfg.Events = events.NoOpLogger{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewDefault("vaults")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:    cfg.Store,
		auth:     cfg.Authorizer,
		events:   cfg.Events,
		notifier: cfg.Notifier,
		log:      cfg.Log,
		now:      cfg.Now,
	}
}

// SetNotifier installs the post-recovery hook. Wiring calls it once at
// startup to break the construction cycle with the registry service.
func (s *Service) SetNotifier(n RecoveryNotifier) { s.notifier = n }

func (s *Service) lockFor(addr string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(addr))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *Service) load(ctx context.Context, addr string) (vault.Vault, error) {
	v, err := s.store.GetVault(ctx, addr)
	if err != nil {
		if storage.IsNotFound(err) {
			return vault.Vault{}, errors.AccountNotFound(addr)
		}
		return vault.Vault{}, errors.Internal("load vault", err)
	}
	return v, nil
}

func (s *Service) commit(ctx context.Context, v vault.Vault) (vault.Vault, error) {
	updated, err := s.store.UpdateVault(ctx, v)
	if err != nil {
		return vault.Vault{}, errors.Internal("persist vault", err)
	}
	return updated, nil
}

func validAddress(s string) bool {
	_, err := address.StringToUint160(s)
	return err == nil
}

// State derives the vault's recovery state at the service clock's now.
func (s *Service) State(v vault.Vault) vault.RecoveryState {
	return v.State(s.now().UTC())
}

// Get returns the vault at the given address.
func (s *Service) Get(ctx context.Context, addr string) (vault.Vault, error) {
	return s.load(ctx, strings.TrimSpace(addr))
}

// List returns every vault.
func (s *Service) List(ctx context.Context) ([]vault.Vault, error) {
	return s.store.ListVaults(ctx)
}

// Deposit credits the vault balance. Anyone may deposit.
func (s *Service) Deposit(ctx context.Context, addr, from string, amount int64) (vault.Vault, error) {
	addr = strings.TrimSpace(addr)
	from = strings.TrimSpace(from)
	if from == "" {
		return vault.Vault{}, errors.InvalidIdentity("from")
	}
	if amount <= 0 {
		return vault.Vault{}, errors.InvalidAmount()
	}

	lock := s.lockFor(addr)
	lock.Lock()
	defer lock.Unlock()

	v, err := s.load(ctx, addr)
	if err != nil {
		return vault.Vault{}, err
	}

	v.Balance += amount
	v.UpdatedAt = s.now().UTC()
	updated, err := s.commit(ctx, v)
	if err != nil {
		return vault.Vault{}, err
	}

	events.NewEvent(events.EventDeposit).
		Vault(addr).
		Actor(from).
		Component("vaults").
		Message("funds received").
		Metadata("amount", strconv.FormatInt(amount, 10)).
		LogToWithContext(ctx, s.events)
	s.log.WithField("vault", addr).WithField("amount", amount).Info("deposit")
	return updated, nil
}

// Withdraw debits the vault balance. Owner only.
func (s *Service) Withdraw(ctx context.Context, addr, caller, to string, amount int64) (vault.Vault, error) {
	addr = strings.TrimSpace(addr)
	caller = strings.TrimSpace(caller)
	to = strings.TrimSpace(to)
	if caller == "" {
		return vault.Vault{}, errors.InvalidIdentity("caller")
	}
	if !validAddress(to) {
		return vault.Vault{}, errors.InvalidIdentity("to")
	}
	if amount <= 0 {
		return vault.Vault{}, errors.InvalidAmount()
	}

	lock := s.lockFor(addr)
	lock.Lock()
	defer lock.Unlock()

	v, err := s.load(ctx, addr)
	if err != nil {
		return vault.Vault{}, err
	}
	if caller != v.Owner {
		return vault.Vault{}, errors.Unauthorized("only the owner may withdraw")
	}
	if amount > v.Balance {
		return vault.Vault{}, errors.InsufficientFunds(amount, v.Balance)
	}

	v.Balance -= amount
	v.UpdatedAt = s.now().UTC()
	updated, err := s.commit(ctx, v)
	if err != nil {
		return vault.Vault{}, err
	}

	events.NewEvent(events.EventWithdrawal).
		Vault(addr).
		Actor(caller).
		Component("vaults").
		Message("funds withdrawn").
		Metadata("to", to).
		Metadata("amount", strconv.FormatInt(amount, 10)).
		LogToWithContext(ctx, s.events)
	s.log.WithField("vault", addr).WithField("amount", amount).Info("withdrawal")
	return updated, nil
}

// RecoveryKeyUpdate identifies the replacement recovery signer. PublicKey
// (compressed P-256, hex) is required for key identities and the address is
// derived from it; Address is required for attestor identities.
type RecoveryKeyUpdate struct {
	Kind      vault.SignerKind
	Address   string
	PublicKey string
}

// SetRecoveryKey rotates the recovery identity. Owner only. An in-flight
// recovery request is left untouched.
func (s *Service) SetRecoveryKey(ctx context.Context, addr, caller string, update RecoveryKeyUpdate) (vault.Vault, error) {
	addr = strings.TrimSpace(addr)
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return vault.Vault{}, errors.InvalidIdentity("caller")
	}

	newKey, newPublicKey, kind, err := authorizer.ResolveRecoveryIdentity(update.Kind, update.Address, update.PublicKey)
	if err != nil {
		return vault.Vault{}, err
	}

	lock := s.lockFor(addr)
	lock.Lock()
	defer lock.Unlock()

	v, err := s.load(ctx, addr)
	if err != nil {
		return vault.Vault{}, err
	}
	if caller != v.Owner {
		return vault.Vault{}, errors.Unauthorized("only the owner may rotate the recovery key")
	}

	previous := v.RecoveryKey
	v.RecoveryKey = newKey
	v.RecoveryPublicKey = newPublicKey
	v.SignerKind = kind
	v.UpdatedAt = s.now().UTC()
	updated, err := s.commit(ctx, v)
	if err != nil {
		return vault.Vault{}, err
	}

	events.NewEvent(events.EventRecoveryKeySet).
		Vault(addr).
		Actor(caller).
		Component("vaults").
		Message("recovery key rotated").
		Metadata("previous", previous).
		Metadata("new", newKey).
		LogToWithContext(ctx, s.events)
	s.log.WithField("vault", addr).WithField("recovery_key", newKey).Info("recovery key set")
	return updated, nil
}

// SetTimelock changes the recovery delay for future initiations. Owner
// only. ExecuteAfter of an already-pending request is never recomputed.
func (s *Service) SetTimelock(ctx context.Context, addr, caller string, timelock time.Duration) (vault.Vault, error) {
	addr = strings.TrimSpace(addr)
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return vault.Vault{}, errors.InvalidIdentity("caller")
	}
	if timelock <= 0 {
		return vault.Vault{}, errors.InvalidTimelock()
	}

	lock := s.lockFor(addr)
	lock.Lock()
	defer lock.Unlock()

	v, err := s.load(ctx, addr)
	if err != nil {
		return vault.Vault{}, err
	}
	if caller != v.Owner {
		return vault.Vault{}, errors.Unauthorized("only the owner may change the timelock")
	}

	previous := v.Timelock
	v.Timelock = timelock
	v.UpdatedAt = s.now().UTC()
	updated, err := s.commit(ctx, v)
	if err != nil {
		return vault.Vault{}, err
	}

	events.NewEvent(events.EventTimelockUpdated).
		Vault(addr).
		Actor(caller).
		Component("vaults").
		Message("timelock updated").
		Metadata("previous_seconds", strconv.FormatInt(int64(previous/time.Second), 10)).
		Metadata("new_seconds", strconv.FormatInt(int64(timelock/time.Second), 10)).
		LogToWithContext(ctx, s.events)
	s.log.WithField("vault", addr).WithField("timelock", timelock.String()).Info("timelock updated")
	return updated, nil
}

// Initiate opens a recovery request transferring ownership to newOwner
// once the timelock elapses. Recovery key only. At most one request may be
// in flight; the conflict error carries the live request's deadline and
// target so the guardian can decide whether to cancel first.
func (s *Service) Initiate(ctx context.Context, addr, caller, newOwner string) (vault.Vault, error) {
	addr = strings.TrimSpace(addr)
	caller = strings.TrimSpace(caller)
	newOwner = strings.TrimSpace(newOwner)
	if caller == "" {
		return vault.Vault{}, errors.InvalidIdentity("caller")
	}
	if !validAddress(newOwner) {
		return vault.Vault{}, errors.InvalidIdentity("new_owner")
	}

	lock := s.lockFor(addr)
	lock.Lock()
	defer lock.Unlock()

	v, err := s.load(ctx, addr)
	if err != nil {
		return vault.Vault{}, err
	}
	if caller != v.RecoveryKey {
		return vault.Vault{}, errors.Unauthorized("only the recovery key may initiate recovery")
	}
	if v.HasActiveRequest() {
		return vault.Vault{}, errors.RecoveryAlreadyActive(v.Request.ExecuteAfter, v.Request.NewOwner)
	}

	now := s.now().UTC()
	v.Request = &vault.RecoveryRequest{
		NewOwner:     newOwner,
		ExecuteAfter: now.Add(v.Timelock),
		InitiatedAt:  now,
		InitiatedBy:  caller,
		Active:       true,
	}
	v.UpdatedAt = now
	updated, err := s.commit(ctx, v)
	if err != nil {
		return vault.Vault{}, err
	}

	events.NewEvent(events.EventRecoveryInitiated).
		Vault(addr).
		Actor(caller).
		Component("vaults").
		Message("recovery initiated").
		Metadata("new_owner", newOwner).
		Metadata("execute_after", updated.Request.ExecuteAfter.Format(time.RFC3339)).
		LogToWithContext(ctx, s.events)
	s.log.WithField("vault", addr).
		WithField("new_owner", newOwner).
		WithField("execute_after", updated.Request.ExecuteAfter.Format(time.RFC3339)).
		Info("recovery initiated")
	return updated, nil
}

// Cancel withdraws the pending recovery request. Owner or recovery key.
func (s *Service) Cancel(ctx context.Context, addr, caller string) (vault.Vault, error) {
	addr = strings.TrimSpace(addr)
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return vault.Vault{}, errors.InvalidIdentity("caller")
	}

	lock := s.lockFor(addr)
	lock.Lock()
	defer lock.Unlock()

	v, err := s.load(ctx, addr)
	if err != nil {
		return vault.Vault{}, err
	}
	if caller != v.Owner && caller != v.RecoveryKey {
		return vault.Vault{}, errors.Unauthorized("only the owner or the recovery key may cancel recovery")
	}
	if !v.HasActiveRequest() {
		return vault.Vault{}, errors.NoActiveRecovery()
	}

	v.Request = nil
	v.UpdatedAt = s.now().UTC()
	updated, err := s.commit(ctx, v)
	if err != nil {
		return vault.Vault{}, err
	}

	events.NewEvent(events.EventRecoveryCanceled).
		Vault(addr).
		Actor(caller).
		Component("vaults").
		Message("recovery canceled").
		LogToWithContext(ctx, s.events)
	s.log.WithField("vault", addr).WithField("caller", caller).Info("recovery canceled")
	return updated, nil
}

// Execute completes an executable recovery: the request is cleared and
// ownership transfers to the request's new owner. Callable by anyone once
// the timelock has elapsed.
func (s *Service) Execute(ctx context.Context, addr, caller string) (vault.Vault, error) {
	addr = strings.TrimSpace(addr)
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return vault.Vault{}, errors.InvalidIdentity("caller")
	}

	lock := s.lockFor(addr)
	lock.Lock()
	defer lock.Unlock()

	v, err := s.load(ctx, addr)
	if err != nil {
		return vault.Vault{}, err
	}

	now := s.now().UTC()
	switch v.State(now) {
	case vault.StateNoRequest:
		return vault.Vault{}, errors.NoActiveRecovery()
	case vault.StatePending:
		return vault.Vault{}, errors.RecoveryStillLocked(now, v.Request.ExecuteAfter)
	}

	previous := v.Owner
	newOwner := v.Request.NewOwner
	v.Owner = newOwner
	v.Request = nil
	v.UpdatedAt = now
	updated, err := s.commit(ctx, v)
	if err != nil {
		return vault.Vault{}, err
	}

	events.NewEvent(events.EventRecoveryExecuted).
		Vault(addr).
		Actor(caller).
		Component("vaults").
		Message("recovery executed").
		Metadata("previous_owner", previous).
		Metadata("new_owner", newOwner).
		LogToWithContext(ctx, s.events)
	s.log.WithField("vault", addr).
		WithField("previous_owner", previous).
		WithField("new_owner", newOwner).
		Info("recovery executed")

	// Best effort: the ownership transfer must never be blockable by the
	// registry, so a failed notification is logged and dropped. The manual
	// sync path repairs the index later.
	if s.notifier != nil {
		if nerr := s.notifier.NotifyRecovered(ctx, addr, newOwner); nerr != nil {
			s.log.WithError(nerr).WithField("vault", addr).Warn("registry notification failed; index stale until next sync")
		}
	}
	return updated, nil
}

// EmergencyWithdrawParams carries the drain request. Counter and Token are
// only read for signature-mode vaults.
type EmergencyWithdrawParams struct {
	Caller  string
	To      string
	Amount  int64
	Counter uint64
	Token   []byte
}

// EmergencyWithdraw drains funds once a recovery request is executable,
// without completing the ownership transfer. The pending request is cleared
// and the replay counter advances, both only when the whole withdrawal
// commits. Authorization follows the vault's fixed mode: the caller must be
// the recovery key, or the token must be the recovery key's signature over
// the exact (vault, to, amount, counter) message.
func (s *Service) EmergencyWithdraw(ctx context.Context, addr string, p EmergencyWithdrawParams) (vault.Vault, error) {
	addr = strings.TrimSpace(addr)
	caller := strings.TrimSpace(p.Caller)
	to := strings.TrimSpace(p.To)
	if caller == "" {
		return vault.Vault{}, errors.InvalidIdentity("caller")
	}
	if !validAddress(to) {
		return vault.Vault{}, errors.InvalidIdentity("to")
	}

	lock := s.lockFor(addr)
	lock.Lock()
	defer lock.Unlock()

	v, err := s.load(ctx, addr)
	if err != nil {
		return vault.Vault{}, err
	}

	now := s.now().UTC()
	switch v.State(now) {
	case vault.StateNoRequest:
		return vault.Vault{}, errors.NoActiveRecovery()
	case vault.StatePending:
		return vault.Vault{}, errors.RecoveryStillLocked(now, v.Request.ExecuteAfter)
	}

	if p.Amount <= 0 {
		return vault.Vault{}, errors.InvalidAmount()
	}
	if p.Amount > v.Balance {
		return vault.Vault{}, errors.InsufficientFunds(p.Amount, v.Balance)
	}

	switch v.AuthMode {
	case vault.AuthModeCaller:
		if len(p.Token) != 0 {
			return vault.Vault{}, errors.InvalidInput("this vault authorizes emergency withdrawals by caller, not by signature")
		}
		if caller != v.RecoveryKey {
			return vault.Vault{}, errors.Unauthorized("only the recovery key may perform an emergency withdrawal")
		}
		v.Counter++
	case vault.AuthModeSignature:
		if len(p.Token) == 0 {
			return vault.Vault{}, errors.SignatureInvalid("authorization token is required")
		}
		msg := authorizer.WithdrawalMessage{
			Vault:   v.Address,
			To:      to,
			Amount:  p.Amount,
			Counter: p.Counter,
		}
		// Advances v.Counter on the working copy; the commit below makes
		// consumption and withdrawal a single all-or-nothing write.
		if err := s.auth.VerifyAndConsume(&v, msg, p.Token); err != nil {
			return vault.Vault{}, err
		}
	default:
		return vault.Vault{}, errors.Internal("vault has no emergency authorization mode", nil)
	}

	v.Balance -= p.Amount
	v.Request = nil
	v.UpdatedAt = now
	updated, err := s.commit(ctx, v)
	if err != nil {
		return vault.Vault{}, err
	}

	events.NewEvent(events.EventEmergencyWithdrawal).
		Vault(addr).
		Actor(caller).
		Component("vaults").
		Severity(events.SeverityWarning).
		Message("emergency withdrawal").
		Metadata("to", to).
		Metadata("amount", strconv.FormatInt(p.Amount, 10)).
		Metadata("counter", strconv.FormatUint(updated.Counter, 10)).
		Metadata("mode", string(updated.AuthMode)).
		LogToWithContext(ctx, s.events)
	s.log.WithField("vault", addr).
		WithField("to", to).
		WithField("amount", p.Amount).
		Warn("emergency withdrawal")
	return updated, nil
}
