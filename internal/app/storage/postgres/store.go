// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/R3E-Network/neoguard/internal/app/domain/registry"
	"github.com/R3E-Network/neoguard/internal/app/domain/vault"
	"github.com/R3E-Network/neoguard/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.VaultStore = (*Store)(nil)
var _ storage.RegistryStore = (*Store)(nil)
var _ storage.SettingsStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// mapError translates driver errors into the shared storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w", storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w", storage.ErrConflict)
	}
	return err
}

// --- VaultStore -------------------------------------------------------------

const vaultColumns = `id, address, owner, recovery_key, recovery_public_key, signer_kind,
		auth_mode, timelock_seconds, balance, counter,
		request_new_owner, request_execute_after, request_initiated_at, request_initiated_by, request_active,
		implementation, salt, deployer, created_at, updated_at`

func (s *Store) CreateVault(ctx context.Context, v vault.Vault) (vault.Vault, error) {
	if v.Address == "" {
		return vault.Vault{}, errors.New("vault address is required")
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	req := requestColumns(v.Request)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guard_vaults (`+vaultColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, v.ID, v.Address, v.Owner, v.RecoveryKey, v.RecoveryPublicKey, string(v.SignerKind),
		string(v.AuthMode), int64(v.Timelock.Seconds()), v.Balance, int64(v.Counter),
		req.newOwner, req.executeAfter, req.initiatedAt, req.initiatedBy, req.active,
		v.Implementation, v.Salt, v.Deployer, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return vault.Vault{}, mapError(err)
	}
	return v, nil
}

func (s *Store) UpdateVault(ctx context.Context, v vault.Vault) (vault.Vault, error) {
	existing, err := s.GetVault(ctx, v.Address)
	if err != nil {
		return vault.Vault{}, err
	}

	v.ID = existing.ID
	v.CreatedAt = existing.CreatedAt
	v.UpdatedAt = time.Now().UTC()

	req := requestColumns(v.Request)

	result, err := s.db.ExecContext(ctx, `
		UPDATE guard_vaults
		SET owner = $2, recovery_key = $3, recovery_public_key = $4, signer_kind = $5,
		    auth_mode = $6, timelock_seconds = $7, balance = $8, counter = $9,
		    request_new_owner = $10, request_execute_after = $11, request_initiated_at = $12,
		    request_initiated_by = $13, request_active = $14, updated_at = $15
		WHERE address = $1
	`, v.Address, v.Owner, v.RecoveryKey, v.RecoveryPublicKey, string(v.SignerKind),
		string(v.AuthMode), int64(v.Timelock.Seconds()), v.Balance, int64(v.Counter),
		req.newOwner, req.executeAfter, req.initiatedAt, req.initiatedBy, req.active,
		v.UpdatedAt)
	if err != nil {
		return vault.Vault{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return vault.Vault{}, fmt.Errorf("vault %s: %w", v.Address, storage.ErrNotFound)
	}
	return v, nil
}

func (s *Store) GetVault(ctx context.Context, address string) (vault.Vault, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+vaultColumns+`
		FROM guard_vaults
		WHERE address = $1
	`, address)

	v, err := scanVault(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vault.Vault{}, fmt.Errorf("vault %s: %w", address, storage.ErrNotFound)
		}
		return vault.Vault{}, err
	}
	return v, nil
}

func (s *Store) ListVaults(ctx context.Context) ([]vault.Vault, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+vaultColumns+`
		FROM guard_vaults
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []vault.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

// vaultRequestCols is the nullable column bundle for the embedded recovery
// request. An inactive request round-trips as NULLs.
type vaultRequestCols struct {
	newOwner     sql.NullString
	executeAfter sql.NullTime
	initiatedAt  sql.NullTime
	initiatedBy  sql.NullString
	active       bool
}

func requestColumns(req *vault.RecoveryRequest) vaultRequestCols {
	var cols vaultRequestCols
	if req == nil || !req.Active {
		return cols
	}
	cols.newOwner = sql.NullString{String: req.NewOwner, Valid: true}
	cols.executeAfter = sql.NullTime{Time: req.ExecuteAfter.UTC(), Valid: true}
	cols.initiatedAt = sql.NullTime{Time: req.InitiatedAt.UTC(), Valid: true}
	cols.initiatedBy = sql.NullString{String: req.InitiatedBy, Valid: true}
	cols.active = true
	return cols
}

func scanVault(row scanner) (vault.Vault, error) {
	var (
		v               vault.Vault
		signerKind      string
		authMode        string
		timelockSeconds int64
		counter         int64
		req             vaultRequestCols
	)

	err := row.Scan(&v.ID, &v.Address, &v.Owner, &v.RecoveryKey, &v.RecoveryPublicKey, &signerKind,
		&authMode, &timelockSeconds, &v.Balance, &counter,
		&req.newOwner, &req.executeAfter, &req.initiatedAt, &req.initiatedBy, &req.active,
		&v.Implementation, &v.Salt, &v.Deployer, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return vault.Vault{}, err
	}

	v.SignerKind = vault.SignerKind(signerKind)
	v.AuthMode = vault.AuthMode(authMode)
	v.Timelock = time.Duration(timelockSeconds) * time.Second
	v.Counter = uint64(counter)

	if req.active {
		v.Request = &vault.RecoveryRequest{
			NewOwner:     req.newOwner.String,
			ExecuteAfter: req.executeAfter.Time.UTC(),
			InitiatedAt:  req.initiatedAt.Time.UTC(),
			InitiatedBy:  req.initiatedBy.String,
			Active:       true,
		}
	}
	return v, nil
}

// --- RegistryStore ----------------------------------------------------------

const recordColumns = `id, address, owner, recovery_key, implementation, salt, deployer, sequence, created_at, updated_at`

func (s *Store) CreateRecord(ctx context.Context, rec registry.Record) (registry.Record, error) {
	if rec.Address == "" {
		return registry.Record{}, errors.New("record address is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guard_registry_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.Address, rec.Owner, rec.RecoveryKey, rec.Implementation, rec.Salt,
		rec.Deployer, int64(rec.Sequence), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return registry.Record{}, mapError(err)
	}
	return rec, nil
}

func (s *Store) UpdateRecord(ctx context.Context, rec registry.Record) (registry.Record, error) {
	existing, err := s.GetRecord(ctx, rec.Address)
	if err != nil {
		return registry.Record{}, err
	}

	rec.ID = existing.ID
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE guard_registry_records
		SET owner = $2, recovery_key = $3, implementation = $4, updated_at = $5
		WHERE address = $1
	`, rec.Address, rec.Owner, rec.RecoveryKey, rec.Implementation, rec.UpdatedAt)
	if err != nil {
		return registry.Record{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return registry.Record{}, fmt.Errorf("record %s: %w", rec.Address, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) GetRecord(ctx context.Context, address string) (registry.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM guard_registry_records
		WHERE address = $1
	`, address)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Record{}, fmt.Errorf("record %s: %w", address, storage.ErrNotFound)
		}
		return registry.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListRecords(ctx context.Context) ([]registry.Record, error) {
	return s.listRecords(ctx, `
		SELECT `+recordColumns+`
		FROM guard_registry_records
		ORDER BY created_at
	`)
}

func (s *Store) ListRecordsByOwner(ctx context.Context, owner string) ([]registry.Record, error) {
	return s.listRecords(ctx, `
		SELECT `+recordColumns+`
		FROM guard_registry_records
		WHERE owner = $1
		ORDER BY created_at
	`, owner)
}

func (s *Store) ListRecordsByRecoveryKey(ctx context.Context, recoveryKey string) ([]registry.Record, error) {
	return s.listRecords(ctx, `
		SELECT `+recordColumns+`
		FROM guard_registry_records
		WHERE recovery_key = $1
		ORDER BY created_at
	`, recoveryKey)
}

func (s *Store) listRecords(ctx context.Context, query string, args ...any) ([]registry.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []registry.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanRecord(row scanner) (registry.Record, error) {
	var (
		rec registry.Record
		seq int64
	)
	err := row.Scan(&rec.ID, &rec.Address, &rec.Owner, &rec.RecoveryKey, &rec.Implementation,
		&rec.Salt, &rec.Deployer, &seq, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return registry.Record{}, err
	}
	rec.Sequence = uint64(seq)
	return rec, nil
}

// CreateDeployment inserts the vault and its registry record in one
// transaction so a half-deployed pair can never be observed.
func (s *Store) CreateDeployment(ctx context.Context, rec registry.Record, v vault.Vault) (registry.Record, vault.Vault, error) {
	if rec.Address == "" || v.Address == "" {
		return registry.Record{}, vault.Vault{}, errors.New("deployment address is required")
	}
	if rec.Address != v.Address {
		return registry.Record{}, vault.Vault{}, errors.New("record and vault addresses differ")
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return registry.Record{}, vault.Vault{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req := requestColumns(v.Request)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO guard_vaults (`+vaultColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, v.ID, v.Address, v.Owner, v.RecoveryKey, v.RecoveryPublicKey, string(v.SignerKind),
		string(v.AuthMode), int64(v.Timelock.Seconds()), v.Balance, int64(v.Counter),
		req.newOwner, req.executeAfter, req.initiatedAt, req.initiatedBy, req.active,
		v.Implementation, v.Salt, v.Deployer, v.CreatedAt, v.UpdatedAt); err != nil {
		return registry.Record{}, vault.Vault{}, mapError(err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO guard_registry_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.Address, rec.Owner, rec.RecoveryKey, rec.Implementation, rec.Salt,
		rec.Deployer, int64(rec.Sequence), rec.CreatedAt, rec.UpdatedAt); err != nil {
		return registry.Record{}, vault.Vault{}, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return registry.Record{}, vault.Vault{}, mapError(err)
	}
	return rec, v, nil
}

func (s *Store) NextSequence(ctx context.Context, deployer string) (uint64, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO guard_registry_sequences (deployer, next_seq)
		VALUES ($1, 1)
		ON CONFLICT (deployer) DO UPDATE SET next_seq = guard_registry_sequences.next_seq + 1
		RETURNING next_seq - 1
	`, deployer)

	var seq int64
	if err := row.Scan(&seq); err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

// --- SettingsStore ----------------------------------------------------------

const implementationKey = "implementation"

func (s *Store) GetImplementation(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value FROM guard_settings WHERE key = $1
	`, implementationKey)

	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("implementation: %w", storage.ErrNotFound)
		}
		return "", err
	}
	return value, nil
}

func (s *Store) SetImplementation(ctx context.Context, implementation string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guard_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, implementationKey, implementation, time.Now().UTC())
	return err
}
