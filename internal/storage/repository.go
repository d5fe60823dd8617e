package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"vault-keeper/internal/penalty"
	"vault-keeper/internal/vault"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertVaultSQL = `INSERT INTO vaults (
        id,
        owner_id,
        asset,
        amount,
        unlock_time,
        target_price,
        condition_type,
        status,
        unlock_reason,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (id) DO UPDATE
    SET
        amount        = EXCLUDED.amount,
        status        = EXCLUDED.status,
        unlock_reason = EXCLUDED.unlock_reason;`

	listRecentVaultsSQL = `SELECT
        id,
        owner_id,
        asset,
        amount,
        unlock_time,
        target_price,
        condition_type,
        status,
        unlock_reason,
        created_at
    FROM vaults
    ORDER BY id DESC
    LIMIT $1;`

	upsertPenaltySQL = `INSERT INTO penalty_records (
        owner_id,
        amount,
        penalty_time,
        claimed
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (owner_id) DO UPDATE
    SET amount       = EXCLUDED.amount,
        penalty_time = EXCLUDED.penalty_time,
        claimed      = EXCLUDED.claimed;`

	listPenaltiesSQL = `SELECT
        owner_id,
        amount,
        penalty_time,
        claimed
    FROM penalty_records
    ORDER BY penalty_time DESC
    LIMIT $1;`

	insertPriceSnapshotSQL = `INSERT INTO price_snapshots (
        asset,
        value,
        feed_updated_at,
        valid,
        cycle_id,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	listPriceSnapshotsBetweenSQL = `SELECT
        id,
        asset,
        value,
        feed_updated_at,
        valid,
        cycle_id,
        observed_at
    FROM price_snapshots
    WHERE asset = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	insertUpkeepRunSQL = `INSERT INTO upkeep_runs (
        cycle_id,
        checked,
        unlocked,
        ran_at
    ) VALUES (
        $1,$2,$3,$4
    );`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// VaultJournal persists vault rows.
type VaultJournal interface {
	RecordVault(ctx context.Context, v vault.Vault) error
	ListRecentVaults(ctx context.Context, limit int) ([]vault.Vault, error)
}

// PenaltyJournal persists penalty pools.
type PenaltyJournal interface {
	RecordPenalty(ctx context.Context, r penalty.Record) error
	ListPenaltyRecords(ctx context.Context, limit int) ([]penalty.Record, error)
}

// SnapshotJournal persists oracle observations and upkeep runs.
type SnapshotJournal interface {
	InsertPriceSnapshot(ctx context.Context, snap PriceSnapshot) error
	ListPriceSnapshotsBetween(ctx context.Context, asset string, from, to time.Time) ([]PriceSnapshot, error)
	InsertUpkeepRun(ctx context.Context, run UpkeepRun) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates journal access for vaults, penalties, and snapshots.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// RecordVault persists or updates a vault row.
func (s *Store) RecordVault(ctx context.Context, v vault.Vault) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var unlockTime interface{}
	if !v.UnlockTime.IsZero() {
		unlockTime = v.UnlockTime
	}

	_, execErr := pool.Exec(ctx, upsertVaultSQL,
		int64(v.ID),
		v.Owner,
		v.Asset,
		v.Amount.String(),
		unlockTime,
		v.TargetPrice.String(),
		v.Condition.String(),
		v.Status.String(),
		v.UnlockReason,
		v.CreatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert vault: %w", execErr)
	}
	return nil
}

// ListRecentVaults lists the most recently created vault rows.
func (s *Store) ListRecentVaults(ctx context.Context, limit int) ([]vault.Vault, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentVaultsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent vaults: %w", queryErr)
	}
	defer rows.Close()

	vaults := make([]vault.Vault, 0, limit)
	for rows.Next() {
		v, scanErr := scanVault(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		vaults = append(vaults, v)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return vaults, nil
}

// RecordPenalty persists or updates an owner's penalty pool.
func (s *Store) RecordPenalty(ctx context.Context, r penalty.Record) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertPenaltySQL,
		r.Owner,
		r.Amount.String(),
		r.PenaltyTime,
		r.Claimed,
	)
	if execErr != nil {
		return fmt.Errorf("upsert penalty record: %w", execErr)
	}
	return nil
}

// ListPenaltyRecords lists penalty pools by most recent exit.
func (s *Store) ListPenaltyRecords(ctx context.Context, limit int) ([]penalty.Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPenaltiesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list penalty records: %w", queryErr)
	}
	defer rows.Close()

	records := make([]penalty.Record, 0, limit)
	for rows.Next() {
		var rec penalty.Record
		var amountStr string
		if err := rows.Scan(&rec.Owner, &amountStr, &rec.PenaltyTime, &rec.Claimed); err != nil {
			return nil, err
		}
		amount, convErr := decimal.NewFromString(amountStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse penalty amount: %w", convErr)
		}
		rec.Amount = amount
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// InsertPriceSnapshot journals one oracle observation.
func (s *Store) InsertPriceSnapshot(ctx context.Context, snap PriceSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var feedUpdated interface{}
	if snap.FeedUpdatedAt != nil {
		feedUpdated = *snap.FeedUpdatedAt
	}

	_, execErr := pool.Exec(ctx, insertPriceSnapshotSQL,
		snap.Asset,
		snap.Value.String(),
		feedUpdated,
		snap.Valid,
		snap.CycleID,
		snap.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert price snapshot: %w", execErr)
	}
	return nil
}

// ListPriceSnapshotsBetween lists an asset's observations within a time window.
func (s *Store) ListPriceSnapshotsBetween(ctx context.Context, asset string, from, to time.Time) ([]PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPriceSnapshotsBetweenSQL, asset, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list price snapshots: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]PriceSnapshot, 0)
	for rows.Next() {
		var snap PriceSnapshot
		var valueStr string
		var feedUpdated sql.NullTime
		if err := rows.Scan(
			&snap.ID,
			&snap.Asset,
			&valueStr,
			&feedUpdated,
			&snap.Valid,
			&snap.CycleID,
			&snap.ObservedAt,
		); err != nil {
			return nil, err
		}
		value, convErr := decimal.NewFromString(valueStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse snapshot value: %w", convErr)
		}
		snap.Value = value
		if feedUpdated.Valid {
			ts := feedUpdated.Time
			snap.FeedUpdatedAt = &ts
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// InsertUpkeepRun journals one scan/apply cycle.
func (s *Store) InsertUpkeepRun(ctx context.Context, run UpkeepRun) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertUpkeepRunSQL, run.CycleID, run.Checked, run.Unlocked, run.RanAt); execErr != nil {
		return fmt.Errorf("insert upkeep run: %w", execErr)
	}
	return nil
}

func scanVault(rows pgx.Rows) (vault.Vault, error) {
	var (
		id           int64
		owner        string
		asset        string
		amountStr    string
		unlockTime   sql.NullTime
		targetStr    string
		conditionStr string
		statusStr    string
		unlockReason string
		createdAt    time.Time
	)

	if err := rows.Scan(
		&id,
		&owner,
		&asset,
		&amountStr,
		&unlockTime,
		&targetStr,
		&conditionStr,
		&statusStr,
		&unlockReason,
		&createdAt,
	); err != nil {
		return vault.Vault{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return vault.Vault{}, fmt.Errorf("parse vault amount: %w", err)
	}
	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return vault.Vault{}, fmt.Errorf("parse target price: %w", err)
	}

	v := vault.Vault{
		ID:           uint64(id),
		Owner:        owner,
		Asset:        asset,
		Amount:       amount,
		TargetPrice:  target,
		Condition:    parseCondition(conditionStr),
		Status:       parseStatus(statusStr),
		UnlockReason: unlockReason,
		CreatedAt:    createdAt,
	}
	if unlockTime.Valid {
		v.UnlockTime = unlockTime.Time
	}
	return v, nil
}

func parseCondition(s string) vault.ConditionType {
	switch s {
	case "price_only":
		return vault.PriceOnly
	case "time_or_price":
		return vault.TimeOrPrice
	case "time_and_price":
		return vault.TimeAndPrice
	default:
		return vault.TimeOnly
	}
}

func parseStatus(s string) vault.Status {
	switch s {
	case "unlocked":
		return vault.StatusUnlocked
	case "withdrawn":
		return vault.StatusWithdrawn
	default:
		return vault.StatusActive
	}
}
