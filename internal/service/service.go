package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vault-keeper/internal/alerting"
	"vault-keeper/internal/config"
	"vault-keeper/internal/oracle"
	"vault-keeper/internal/scanner"
	"vault-keeper/internal/scheduler"
	"vault-keeper/internal/storage"
	"vault-keeper/internal/vault"
)

// Service orchestrates the periodic upkeep cycle: scan for ready vaults,
// apply the unlocks, journal the evidence, and notify.
type Service struct {
	scheduler *scheduler.Scheduler
	scan      *scanner.Scanner
	store     *vault.Store
	prices    *oracle.Adapter
	snapshots storage.SnapshotJournal
	notifier  alerting.Notifier
	logger    zerolog.Logger

	maxResults int
	channels   []string
	alertsOn   bool
	locker     storage.AdvisoryLocker
	lockKey    int64
}

// New constructs the upkeep service.
func New(cfg *config.Config, sched *scheduler.Scheduler, scan *scanner.Scanner, store *vault.Store, prices *oracle.Adapter, snapshots storage.SnapshotJournal, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := snapshots.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		scan:       scan,
		store:      store,
		prices:     prices,
		snapshots:  snapshots,
		notifier:   notifier,
		logger:     logger.With().Str("component", "service").Logger(),
		maxResults: cfg.Scanner.MaxResults,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned upkeep loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle executes one upkeep cycle, skipping it when another replica
// holds the advisory lock.
func (s *Service) ProcessCycle(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, bucket)
}

func (s *Service) executeCycle(ctx context.Context, bucket time.Time) error {
	cycleID := uuid.NewString()

	s.snapshotPrices(ctx, cycleID)

	needed, ready := s.scan.Scan(ctx, 0, 0, s.maxResults)
	if !needed {
		s.logger.Debug().Time("bucket", bucket).Msg("cooldown not elapsed; scan skipped")
		return nil
	}

	result, err := s.scan.Apply(ctx, ready)
	if err != nil {
		return fmt.Errorf("apply unlocks: %w", err)
	}

	if s.snapshots != nil {
		run := storage.UpkeepRun{
			CycleID:  cycleID,
			Checked:  result.Checked,
			Unlocked: result.Unlocked,
			RanAt:    time.Now().UTC(),
		}
		if err := s.snapshots.InsertUpkeepRun(ctx, run); err != nil {
			s.logger.Error().Err(err).Str("cycle_id", cycleID).Msg("failed to journal upkeep run")
		}
	}

	s.logger.Info().
		Str("cycle_id", cycleID).
		Int("checked", result.Checked).
		Int("unlocked", result.Unlocked).
		Msg("upkeep cycle complete")

	if result.Unlocked > 0 {
		s.notifyUnlocked(ctx, ready)
	}
	return nil
}

func (s *Service) snapshotPrices(ctx context.Context, cycleID string) {
	if s.snapshots == nil || s.prices == nil {
		return
	}

	assets := s.prices.FeedAssets()
	sort.Strings(assets)
	for _, asset := range assets {
		reading := s.prices.GetPrice(ctx, asset)
		snap := storage.PriceSnapshot{
			Asset:      asset,
			Value:      reading.Value,
			Valid:      reading.Valid,
			CycleID:    cycleID,
			ObservedAt: time.Now().UTC(),
		}
		if !reading.UpdatedAt.IsZero() {
			ts := reading.UpdatedAt
			snap.FeedUpdatedAt = &ts
		}
		if err := s.snapshots.InsertPriceSnapshot(ctx, snap); err != nil {
			s.logger.Error().Err(err).Str("asset", asset).Msg("failed to journal price snapshot")
		}
	}
}

func (s *Service) notifyUnlocked(ctx context.Context, candidates []uint64) {
	if !s.alertsOn || s.notifier == nil {
		return
	}

	for _, id := range candidates {
		v, ok := s.store.GetVault(id)
		if !ok || v.Status != vault.StatusUnlocked {
			continue
		}
		note := alerting.Notification{
			VaultID:    v.ID,
			Owner:      v.Owner,
			Asset:      v.Asset,
			Amount:     v.Amount,
			Reason:     v.UnlockReason,
			UnlockedAt: time.Now().UTC(),
			Channels:   s.channels,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Uint64("vault_id", id).Msg("failed to dispatch unlock notification")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
