package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vault-keeper/internal/gateway"
)

// Journal receives durable copies of vault rows after each mutation. Journal
// failures are logged and never fail the operation; the in-memory table stays
// authoritative.
type Journal interface {
	RecordVault(ctx context.Context, v Vault) error
}

// Store owns the vault table, the owner index, and every status transition.
type Store struct {
	gateway gateway.AssetTransferGateway
	prices  PriceSource
	journal Journal
	logger  zerolog.Logger
	now     func() time.Time

	mu         sync.Mutex
	vaults     map[uint64]*Vault
	ownerIndex map[string][]uint64
	supported  map[string]bool
	nextID     uint64
	paused     bool
	inProgress map[uint64]bool
}

// NewStore builds an empty vault store over a transfer gateway and price source.
func NewStore(gw gateway.AssetTransferGateway, prices PriceSource, logger zerolog.Logger) *Store {
	return &Store{
		gateway:    gw,
		prices:     prices,
		logger:     logger.With().Str("component", "vault_store").Logger(),
		now:        time.Now,
		vaults:     make(map[uint64]*Vault),
		ownerIndex: make(map[string][]uint64),
		supported:  make(map[string]bool),
		nextID:     1,
		inProgress: make(map[uint64]bool),
	}
}

// SetJournal attaches an optional durable journal.
func (s *Store) SetJournal(j Journal) {
	s.journal = j
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// SetAssetSupported registers or deregisters an asset for new deposits.
func (s *Store) SetAssetSupported(asset string, supported bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if supported {
		s.supported[asset] = true
	} else {
		delete(s.supported, asset)
	}
}

// Pause rejects all mutating operations until Unpause. Reads stay available.
func (s *Store) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Unpause re-enables mutating operations.
func (s *Store) Unpause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// CheckMutable returns ErrPaused while the engine is paused. Exposed so
// collaborating components gate their own mutations on the same flag.
func (s *Store) CheckMutable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return ErrPaused
	}
	return nil
}

// CreateVault validates the deposit terms, pulls the funds, and persists the
// vault. Nothing is persisted when the pull fails.
func (s *Store) CreateVault(ctx context.Context, owner, asset string, amount decimal.Decimal, unlockTime time.Time, targetPrice decimal.Decimal, condition ConditionType) (uint64, error) {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return 0, ErrPaused
	}
	supported := s.supported[asset]
	now := s.now()
	s.mu.Unlock()

	if !supported {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	if amount.Sign() <= 0 {
		return 0, ErrZeroAmount
	}
	if condition.UsesTime() && !unlockTime.After(now) {
		return 0, ErrUnlockTimeNotFuture
	}
	if condition.UsesPrice() {
		if targetPrice.Sign() <= 0 {
			return 0, ErrZeroTargetPrice
		}
		if _, ok := s.prices.FeedFor(asset); !ok {
			return 0, fmt.Errorf("%w: %s", ErrNoPriceFeed, asset)
		}
	}

	if err := s.gateway.Pull(ctx, asset, owner, amount); err != nil {
		return 0, fmt.Errorf("pull deposit: %w", err)
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	v := &Vault{
		ID:          id,
		Owner:       owner,
		Asset:       asset,
		Amount:      amount,
		UnlockTime:  unlockTime,
		TargetPrice: targetPrice,
		Condition:   condition,
		Status:      StatusActive,
		CreatedAt:   now,
	}
	s.vaults[id] = v
	s.ownerIndex[owner] = append(s.ownerIndex[owner], id)
	snapshot := *v
	s.mu.Unlock()

	s.record(ctx, snapshot)

	s.logger.Info().
		Uint64("vault_id", id).
		Str("owner", owner).
		Str("asset", asset).
		Str("amount", amount.String()).
		Str("condition", condition.String()).
		Msg("vault created")
	return id, nil
}

// GetVault returns a copy of the vault, if it exists.
func (s *Store) GetVault(id uint64) (Vault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[id]
	if !ok {
		return Vault{}, false
	}
	return *v, true
}

// OwnerVaults lists the ids created by an owner in creation order.
func (s *Store) OwnerVaults(owner string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, len(s.ownerIndex[owner]))
	copy(ids, s.ownerIndex[owner])
	return ids
}

// IDRange reports the live id range [lo, hi]. hi is zero when no vault exists.
func (s *Store) IDRange() (uint64, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextID == 1 {
		return 0, 0
	}
	return 1, s.nextID - 1
}

// Withdraw releases the vault to its owner once conditions hold. An Active
// vault is re-evaluated in-line and flipped to Unlocked first; the release then
// zeroes the amount and sets Withdrawn strictly before the external transfer.
func (s *Store) Withdraw(ctx context.Context, id uint64, caller string) (decimal.Decimal, error) {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return decimal.Zero, ErrPaused
	}
	v, ok := s.vaults[id]
	if !ok {
		s.mu.Unlock()
		return decimal.Zero, ErrVaultNotFound
	}
	if s.inProgress[id] {
		s.mu.Unlock()
		return decimal.Zero, ErrVaultBusy
	}
	if v.Owner != caller {
		s.mu.Unlock()
		return decimal.Zero, ErrNotVaultOwner
	}
	if v.Status == StatusWithdrawn {
		s.mu.Unlock()
		return decimal.Zero, ErrVaultNotActive
	}
	s.inProgress[id] = true
	snapshot := *v
	now := s.now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inProgress, id)
		s.mu.Unlock()
	}()

	if snapshot.Status == StatusActive {
		if !Evaluate(ctx, snapshot, now, s.prices) {
			return decimal.Zero, ErrConditionsNotMet
		}
		s.mu.Lock()
		v.Status = StatusUnlocked
		v.UnlockReason = "owner withdrawal"
		snapshot = *v
		s.mu.Unlock()
	}

	// Zero the amount and terminate before touching the gateway so a
	// re-entrant call cannot observe a releasable vault.
	s.mu.Lock()
	prior := *v
	amount := v.Amount
	v.Amount = decimal.Zero
	v.Status = StatusWithdrawn
	terminal := *v
	s.mu.Unlock()

	if err := s.gateway.Transfer(ctx, terminal.Asset, caller, amount); err != nil {
		s.mu.Lock()
		*v = prior
		s.mu.Unlock()
		return decimal.Zero, fmt.Errorf("release vault %d: %w", id, err)
	}

	s.record(ctx, terminal)

	s.logger.Info().
		Uint64("vault_id", id).
		Str("owner", caller).
		Str("amount", amount.String()).
		Msg("vault withdrawn")
	return amount, nil
}

// TryUnlock re-validates an Active vault and flips it to Unlocked. Used by the
// automation apply phase; vaults that no longer qualify are skipped, not errors.
func (s *Store) TryUnlock(ctx context.Context, id uint64, reason string) bool {
	s.mu.Lock()
	v, ok := s.vaults[id]
	if !ok || v.Status != StatusActive || s.inProgress[id] {
		s.mu.Unlock()
		return false
	}
	snapshot := *v
	now := s.now()
	s.mu.Unlock()

	if !Evaluate(ctx, snapshot, now, s.prices) {
		return false
	}

	s.mu.Lock()
	if v.Status != StatusActive {
		s.mu.Unlock()
		return false
	}
	v.Status = StatusUnlocked
	v.UnlockReason = reason
	unlocked := *v
	s.mu.Unlock()

	s.record(ctx, unlocked)
	return true
}

// BeginEmergencyExit transitions an Active vault straight to Withdrawn with a
// zeroed amount and returns the pre-transition copy. The vault stays guarded
// until AbortEmergencyExit or FinishEmergencyExit is called.
func (s *Store) BeginEmergencyExit(id uint64, caller string) (Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return Vault{}, ErrPaused
	}
	v, ok := s.vaults[id]
	if !ok {
		return Vault{}, ErrVaultNotFound
	}
	if s.inProgress[id] {
		return Vault{}, ErrVaultBusy
	}
	if v.Owner != caller {
		return Vault{}, ErrNotVaultOwner
	}
	if v.Status != StatusActive {
		return Vault{}, ErrVaultNotActive
	}

	s.inProgress[id] = true
	prior := *v
	v.Amount = decimal.Zero
	v.Status = StatusWithdrawn
	v.UnlockReason = "emergency exit"
	return prior, nil
}

// AbortEmergencyExit restores the pre-exit snapshot after a failed transfer
// and releases the guard.
func (s *Store) AbortEmergencyExit(prior Vault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vaults[prior.ID]; ok {
		*v = prior
	}
	delete(s.inProgress, prior.ID)
}

// FinishEmergencyExit journals the terminal row and releases the guard.
func (s *Store) FinishEmergencyExit(ctx context.Context, id uint64) {
	s.mu.Lock()
	var terminal Vault
	if v, ok := s.vaults[id]; ok {
		terminal = *v
	}
	delete(s.inProgress, id)
	s.mu.Unlock()

	if terminal.ID != 0 {
		s.record(ctx, terminal)
	}
}

func (s *Store) record(ctx context.Context, v Vault) {
	if s.journal == nil {
		return
	}
	if err := s.journal.RecordVault(ctx, v); err != nil {
		s.logger.Error().Err(err).Uint64("vault_id", v.ID).Msg("failed to journal vault")
	}
}
