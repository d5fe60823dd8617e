package penalty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vault-keeper/internal/gateway"
	"vault-keeper/internal/vault"
)

const (
	// BasisPoints is the denominator for the penalty rate.
	BasisPoints = 10_000
	// DefaultPenaltyBps is the default early-exit penalty rate (10%).
	DefaultPenaltyBps = 1_000
	// DefaultClaimDelay is the default wait before a pooled penalty can be claimed.
	DefaultClaimDelay = 90 * 24 * time.Hour
)

var (
	// ErrPenaltyNotAvailable indicates the caller has no pooled penalty.
	ErrPenaltyNotAvailable = errors.New("penalty: nothing to claim")
	// ErrPenaltyAlreadyClaimed indicates the pool was already paid out.
	ErrPenaltyAlreadyClaimed = errors.New("penalty: already claimed")
	// ErrPenaltyClaimDelayNotPassed indicates the claim delay has not elapsed.
	ErrPenaltyClaimDelayNotPassed = errors.New("penalty: claim delay not passed")
)

// Record is the per-owner penalty pool. A repeat emergency exit adds to the
// pool and resets PenaltyTime to the newest exit, so the claim delay restarts.
// That coalescing is deliberate: it stops owners from laddering cheap exits
// into an early claim.
type Record struct {
	Owner       string
	Amount      decimal.Decimal
	PenaltyTime time.Time
	Claimed     bool
}

// Journal receives durable copies of penalty records after each mutation.
type Journal interface {
	RecordPenalty(ctx context.Context, r Record) error
}

// Options tune the ledger.
type Options struct {
	PenaltyBps int64
	ClaimDelay time.Duration
}

// Ledger accounts for discounted early exits and their delayed-release pools.
type Ledger struct {
	store   *vault.Store
	gateway gateway.AssetTransferGateway
	journal Journal
	logger  zerolog.Logger
	now     func() time.Time

	penaltyBps decimal.Decimal
	claimDelay time.Duration

	mu    sync.Mutex
	pools map[string]*Record
	// asset each owner's pool is denominated in; set by the first pooled exit.
	poolAsset map[string]string
}

// NewLedger builds a penalty ledger over the vault store and transfer gateway.
func NewLedger(store *vault.Store, gw gateway.AssetTransferGateway, opts Options, logger zerolog.Logger) *Ledger {
	bps := opts.PenaltyBps
	if bps <= 0 {
		bps = DefaultPenaltyBps
	}
	delay := opts.ClaimDelay
	if delay <= 0 {
		delay = DefaultClaimDelay
	}
	return &Ledger{
		store:      store,
		gateway:    gw,
		logger:     logger.With().Str("component", "penalty_ledger").Logger(),
		now:        time.Now,
		penaltyBps: decimal.NewFromInt(bps),
		claimDelay: delay,
		pools:      make(map[string]*Record),
		poolAsset:  make(map[string]string),
	}
}

// SetJournal attaches an optional durable journal.
func (l *Ledger) SetJournal(j Journal) {
	l.journal = j
}

// SetClock overrides the time source. Tests only.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// ClaimDelay reports the configured claim delay.
func (l *Ledger) ClaimDelay() time.Duration {
	return l.claimDelay
}

// PoolFor returns a copy of the owner's penalty record, if any.
func (l *Ledger) PoolFor(owner string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.pools[owner]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// EmergencyExit releases an Active vault early at a fixed discount. The vault
// is terminated before the payout transfer; the withheld penalty is pooled
// under the caller and its claim delay restarts from this exit.
func (l *Ledger) EmergencyExit(ctx context.Context, id uint64, caller string) (decimal.Decimal, error) {
	prior, err := l.store.BeginEmergencyExit(id, caller)
	if err != nil {
		return decimal.Zero, err
	}

	penalty := prior.Amount.Mul(l.penaltyBps).Div(decimal.NewFromInt(BasisPoints))
	payout := prior.Amount.Sub(penalty)
	now := l.now()

	if err := l.gateway.Transfer(ctx, prior.Asset, caller, payout); err != nil {
		l.store.AbortEmergencyExit(prior)
		return decimal.Zero, fmt.Errorf("emergency payout for vault %d: %w", id, err)
	}

	l.mu.Lock()
	pool, ok := l.pools[caller]
	if !ok || pool.Claimed {
		pool = &Record{Owner: caller}
		l.pools[caller] = pool
	}
	pool.Amount = pool.Amount.Add(penalty)
	pool.PenaltyTime = now
	l.poolAsset[caller] = prior.Asset
	snapshot := *pool
	l.mu.Unlock()

	l.store.FinishEmergencyExit(ctx, id)
	l.record(ctx, snapshot)

	l.logger.Info().
		Uint64("vault_id", id).
		Str("owner", caller).
		Str("payout", payout.String()).
		Str("penalty", penalty.String()).
		Msg("emergency exit")
	return payout, nil
}

// ClaimPenalty pays out the caller's pooled penalty once the delay has elapsed.
func (l *Ledger) ClaimPenalty(ctx context.Context, caller string) (decimal.Decimal, error) {
	if err := l.store.CheckMutable(); err != nil {
		return decimal.Zero, err
	}

	l.mu.Lock()
	pool, ok := l.pools[caller]
	if !ok || pool.Amount.IsZero() && !pool.Claimed {
		l.mu.Unlock()
		return decimal.Zero, ErrPenaltyNotAvailable
	}
	if pool.Claimed {
		l.mu.Unlock()
		return decimal.Zero, ErrPenaltyAlreadyClaimed
	}
	now := l.now()
	if now.Before(pool.PenaltyTime.Add(l.claimDelay)) {
		l.mu.Unlock()
		return decimal.Zero, ErrPenaltyClaimDelayNotPassed
	}

	amount := pool.Amount
	asset := l.poolAsset[caller]
	pool.Amount = decimal.Zero
	pool.Claimed = true
	snapshot := *pool
	l.mu.Unlock()

	if err := l.gateway.Transfer(ctx, asset, caller, amount); err != nil {
		l.mu.Lock()
		pool.Amount = amount
		pool.Claimed = false
		l.mu.Unlock()
		return decimal.Zero, fmt.Errorf("claim payout for %s: %w", caller, err)
	}

	l.record(ctx, snapshot)

	l.logger.Info().
		Str("owner", caller).
		Str("amount", amount.String()).
		Msg("penalty claimed")
	return amount, nil
}

func (l *Ledger) record(ctx context.Context, r Record) {
	if l.journal == nil {
		return
	}
	if err := l.journal.RecordPenalty(ctx, r); err != nil {
		l.logger.Error().Err(err).Str("owner", r.Owner).Msg("failed to journal penalty record")
	}
}
