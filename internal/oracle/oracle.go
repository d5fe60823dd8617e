package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CanonicalDecimals is the fixed precision every reading is normalized to
// before comparison against vault thresholds.
const CanonicalDecimals = 8

var (
	// ErrFeedNotConfigured indicates no feed is registered for the asset.
	ErrFeedNotConfigured = errors.New("oracle: feed not configured")
	// ErrFeedUnhealthy indicates a feed failed its registration probe.
	ErrFeedUnhealthy = errors.New("oracle: feed unhealthy")
)

// RoundData is the raw response of an external price feed.
type RoundData struct {
	Answer    *big.Int
	UpdatedAt time.Time
	Decimals  uint8
}

// Querier retrieves raw round data from a feed handle.
type Querier interface {
	QueryFeed(ctx context.Context, handle string) (RoundData, error)
}

// FeedConfig describes one asset's price feed.
type FeedConfig struct {
	Handle    string
	Heartbeat time.Duration
	// MinValue/MaxValue bound plausible readings in canonical units.
	// A zero bound disables that side of the circuit breaker.
	MinValue decimal.Decimal
	MaxValue decimal.Decimal
}

// Reading is a normalized price observation. Value is expressed in canonical
// 1e-8 units. Valid is false for any stale, non-positive, out-of-bounds, or
// unconfigured reading; the adapter never raises such failures to the caller.
type Reading struct {
	Value     decimal.Decimal
	UpdatedAt time.Time
	Valid     bool
}

// Adapter normalizes external price feeds into canonical readings.
type Adapter struct {
	querier Querier
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	feeds map[string]FeedConfig
}

// NewAdapter builds a price oracle adapter over the given querier.
func NewAdapter(querier Querier, logger zerolog.Logger) *Adapter {
	return &Adapter{
		querier: querier,
		logger:  logger.With().Str("component", "oracle").Logger(),
		now:     time.Now,
		feeds:   make(map[string]FeedConfig),
	}
}

// SetClock overrides the time source. Tests only.
func (a *Adapter) SetClock(now func() time.Time) {
	a.now = now
}

// SetPriceFeed registers or replaces the feed for an asset after probing it.
// A feed that cannot be queried or that reports a non-positive value is rejected.
func (a *Adapter) SetPriceFeed(ctx context.Context, asset string, cfg FeedConfig) error {
	if cfg.Handle == "" {
		return fmt.Errorf("%w: empty feed handle for %s", ErrFeedNotConfigured, asset)
	}
	if cfg.Heartbeat <= 0 {
		return fmt.Errorf("oracle: heartbeat must be positive for %s", asset)
	}

	round, err := a.querier.QueryFeed(ctx, cfg.Handle)
	if err != nil {
		return fmt.Errorf("%w: probe %s: %v", ErrFeedUnhealthy, asset, err)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return fmt.Errorf("%w: probe %s reported non-positive value", ErrFeedUnhealthy, asset)
	}

	a.mu.Lock()
	a.feeds[asset] = cfg
	a.mu.Unlock()

	a.logger.Info().
		Str("asset", asset).
		Str("handle", cfg.Handle).
		Dur("heartbeat", cfg.Heartbeat).
		Msg("price feed registered")
	return nil
}

// FeedAssets lists the assets with a registered feed.
func (a *Adapter) FeedAssets() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	assets := make([]string, 0, len(a.feeds))
	for asset := range a.feeds {
		assets = append(assets, asset)
	}
	return assets
}

// FeedFor reports the registered feed config for an asset.
func (a *Adapter) FeedFor(asset string) (FeedConfig, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cfg, ok := a.feeds[asset]
	return cfg, ok
}

// GetPrice returns the normalized reading for an asset. Any failure, from a
// missing feed to a stale round, degrades to Valid=false; the method itself is
// total so batch scans survive a single bad feed.
func (a *Adapter) GetPrice(ctx context.Context, asset string) Reading {
	cfg, ok := a.FeedFor(asset)
	if !ok {
		return Reading{}
	}

	round, err := a.querier.QueryFeed(ctx, cfg.Handle)
	if err != nil {
		a.logger.Warn().Err(err).Str("asset", asset).Msg("feed query failed")
		return Reading{}
	}

	if round.Answer == nil || round.Answer.Sign() <= 0 {
		a.logger.Warn().Str("asset", asset).Msg("feed reported non-positive value")
		return Reading{}
	}
	if round.UpdatedAt.IsZero() || round.UpdatedAt.Unix() == 0 {
		a.logger.Warn().Str("asset", asset).Msg("feed reported zero timestamp")
		return Reading{}
	}
	if age := a.now().Sub(round.UpdatedAt); age > cfg.Heartbeat {
		a.logger.Warn().
			Str("asset", asset).
			Dur("age", age).
			Dur("heartbeat", cfg.Heartbeat).
			Msg("feed reading stale")
		return Reading{UpdatedAt: round.UpdatedAt}
	}

	value := Normalize(round.Answer, round.Decimals)

	if !cfg.MinValue.IsZero() && value.LessThan(cfg.MinValue) {
		a.logger.Warn().Str("asset", asset).Str("value", value.String()).Msg("reading below sanity bound")
		return Reading{UpdatedAt: round.UpdatedAt}
	}
	if !cfg.MaxValue.IsZero() && value.GreaterThan(cfg.MaxValue) {
		a.logger.Warn().Str("asset", asset).Str("value", value.String()).Msg("reading above sanity bound")
		return Reading{UpdatedAt: round.UpdatedAt}
	}

	return Reading{Value: value, UpdatedAt: round.UpdatedAt, Valid: true}
}

// Normalize rescales a raw feed value from its source precision to canonical
// 1e-8 units: value * 10^(8 - sourceDecimals).
func Normalize(raw *big.Int, sourceDecimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(raw, CanonicalDecimals-int32(sourceDecimals))
}
