package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vault-keeper/internal/vault"
)

const (
	// MinCheckInterval and MaxCheckInterval bound the admin-settable cooldown.
	MinCheckInterval = 5 * time.Second
	MaxCheckInterval = 3600 * time.Second

	// DefaultWindow caps how many ids a single scan call walks.
	DefaultWindow = 100
)

// ErrIntervalOutOfRange rejects cooldown values outside the sane range.
var ErrIntervalOutOfRange = errors.New("scanner: check interval out of range")

// Result summarises an apply pass.
type Result struct {
	Checked  int
	Unlocked int
}

// Scanner performs the cooldown-gated scan/apply cycle over the vault store.
// The cooldown is advisory rate-limiting, not a lock: callers arriving before
// the interval elapses get needed=false and nothing blocks.
type Scanner struct {
	store  *vault.Store
	prices vault.PriceSource
	logger zerolog.Logger
	now    func() time.Time

	mu            sync.Mutex
	checkInterval time.Duration
	lastCheck     time.Time
}

// New builds a scanner with the given initial cooldown.
func New(store *vault.Store, prices vault.PriceSource, checkInterval time.Duration, logger zerolog.Logger) (*Scanner, error) {
	s := &Scanner{
		store:  store,
		prices: prices,
		logger: logger.With().Str("component", "scanner").Logger(),
		now:    time.Now,
	}
	if err := s.SetCheckInterval(checkInterval); err != nil {
		return nil, err
	}
	return s, nil
}

// SetClock overrides the time source. Tests only.
func (s *Scanner) SetClock(now func() time.Time) {
	s.now = now
}

// SetCheckInterval updates the cooldown, bounded to [5s, 3600s].
func (s *Scanner) SetCheckInterval(interval time.Duration) error {
	if interval < MinCheckInterval || interval > MaxCheckInterval {
		return fmt.Errorf("%w: %s", ErrIntervalOutOfRange, interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkInterval = interval
	return nil
}

// CheckInterval reports the configured cooldown.
func (s *Scanner) CheckInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkInterval
}

// Scan walks [windowStart, windowEnd] in ascending id order and collects up to
// maxResults Active vaults whose conditions hold. It returns needed=false
// without scanning while the cooldown has not elapsed. Zero window bounds
// default to the live id range capped at DefaultWindow ids; maxResults <= 0
// defaults to the window size.
func (s *Scanner) Scan(ctx context.Context, windowStart, windowEnd uint64, maxResults int) (bool, []uint64) {
	now := s.now()

	s.mu.Lock()
	if !s.lastCheck.IsZero() && now.Before(s.lastCheck.Add(s.checkInterval)) {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	lo, hi := s.store.IDRange()
	if hi == 0 {
		return true, nil
	}
	if windowStart == 0 {
		windowStart = lo
	}
	if windowEnd == 0 || windowEnd > hi {
		windowEnd = hi
	}
	if windowEnd >= windowStart+DefaultWindow {
		windowEnd = windowStart + DefaultWindow - 1
	}
	if maxResults <= 0 {
		maxResults = DefaultWindow
	}

	var ready []uint64
	for id := windowStart; id <= windowEnd; id++ {
		v, ok := s.store.GetVault(id)
		if !ok || v.Status != vault.StatusActive {
			continue
		}
		if vault.Evaluate(ctx, v, now, s.prices) {
			ready = append(ready, id)
			if len(ready) >= maxResults {
				break
			}
		}
	}

	s.logger.Debug().
		Uint64("window_start", windowStart).
		Uint64("window_end", windowEnd).
		Int("ready", len(ready)).
		Msg("scan complete")
	return true, ready
}

// Apply stamps the cooldown and re-validates each candidate before flipping it
// to Unlocked. Ids that no longer qualify are silently skipped; partial success
// is normal. The returned counts exist for observability.
func (s *Scanner) Apply(ctx context.Context, ids []uint64) (Result, error) {
	if err := s.store.CheckMutable(); err != nil {
		return Result{}, err
	}

	now := s.now()
	s.mu.Lock()
	s.lastCheck = now
	s.mu.Unlock()

	res := Result{}
	for _, id := range ids {
		res.Checked++
		if s.store.TryUnlock(ctx, id, "automated unlock") {
			res.Unlocked++
		}
	}

	s.logger.Info().
		Int("checked", res.Checked).
		Int("unlocked", res.Unlocked).
		Msg("apply complete")
	return res, nil
}
