package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vault-keeper/internal/gateway"
	"vault-keeper/internal/oracle"
	"vault-keeper/internal/vault"
)

type stubPrices struct {
	readings map[string]oracle.Reading
	feeds    map[string]oracle.FeedConfig
}

func (s *stubPrices) GetPrice(ctx context.Context, asset string) oracle.Reading {
	return s.readings[asset]
}

func (s *stubPrices) FeedFor(asset string) (oracle.FeedConfig, bool) {
	cfg, ok := s.feeds[asset]
	return cfg, ok
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fixture struct {
	store   *vault.Store
	scanner *Scanner
	prices  *stubPrices
	clock   *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ledger := gateway.NewLedger()
	ledger.Credit("ETH", "alice", decimal.NewFromInt(1_000_000))

	prices := &stubPrices{
		readings: make(map[string]oracle.Reading),
		feeds:    map[string]oracle.FeedConfig{"ETH": {Handle: "0xfeed", Heartbeat: time.Hour}},
	}
	clk := &testClock{now: time.Unix(1_700_000_000, 0)}

	store := vault.NewStore(ledger, prices, noopLogger())
	store.SetClock(clk.Now)
	store.SetAssetSupported("ETH", true)

	scan, err := New(store, prices, 60*time.Second, noopLogger())
	if err != nil {
		t.Fatalf("New should succeed: %v", err)
	}
	scan.SetClock(clk.Now)

	return &fixture{store: store, scanner: scan, prices: prices, clock: clk}
}

func (f *fixture) createTimeVault(t *testing.T, unlockIn time.Duration) uint64 {
	t.Helper()
	id, err := f.store.CreateVault(context.Background(), "alice", "ETH",
		decimal.NewFromInt(100), f.clock.Now().Add(unlockIn), decimal.Zero, vault.TimeOnly)
	if err != nil {
		t.Fatalf("CreateVault should succeed: %v", err)
	}
	return id
}

func TestSetCheckIntervalBounds(t *testing.T) {
	f := newFixture(t)

	if err := f.scanner.SetCheckInterval(time.Second); !errors.Is(err, ErrIntervalOutOfRange) {
		t.Fatalf("1s should be out of range, got %v", err)
	}
	if err := f.scanner.SetCheckInterval(2 * time.Hour); !errors.Is(err, ErrIntervalOutOfRange) {
		t.Fatalf("2h should be out of range, got %v", err)
	}
	if err := f.scanner.SetCheckInterval(5 * time.Second); err != nil {
		t.Fatalf("5s should be accepted: %v", err)
	}
	if err := f.scanner.SetCheckInterval(3600 * time.Second); err != nil {
		t.Fatalf("3600s should be accepted: %v", err)
	}
}

func TestScanCooldownGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createTimeVault(t, time.Minute)
	f.clock.Advance(2 * time.Minute)

	needed, ready := f.scanner.Scan(ctx, 0, 0, 0)
	if !needed || len(ready) != 1 {
		t.Fatalf("first scan should find the vault, needed=%t ready=%v", needed, ready)
	}
	if _, err := f.scanner.Apply(ctx, ready); err != nil {
		t.Fatalf("Apply should succeed: %v", err)
	}

	// a qualifying vault exists again, but the cooldown has not elapsed
	f.createTimeVault(t, 25*time.Second)
	f.clock.Advance(30 * time.Second)
	if needed, _ := f.scanner.Scan(ctx, 0, 0, 0); needed {
		t.Fatal("scan inside the cooldown window must report needed=false")
	}

	f.clock.Advance(31 * time.Second)
	if needed, _ := f.scanner.Scan(ctx, 0, 0, 0); !needed {
		t.Fatal("scan after the cooldown should run again")
	}
}

func TestScanOrdersAndCaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []uint64
	for i := 0; i < 5; i++ {
		ids = append(ids, f.createTimeVault(t, time.Minute))
	}
	f.clock.Advance(2 * time.Minute)

	_, ready := f.scanner.Scan(ctx, 0, 0, 3)
	if len(ready) != 3 {
		t.Fatalf("maxResults should cap the result, got %v", ready)
	}
	for i, id := range ready {
		if id != ids[i] {
			t.Fatalf("ready ids should be ascending (first-created first): %v", ready)
		}
	}

	_, windowed := f.scanner.Scan(ctx, ids[2], ids[3], 0)
	if len(windowed) != 2 || windowed[0] != ids[2] || windowed[1] != ids[3] {
		t.Fatalf("window bounds should be honoured: %v", windowed)
	}
}

func TestScanSkipsNonQualifyingVaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dueID := f.createTimeVault(t, time.Minute)
	f.createTimeVault(t, 48*time.Hour)

	// a price vault with an invalid oracle never qualifies
	priceID, err := f.store.CreateVault(ctx, "alice", "ETH",
		decimal.NewFromInt(10), time.Time{}, decimal.New(2500, 8), vault.PriceOnly)
	if err != nil {
		t.Fatalf("CreateVault should succeed: %v", err)
	}

	f.clock.Advance(2 * time.Minute)

	_, ready := f.scanner.Scan(ctx, 0, 0, 0)
	if len(ready) != 1 || ready[0] != dueID {
		t.Fatalf("only the due time vault should qualify, got %v", ready)
	}

	f.prices.readings["ETH"] = oracle.Reading{Value: decimal.New(2600, 8), UpdatedAt: f.clock.Now(), Valid: true}
	f.clock.Advance(time.Hour)
	_, ready = f.scanner.Scan(ctx, 0, 0, 0)
	if len(ready) != 2 || ready[1] != priceID {
		t.Fatalf("price vault should qualify once the feed recovers, got %v", ready)
	}
}

func TestApplyRevalidatesAndCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dueID := f.createTimeVault(t, time.Minute)
	f.clock.Advance(2 * time.Minute)

	_, ready := f.scanner.Scan(ctx, 0, 0, 0)

	// replaying stale ids is harmless: non-qualifiers are skipped
	stale := append([]uint64{999}, ready...)
	res, err := f.scanner.Apply(ctx, stale)
	if err != nil {
		t.Fatalf("Apply should succeed: %v", err)
	}
	if res.Checked != 2 || res.Unlocked != 1 {
		t.Fatalf("want checked=2 unlocked=1, got %+v", res)
	}

	v, _ := f.store.GetVault(dueID)
	if v.Status != vault.StatusUnlocked || v.UnlockReason != "automated unlock" {
		t.Fatalf("unexpected vault state: %+v", v)
	}

	// second apply with the same list is a no-op for the unlocked vault
	res, err = f.scanner.Apply(ctx, stale)
	if err != nil {
		t.Fatalf("second Apply should succeed: %v", err)
	}
	if res.Unlocked != 0 {
		t.Fatalf("second Apply must not unlock again, got %+v", res)
	}
}

func TestApplyRejectedWhilePaused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.createTimeVault(t, time.Minute)
	f.clock.Advance(2 * time.Minute)

	f.store.Pause()
	if _, err := f.scanner.Apply(ctx, []uint64{id}); !errors.Is(err, vault.ErrPaused) {
		t.Fatalf("Apply while paused should fail with ErrPaused, got %v", err)
	}
}
