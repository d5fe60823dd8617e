package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vault-keeper/internal/gateway"
	"vault-keeper/internal/oracle"
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

type failingGateway struct {
	pullErr     error
	transferErr error
}

func (g *failingGateway) Pull(ctx context.Context, asset, from string, amount decimal.Decimal) error {
	return g.pullErr
}

func (g *failingGateway) Transfer(ctx context.Context, asset, to string, amount decimal.Decimal) error {
	return g.transferErr
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

func newTestStore(t *testing.T) (*Store, *gateway.Ledger, *stubPrices, *testClock) {
	t.Helper()

	ledger := gateway.NewLedger()
	prices := &stubPrices{
		readings: make(map[string]oracle.Reading),
		feeds:    map[string]oracle.FeedConfig{"ETH": {Handle: "0xfeed", Heartbeat: time.Hour}},
	}
	clk := &testClock{now: time.Unix(1_700_000_000, 0)}

	store := NewStore(ledger, prices, noopLogger())
	store.SetClock(clk.Now)
	store.SetAssetSupported("ETH", true)

	ledger.Credit("ETH", "alice", decimal.NewFromInt(10_000_000))
	return store, ledger, prices, clk
}

func TestCreateVaultRoundTrip(t *testing.T) {
	store, _, _, clk := newTestStore(t)
	ctx := context.Background()

	unlock := clk.Now().Add(time.Hour)
	target := decimal.New(2500, 8)
	id, err := store.CreateVault(ctx, "alice", "ETH", decimal.NewFromInt(42), unlock, target, TimeAndPrice)
	if err != nil {
		t.Fatalf("CreateVault should succeed: %v", err)
	}
	if id != 1 {
		t.Fatalf("first id should be 1, got %d", id)
	}

	v, ok := store.GetVault(id)
	if !ok {
		t.Fatal("vault should exist")
	}
	if v.Owner != "alice" || v.Asset != "ETH" || !v.Amount.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("terms mismatch: %+v", v)
	}
	if !v.UnlockTime.Equal(unlock) || !v.TargetPrice.Equal(target) || v.Condition != TimeAndPrice {
		t.Fatalf("condition terms mismatch: %+v", v)
	}
	if v.Status != StatusActive {
		t.Fatalf("new vault should be Active, got %s", v.Status)
	}

	second, err := store.CreateVault(ctx, "alice", "ETH", decimal.NewFromInt(1), unlock, decimal.Zero, TimeOnly)
	if err != nil {
		t.Fatalf("second CreateVault should succeed: %v", err)
	}
	if second != 2 {
		t.Fatalf("ids should be monotonic, got %d", second)
	}

	ids := store.OwnerVaults("alice")
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("owner index mismatch: %v", ids)
	}
}

func TestCreateVaultValidation(t *testing.T) {
	store, _, _, clk := newTestStore(t)
	ctx := context.Background()
	future := clk.Now().Add(time.Hour)
	target := decimal.New(2500, 8)

	cases := []struct {
		name      string
		owner     string
		asset     string
		amount    decimal.Decimal
		unlock    time.Time
		target    decimal.Decimal
		condition ConditionType
		want      error
	}{
		{"unsupported asset", "alice", "DOGE", decimal.NewFromInt(1), future, decimal.Zero, TimeOnly, ErrUnsupportedAsset},
		{"zero amount", "alice", "ETH", decimal.Zero, future, decimal.Zero, TimeOnly, ErrZeroAmount},
		{"past unlock time", "alice", "ETH", decimal.NewFromInt(1), clk.Now().Add(-time.Second), decimal.Zero, TimeOnly, ErrUnlockTimeNotFuture},
		{"unlock time now", "alice", "ETH", decimal.NewFromInt(1), clk.Now(), decimal.Zero, TimeOnly, ErrUnlockTimeNotFuture},
		{"zero target price", "alice", "ETH", decimal.NewFromInt(1), time.Time{}, decimal.Zero, PriceOnly, ErrZeroTargetPrice},
		{"past time on and-condition", "alice", "ETH", decimal.NewFromInt(1), clk.Now().Add(-time.Hour), target, TimeAndPrice, ErrUnlockTimeNotFuture},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.CreateVault(ctx, tc.owner, tc.asset, tc.amount, tc.unlock, tc.target, tc.condition)
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}

	if _, hi := store.IDRange(); hi != 0 {
		t.Fatalf("no vault should be persisted after validation failures, hi=%d", hi)
	}
}

func TestCreateVaultRequiresFeedForPriceConditions(t *testing.T) {
	store, ledger, _, clk := newTestStore(t)
	ctx := context.Background()

	store.SetAssetSupported("BTC", true)
	ledger.Credit("BTC", "alice", decimal.NewFromInt(10))

	_, err := store.CreateVault(ctx, "alice", "BTC", decimal.NewFromInt(1), clk.Now().Add(time.Hour), decimal.New(40_000, 8), TimeOrPrice)
	if !errors.Is(err, ErrNoPriceFeed) {
		t.Fatalf("want ErrNoPriceFeed, got %v", err)
	}
}

func TestCreateVaultPullFailurePersistsNothing(t *testing.T) {
	prices := &stubPrices{feeds: map[string]oracle.FeedConfig{}}
	store := NewStore(&failingGateway{pullErr: gateway.ErrTransferFailed}, prices, noopLogger())
	store.SetAssetSupported("ETH", true)

	_, err := store.CreateVault(context.Background(), "alice", "ETH", decimal.NewFromInt(1), time.Now().Add(time.Hour), decimal.Zero, TimeOnly)
	if !errors.Is(err, gateway.ErrTransferFailed) {
		t.Fatalf("want transfer failure, got %v", err)
	}
	if _, hi := store.IDRange(); hi != 0 {
		t.Fatal("failed pull must not persist a vault")
	}
}

func TestWithdrawTimeLockedVault(t *testing.T) {
	store, ledger, _, clk := newTestStore(t)
	ctx := context.Background()

	amount := decimal.NewFromInt(1_000_000)
	id, err := store.CreateVault(ctx, "alice", "ETH", amount, clk.Now().Add(3600*time.Second), decimal.Zero, TimeOnly)
	if err != nil {
		t.Fatalf("CreateVault should succeed: %v", err)
	}

	if _, err := store.Withdraw(ctx, id, "alice"); !errors.Is(err, ErrConditionsNotMet) {
		t.Fatalf("withdraw before unlock should fail with ErrConditionsNotMet, got %v", err)
	}

	clk.Advance(3601 * time.Second)

	payout, err := store.Withdraw(ctx, id, "alice")
	if err != nil {
		t.Fatalf("withdraw after unlock should succeed: %v", err)
	}
	if !payout.Equal(amount) {
		t.Fatalf("payout should be %s, got %s", amount, payout)
	}

	v, _ := store.GetVault(id)
	if v.Status != StatusWithdrawn {
		t.Fatalf("vault should be Withdrawn, got %s", v.Status)
	}
	if !v.Amount.IsZero() {
		t.Fatalf("withdrawn vault must have zero amount, got %s", v.Amount)
	}
	if !ledger.Balance("ETH", "alice").Equal(decimal.NewFromInt(10_000_000)) {
		t.Fatalf("funds should be back with the owner, balance %s", ledger.Balance("ETH", "alice"))
	}

	if _, err := store.Withdraw(ctx, id, "alice"); !errors.Is(err, ErrVaultNotActive) {
		t.Fatalf("terminal vault must reject further withdrawal, got %v", err)
	}
}

func TestWithdrawAuthorization(t *testing.T) {
	store, _, _, clk := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateVault(ctx, "alice", "ETH", decimal.NewFromInt(5), clk.Now().Add(time.Hour), decimal.Zero, TimeOnly)
	if err != nil {
		t.Fatalf("CreateVault should succeed: %v", err)
	}

	if _, err := store.Withdraw(ctx, id, "mallory"); !errors.Is(err, ErrNotVaultOwner) {
		t.Fatalf("want ErrNotVaultOwner, got %v", err)
	}
	if _, err := store.Withdraw(ctx, 999, "alice"); !errors.Is(err, ErrVaultNotFound) {
		t.Fatalf("want ErrVaultNotFound, got %v", err)
	}
}

func TestWithdrawTransferFailureRestoresState(t *testing.T) {
	prices := &stubPrices{feeds: map[string]oracle.FeedConfig{}}
	gw := &failingGateway{transferErr: gateway.ErrTransferFailed}
	clk := &testClock{now: time.Unix(1_700_000_000, 0)}

	store := NewStore(gw, prices, noopLogger())
	store.SetClock(clk.Now)
	store.SetAssetSupported("ETH", true)

	amount := decimal.NewFromInt(77)
	id, err := store.CreateVault(context.Background(), "alice", "ETH", amount, clk.Now().Add(time.Minute), decimal.Zero, TimeOnly)
	if err != nil {
		t.Fatalf("CreateVault should succeed: %v", err)
	}

	clk.Advance(2 * time.Minute)

	if _, err := store.Withdraw(context.Background(), id, "alice"); !errors.Is(err, gateway.ErrTransferFailed) {
		t.Fatalf("want transfer failure, got %v", err)
	}

	v, _ := store.GetVault(id)
	if v.Status == StatusWithdrawn {
		t.Fatal("failed transfer must not leave the vault terminal")
	}
	if !v.Amount.Equal(amount) {
		t.Fatalf("failed transfer must restore the amount, got %s", v.Amount)
	}

	// the whole call can be retried once the gateway recovers
	gw.transferErr = nil
	payout, err := store.Withdraw(context.Background(), id, "alice")
	if err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if !payout.Equal(amount) {
		t.Fatalf("retry payout mismatch: %s", payout)
	}
}

func TestPauseRejectsMutationsOnly(t *testing.T) {
	store, _, _, clk := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateVault(ctx, "alice", "ETH", decimal.NewFromInt(1), clk.Now().Add(time.Hour), decimal.Zero, TimeOnly)
	if err != nil {
		t.Fatalf("CreateVault should succeed: %v", err)
	}

	store.Pause()

	if _, err := store.CreateVault(ctx, "alice", "ETH", decimal.NewFromInt(1), clk.Now().Add(time.Hour), decimal.Zero, TimeOnly); !errors.Is(err, ErrPaused) {
		t.Fatalf("create while paused should fail with ErrPaused, got %v", err)
	}
	if _, err := store.Withdraw(ctx, id, "alice"); !errors.Is(err, ErrPaused) {
		t.Fatalf("withdraw while paused should fail with ErrPaused, got %v", err)
	}
	if err := store.CheckMutable(); !errors.Is(err, ErrPaused) {
		t.Fatalf("CheckMutable should report ErrPaused, got %v", err)
	}

	if _, ok := store.GetVault(id); !ok {
		t.Fatal("reads must stay available while paused")
	}

	store.Unpause()
	if err := store.CheckMutable(); err != nil {
		t.Fatalf("unpaused engine should be mutable: %v", err)
	}
}

func TestWithdrawPriceConditionUsesOracle(t *testing.T) {
	store, _, prices, clk := newTestStore(t)
	ctx := context.Background()

	target := decimal.New(2500, 8)
	id, err := store.CreateVault(ctx, "alice", "ETH", decimal.NewFromInt(10), time.Time{}, target, PriceOnly)
	if err != nil {
		t.Fatalf("CreateVault should succeed: %v", err)
	}

	prices.readings["ETH"] = oracle.Reading{Value: decimal.New(2000, 8), UpdatedAt: clk.Now(), Valid: true}
	if _, err := store.Withdraw(ctx, id, "alice"); !errors.Is(err, ErrConditionsNotMet) {
		t.Fatalf("below-target price should not unlock, got %v", err)
	}

	prices.readings["ETH"] = oracle.Reading{Value: decimal.New(2500, 8), UpdatedAt: clk.Now(), Valid: true}
	if _, err := store.Withdraw(ctx, id, "alice"); err != nil {
		t.Fatalf("at-target price should unlock: %v", err)
	}
}

func TestTryUnlockRevalidatesAndIsIdempotent(t *testing.T) {
	store, _, prices, clk := newTestStore(t)
	ctx := context.Background()

	target := decimal.New(2500, 8)
	id, err := store.CreateVault(ctx, "alice", "ETH", decimal.NewFromInt(10), time.Time{}, target, PriceOnly)
	if err != nil {
		t.Fatalf("CreateVault should succeed: %v", err)
	}

	if store.TryUnlock(ctx, id, "automated unlock") {
		t.Fatal("conditions do not hold yet; TryUnlock should skip")
	}

	prices.readings["ETH"] = oracle.Reading{Value: target, UpdatedAt: clk.Now(), Valid: true}
	if !store.TryUnlock(ctx, id, "automated unlock") {
		t.Fatal("TryUnlock should flip a qualifying vault")
	}

	v, _ := store.GetVault(id)
	if v.Status != StatusUnlocked || v.UnlockReason != "automated unlock" {
		t.Fatalf("unexpected state after unlock: %+v", v)
	}

	if store.TryUnlock(ctx, id, "automated unlock") {
		t.Fatal("second TryUnlock on the same vault should be a no-op")
	}
}
