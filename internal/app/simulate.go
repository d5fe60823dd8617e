package app

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"vault-keeper/internal/gateway"
	"vault-keeper/internal/oracle"
	"vault-keeper/internal/vault"
)

// Simulate walks one full custody lifecycle against an in-memory engine: a
// price-conditioned vault that unlocks through the automation path, and a
// time-locked vault released early through the emergency path.
func (a *App) Simulate(ctx context.Context) error {
	const (
		asset = "ETH"
		owner = "alice"
	)

	feed := &staticFeed{answer: big.NewInt(2000e8), decimals: 8}
	engine, err := a.newEngineForSimulation(ctx, feed, asset)
	if err != nil {
		return err
	}

	ledger := engine.Gateway.(*gateway.Ledger)
	ledger.Credit(asset, owner, decimal.NewFromInt(1500))

	out := os.Stdout

	priceVault, err := engine.Store.CreateVault(ctx, owner, asset, decimal.NewFromInt(1000), time.Time{}, decimal.New(2500, oracle.CanonicalDecimals), vault.PriceOnly)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created price vault #%d (target 2500, feed at 2000)\n", priceVault)

	timeVault, err := engine.Store.CreateVault(ctx, owner, asset, decimal.NewFromInt(500), time.Now().Add(24*time.Hour), decimal.Zero, vault.TimeOnly)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created time vault #%d (unlocks in 24h)\n", timeVault)

	if _, err := engine.Store.Withdraw(ctx, priceVault, owner); err != nil {
		fmt.Fprintf(out, "withdraw before target: %v\n", err)
	}

	feed.set(big.NewInt(2600e8))
	fmt.Fprintln(out, "feed moved to 2600")

	needed, ready := engine.Scanner.Scan(ctx, 0, 0, 0)
	fmt.Fprintf(out, "scan: needed=%t ready=%v\n", needed, ready)

	result, err := engine.Scanner.Apply(ctx, ready)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "apply: checked=%d unlocked=%d\n", result.Checked, result.Unlocked)

	payout, err := engine.Store.Withdraw(ctx, priceVault, owner)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "withdrew vault #%d: %s %s\n", priceVault, payout, asset)

	payout, err = engine.Ledger.EmergencyExit(ctx, timeVault, owner)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "emergency exit on vault #%d: payout %s %s\n", timeVault, payout, asset)

	if pool, ok := engine.Ledger.PoolFor(owner); ok {
		fmt.Fprintf(out, "penalty pool for %s: %s %s, claimable after %s\n",
			owner, pool.Amount, asset, pool.PenaltyTime.Add(engine.Ledger.ClaimDelay()).UTC().Format(time.RFC3339))
	}

	if _, err := engine.Ledger.ClaimPenalty(ctx, owner); err != nil {
		fmt.Fprintf(out, "claim before delay: %v\n", err)
	}

	fmt.Fprintf(out, "final balance for %s: %s %s\n", owner, ledger.Balance(asset, owner), asset)
	return nil
}

// newEngineForSimulation wires an engine with the static feed regardless of
// what the config registers.
func (a *App) newEngineForSimulation(ctx context.Context, feed *staticFeed, asset string) (*Engine, error) {
	engine, err := a.newEngine(ctx, gateway.NewLedger(), feed)
	if err != nil {
		return nil, err
	}

	engine.Store.SetAssetSupported(asset, true)
	err = engine.Prices.SetPriceFeed(ctx, asset, oracle.FeedConfig{
		Handle:    "simulated",
		Heartbeat: time.Hour,
	})
	if err != nil {
		return nil, err
	}
	return engine, nil
}

type staticFeed struct {
	mu       sync.Mutex
	answer   *big.Int
	decimals uint8
}

func (f *staticFeed) set(answer *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer = answer
}

func (f *staticFeed) QueryFeed(ctx context.Context, handle string) (oracle.RoundData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return oracle.RoundData{
		Answer:    new(big.Int).Set(f.answer),
		UpdatedAt: time.Now().UTC(),
		Decimals:  f.decimals,
	}, nil
}

var _ oracle.Querier = (*staticFeed)(nil)
