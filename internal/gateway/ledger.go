package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger is an in-process AssetTransferGateway backed by per-account balances.
// It stands in for the production settlement rail in tests and in the simulate
// command; custody itself is tracked under the reserved account name.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

// CustodyAccount is the account that holds pulled funds.
const CustodyAccount = "custody"

// NewLedger builds an empty ledger gateway.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]decimal.Decimal)}
}

func key(asset, account string) string {
	return asset + "/" + account
}

// Credit seeds an account with funds.
func (l *Ledger) Credit(asset, account string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[key(asset, account)] = l.balance(asset, account).Add(amount)
}

// Balance reports the current balance of an account.
func (l *Ledger) Balance(asset, account string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(asset, account)
}

func (l *Ledger) balance(asset, account string) decimal.Decimal {
	if bal, ok := l.balances[key(asset, account)]; ok {
		return bal
	}
	return decimal.Zero
}

// Pull debits from and credits custody atomically.
func (l *Ledger) Pull(ctx context.Context, asset, from string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balance(asset, from)
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s, need %s", ErrTransferFailed, from, bal, asset, amount)
	}
	l.balances[key(asset, from)] = bal.Sub(amount)
	l.balances[key(asset, CustodyAccount)] = l.balance(asset, CustodyAccount).Add(amount)
	return nil
}

// Transfer debits custody and credits to atomically.
func (l *Ledger) Transfer(ctx context.Context, asset, to string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balance(asset, CustodyAccount)
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: custody has %s %s, need %s", ErrTransferFailed, bal, asset, amount)
	}
	l.balances[key(asset, CustodyAccount)] = bal.Sub(amount)
	l.balances[key(asset, to)] = l.balance(asset, to).Add(amount)
	return nil
}

var _ AssetTransferGateway = (*Ledger)(nil)
