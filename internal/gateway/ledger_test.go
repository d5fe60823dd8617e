package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPullMovesFundsIntoCustody(t *testing.T) {
	l := NewLedger()
	l.Credit("ETH", "alice", decimal.NewFromInt(100))

	if err := l.Pull(context.Background(), "ETH", "alice", decimal.NewFromInt(40)); err != nil {
		t.Fatalf("Pull should succeed: %v", err)
	}
	if bal := l.Balance("ETH", "alice"); !bal.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("want alice balance 60, got %s", bal)
	}
	if bal := l.Balance("ETH", CustodyAccount); !bal.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("want custody balance 40, got %s", bal)
	}
}

func TestPullInsufficientFunds(t *testing.T) {
	l := NewLedger()
	l.Credit("ETH", "alice", decimal.NewFromInt(10))

	err := l.Pull(context.Background(), "ETH", "alice", decimal.NewFromInt(40))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("overdraft pull should fail with ErrTransferFailed, got %v", err)
	}
	if bal := l.Balance("ETH", "alice"); !bal.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("failed pull must not move funds, got %s", bal)
	}
	if bal := l.Balance("ETH", CustodyAccount); !bal.IsZero() {
		t.Fatalf("custody should stay empty, got %s", bal)
	}
}

func TestTransferReleasesFromCustody(t *testing.T) {
	l := NewLedger()
	l.Credit("ETH", "alice", decimal.NewFromInt(100))
	if err := l.Pull(context.Background(), "ETH", "alice", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("Pull should succeed: %v", err)
	}

	if err := l.Transfer(context.Background(), "ETH", "bob", decimal.NewFromInt(30)); err != nil {
		t.Fatalf("Transfer should succeed: %v", err)
	}
	if bal := l.Balance("ETH", "bob"); !bal.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("want bob balance 30, got %s", bal)
	}
	if bal := l.Balance("ETH", CustodyAccount); !bal.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("want custody balance 70, got %s", bal)
	}

	err := l.Transfer(context.Background(), "ETH", "bob", decimal.NewFromInt(100))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("custody overdraft should fail with ErrTransferFailed, got %v", err)
	}
}

func TestBalancesAreScopedByAsset(t *testing.T) {
	l := NewLedger()
	l.Credit("ETH", "alice", decimal.NewFromInt(5))
	l.Credit("BTC", "alice", decimal.NewFromInt(7))

	if bal := l.Balance("ETH", "alice"); !bal.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("want 5 ETH, got %s", bal)
	}
	if bal := l.Balance("BTC", "alice"); !bal.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("want 7 BTC, got %s", bal)
	}
	if bal := l.Balance("ETH", "bob"); !bal.IsZero() {
		t.Fatalf("unknown account should be zero, got %s", bal)
	}
}
