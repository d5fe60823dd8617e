package vault

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ConditionType is the boolean combinator over the time and price sub-conditions.
type ConditionType int

const (
	TimeOnly ConditionType = iota
	PriceOnly
	TimeOrPrice
	TimeAndPrice
)

// UsesTime reports whether the condition carries a time sub-threshold.
func (c ConditionType) UsesTime() bool {
	return c == TimeOnly || c == TimeOrPrice || c == TimeAndPrice
}

// UsesPrice reports whether the condition carries a price sub-threshold.
func (c ConditionType) UsesPrice() bool {
	return c == PriceOnly || c == TimeOrPrice || c == TimeAndPrice
}

func (c ConditionType) String() string {
	switch c {
	case TimeOnly:
		return "time_only"
	case PriceOnly:
		return "price_only"
	case TimeOrPrice:
		return "time_or_price"
	case TimeAndPrice:
		return "time_and_price"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a vault. Withdrawn is terminal for both the
// normal and the emergency path; terminal rows are retained for audit and never
// mutated again.
type Status int

const (
	StatusActive Status = iota
	StatusUnlocked
	StatusWithdrawn
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusUnlocked:
		return "unlocked"
	case StatusWithdrawn:
		return "withdrawn"
	default:
		return "unknown"
	}
}

// Vault is a single locked deposit. Terms are immutable after creation; only
// Amount, Status, and UnlockReason change, and only through the store.
type Vault struct {
	ID           uint64
	Owner        string
	Asset        string
	Amount       decimal.Decimal
	UnlockTime   time.Time
	TargetPrice  decimal.Decimal
	Condition    ConditionType
	Status       Status
	UnlockReason string
	CreatedAt    time.Time
}

var (
	// ErrPaused rejects every mutating operation while the engine is paused.
	ErrPaused = errors.New("vault: engine paused")
	// ErrVaultNotFound indicates no vault exists under the given id.
	ErrVaultNotFound = errors.New("vault: not found")
	// ErrVaultBusy indicates another release is in progress for the vault.
	ErrVaultBusy = errors.New("vault: operation in progress")
	// ErrNotVaultOwner rejects callers other than the vault owner.
	ErrNotVaultOwner = errors.New("vault: caller is not the owner")
	// ErrConditionsNotMet indicates the unlock condition does not hold yet.
	ErrConditionsNotMet = errors.New("vault: conditions not met")
	// ErrVaultNotActive rejects operations that require an Active vault.
	ErrVaultNotActive = errors.New("vault: not active")
	// ErrUnsupportedAsset rejects deposits in unregistered assets.
	ErrUnsupportedAsset = errors.New("vault: asset not supported")
	// ErrZeroAmount rejects empty deposits.
	ErrZeroAmount = errors.New("vault: amount must be positive")
	// ErrUnlockTimeNotFuture rejects time thresholds that are not strictly in the future.
	ErrUnlockTimeNotFuture = errors.New("vault: unlock time must be in the future")
	// ErrZeroTargetPrice rejects zero price thresholds.
	ErrZeroTargetPrice = errors.New("vault: target price must be positive")
	// ErrNoPriceFeed rejects price conditions on assets without a registered feed.
	ErrNoPriceFeed = errors.New("vault: no price feed for asset")
)
