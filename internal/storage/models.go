package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot is one journaled oracle observation taken during an upkeep
// cycle. Invalid readings are journaled too; they explain why a scan skipped
// a price-conditioned vault.
type PriceSnapshot struct {
	ID            int64
	Asset         string
	Value         decimal.Decimal
	FeedUpdatedAt *time.Time
	Valid         bool
	CycleID       string
	ObservedAt    time.Time
}

// UpkeepRun records the outcome of one scan/apply cycle for auditing.
type UpkeepRun struct {
	ID       int64
	CycleID  string
	Checked  int
	Unlocked int
	RanAt    time.Time
}
