package vault

import (
	"context"
	"time"

	"vault-keeper/internal/oracle"
)

// PriceSource is the slice of the oracle adapter the vault engine consumes.
type PriceSource interface {
	GetPrice(ctx context.Context, asset string) oracle.Reading
	FeedFor(asset string) (oracle.FeedConfig, bool)
}

// Satisfied is the pure unlock decision for a vault given the current time and
// a price reading. An invalid reading makes the price sub-condition false; it
// never produces an error, so batch evaluation stays total.
func Satisfied(v Vault, now time.Time, price oracle.Reading) bool {
	timeOK := !v.UnlockTime.IsZero() && !now.Before(v.UnlockTime)
	priceOK := price.Valid && !v.TargetPrice.IsZero() && price.Value.GreaterThanOrEqual(v.TargetPrice)

	switch v.Condition {
	case TimeOnly:
		return timeOK
	case PriceOnly:
		return priceOK
	case TimeOrPrice:
		return timeOK || priceOK
	case TimeAndPrice:
		return timeOK && priceOK
	default:
		return false
	}
}

// Evaluate resolves the price reading only when the condition type needs one,
// then applies Satisfied.
func Evaluate(ctx context.Context, v Vault, now time.Time, prices PriceSource) bool {
	var reading oracle.Reading
	if v.Condition.UsesPrice() && prices != nil {
		reading = prices.GetPrice(ctx, v.Asset)
	}
	return Satisfied(v, now, reading)
}
