package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrTransferFailed indicates the external value transfer did not complete.
// Callers treat it as fatal to the whole operation and must retry the entire call.
var ErrTransferFailed = errors.New("gateway: transfer failed")

// AssetTransferGateway moves value in and out of custody on behalf of the engine.
// Pull is invoked at vault creation, Transfer at withdrawal, emergency exit, and
// penalty claim. Implementations must leave no partial state visible on failure.
type AssetTransferGateway interface {
	Pull(ctx context.Context, asset, from string, amount decimal.Decimal) error
	Transfer(ctx context.Context, asset, to string, amount decimal.Decimal) error
}
