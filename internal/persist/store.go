package persist

import (
	"context"

	"tradegate/internal/model"
)

// Store persists orders, trades and market data. Implementations must
// be safe for concurrent use; callers treat failures as non-fatal on
// the hot path.
type Store interface {
	SaveOrder(ctx context.Context, order model.Order) error
	SaveTrade(ctx context.Context, trade model.Trade) error
	SaveTick(ctx context.Context, tick model.Tick) error
	SaveDepth(ctx context.Context, depth model.Depth) error
	Orders(ctx context.Context, userID string) ([]model.Order, error)
}
