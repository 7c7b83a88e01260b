package exchange

import (
	"context"

	"tradegate/internal/model"
)

// Ack is the exchange's synchronous answer to a submission.
type Ack struct {
	OrderRef string
	Accepted bool
	Reason   string
}

// Gateway speaks the exchange wire protocol. The real protocol lives
// outside this core; implementations are injected.
type Gateway interface {
	Submit(ctx context.Context, order model.Order) (Ack, error)
	Cancel(ctx context.Context, orderRef string) error
}

// FillHandler receives trade fills reported by the exchange.
type FillHandler func(model.Trade)
