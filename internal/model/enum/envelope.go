package enum

// EnvelopeType labels the payload of a push envelope.
type EnvelopeType string

const (
	EnvelopeTick        EnvelopeType = "tick"
	EnvelopeBar         EnvelopeType = "bar"
	EnvelopeDepth       EnvelopeType = "depth"
	EnvelopeOrderUpdate EnvelopeType = "order_update"
	EnvelopeTradeUpdate EnvelopeType = "trade_update"
)

func (t EnvelopeType) IsAvailable() bool {
	switch t {
	case EnvelopeTick, EnvelopeBar, EnvelopeDepth, EnvelopeOrderUpdate, EnvelopeTradeUpdate:
		return true
	default:
		return false
	}
}
