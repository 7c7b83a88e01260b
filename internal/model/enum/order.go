package enum

// Direction buy, sell
type Direction uint8

const (
	_direction_beg Direction = iota
	DirectionBuy
	DirectionSell
	_direction_end
)

func (d Direction) IsAvailable() bool {
	return d > _direction_beg && d < _direction_end
}

// Sign returns +1 for buy and -1 for sell.
func (d Direction) Sign() int64 {
	if d == DirectionSell {
		return -1
	}
	return 1
}

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "buy"
	case DirectionSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Offset open, close, close today, close yesterday
type Offset uint8

const (
	_offset_beg Offset = iota
	OffsetOpen
	OffsetClose
	OffsetCloseToday
	OffsetCloseYesterday
	_offset_end
)

func (o Offset) IsAvailable() bool {
	return o > _offset_beg && o < _offset_end
}

// IsClose reports whether the offset reduces an existing position.
// Close-today and close-yesterday net the same way as close; per-lot
// tracking is not implemented.
func (o Offset) IsClose() bool {
	switch o {
	case OffsetClose, OffsetCloseToday, OffsetCloseYesterday:
		return true
	default:
		return false
	}
}

func (o Offset) String() string {
	switch o {
	case OffsetOpen:
		return "open"
	case OffsetClose:
		return "close"
	case OffsetCloseToday:
		return "close_today"
	case OffsetCloseYesterday:
		return "close_yesterday"
	default:
		return "unknown"
	}
}

// OrderStatus pending, submitting, submitted, partial filled, all filled, cancelled, rejected
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusPending
	OrderStatusSubmitting
	OrderStatusSubmitted
	OrderStatusPartialFilled
	OrderStatusAllFilled
	OrderStatusCancelled
	OrderStatusRejected
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

// IsTerminal reports whether no further transition is valid.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusAllFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "pending"
	case OrderStatusSubmitting:
		return "submitting"
	case OrderStatusSubmitted:
		return "submitted"
	case OrderStatusPartialFilled:
		return "partial_filled"
	case OrderStatusAllFilled:
		return "all_filled"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}
