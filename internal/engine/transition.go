package engine

import (
	"fmt"

	"tradegate/internal/model/enum"
	"tradegate/pkg/exception"
)

// transitions is the complete order state graph. Any pair not present
// here is forbidden; terminal states have no outgoing edges.
var transitions = map[enum.OrderStatus][]enum.OrderStatus{
	enum.OrderStatusPending:    {enum.OrderStatusSubmitting},
	enum.OrderStatusSubmitting: {enum.OrderStatusSubmitted, enum.OrderStatusRejected},
	enum.OrderStatusSubmitted: {
		enum.OrderStatusPartialFilled,
		enum.OrderStatusAllFilled,
		enum.OrderStatusCancelled,
		enum.OrderStatusRejected,
	},
	enum.OrderStatusPartialFilled: {enum.OrderStatusAllFilled, enum.OrderStatusCancelled},
}

// canTransition reports whether from -> to is in the table.
func canTransition(from, to enum.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition validates and applies a status change on a held order
// state. The caller must hold st.mu.
func transition(st *orderState, to enum.OrderStatus) error {
	from := st.order.Status
	if !canTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, exception.ErrInvalidTransition)
	}
	st.order.Status = to
	st.order.UpdatedAt = nowFn()
	return nil
}
