package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/model"
	"tradegate/internal/model/enum"
)

func TestMemoryOrderUpsert(t *testing.T) {
	m := NewMemory()

	order := model.Order{OrderRef: "gw-1", UserID: "u1", Status: enum.OrderStatusPending}
	require.NoError(t, m.SaveOrder(t.Context(), order))

	order.Status = enum.OrderStatusSubmitted
	require.NoError(t, m.SaveOrder(t.Context(), order))

	orders, err := m.Orders(t.Context(), "u1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, enum.OrderStatusSubmitted, orders[0].Status)

	orders, err = m.Orders(t.Context(), "u2")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestMemoryTradesAndTicks(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.SaveTrade(t.Context(), model.Trade{TradeID: "t-1", OrderRef: "gw-1"}))
	require.NoError(t, m.SaveTrade(t.Context(), model.Trade{TradeID: "t-2", OrderRef: "gw-1"}))
	require.NoError(t, m.SaveTick(t.Context(), model.Tick{Symbol: "rb2501", LastPrice: 100}))

	assert.Len(t, m.Trades(), 2)
	assert.Len(t, m.Ticks(), 1)
}
