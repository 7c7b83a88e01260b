package persist

import (
	"context"
	"sync"

	"tradegate/internal/model"
)

// Memory is an in-process Store for tests and standalone runs.
type Memory struct {
	mu     sync.Mutex
	orders map[string]model.Order
	trades []model.Trade
	ticks  []model.Tick
	depths []model.Depth
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{orders: make(map[string]model.Order)}
}

func (m *Memory) SaveOrder(ctx context.Context, order model.Order) error {
	m.mu.Lock()
	m.orders[order.OrderRef] = order
	m.mu.Unlock()
	return nil
}

func (m *Memory) SaveTrade(ctx context.Context, trade model.Trade) error {
	m.mu.Lock()
	m.trades = append(m.trades, trade)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SaveTick(ctx context.Context, tick model.Tick) error {
	m.mu.Lock()
	m.ticks = append(m.ticks, tick)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SaveDepth(ctx context.Context, depth model.Depth) error {
	m.mu.Lock()
	m.depths = append(m.depths, depth)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Orders(ctx context.Context, userID string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Order, 0, len(m.orders))
	for _, order := range m.orders {
		if order.UserID == userID {
			out = append(out, order)
		}
	}
	return out, nil
}

// Ticks returns a copy of every saved tick.
func (m *Memory) Ticks() []model.Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Tick, len(m.ticks))
	copy(out, m.ticks)
	return out
}

// Trades returns a copy of every saved trade.
func (m *Memory) Trades() []model.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Trade, len(m.trades))
	copy(out, m.trades)
	return out
}
