package model

import (
	"time"

	"tradegate/internal/model/enum"
)

// OrderRequest is the caller-facing order intent before any order exists.
type OrderRequest struct {
	Symbol    string
	Exchange  string
	Direction enum.Direction
	Offset    enum.Offset
	Price     float64
	Volume    int64
}

// Order tracks one order through its lifecycle. Orders are never deleted,
// only transitioned.
type Order struct {
	OrderRef     string
	UserID       string
	Symbol       string
	Exchange     string
	Direction    enum.Direction
	Offset       enum.Offset
	Price        float64
	VolumeTotal  int64
	VolumeTraded int64
	Status       enum.OrderStatus
	Reason       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Remaining returns the untraded volume.
func (o Order) Remaining() int64 {
	return o.VolumeTotal - o.VolumeTraded
}

// Trade is one fill against an order. Immutable once created.
type Trade struct {
	TradeID    string
	OrderRef   string
	UserID     string
	Symbol     string
	Exchange   string
	Direction  enum.Direction
	Offset     enum.Offset
	Volume     int64
	Price      float64
	Commission float64
	Timestamp  time.Time
}

// Position is the netted holding for one (user, symbol) key.
// Volume is signed: positive long, negative short. Price is the
// volume-weighted cost basis, zero when flat.
type Position struct {
	UserID string
	Symbol string
	Volume int64
	Price  float64
}
