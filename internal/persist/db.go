package persist

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"tradegate/internal/model"
	"tradegate/internal/model/enum"
	"tradegate/pkg/conn"
	"tradegate/pkg/exception"
)

type orderRow struct {
	OrderRef     string  `gorm:"primaryKey;size:64"`
	UserID       string  `gorm:"index;size:64"`
	Symbol       string  `gorm:"size:32"`
	Exchange     string  `gorm:"size:32"`
	Direction    uint8   `gorm:""`
	Offset       uint8   `gorm:""`
	Price        float64 `gorm:""`
	VolumeTotal  int64   `gorm:""`
	VolumeTraded int64   `gorm:""`
	Status       uint8   `gorm:""`
	Reason       string  `gorm:"size:256"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (orderRow) TableName() string { return "orders" }

type tradeRow struct {
	TradeID    string  `gorm:"primaryKey;size:64"`
	OrderRef   string  `gorm:"index;size:64"`
	UserID     string  `gorm:"index;size:64"`
	Symbol     string  `gorm:"size:32"`
	Exchange   string  `gorm:"size:32"`
	Direction  uint8   `gorm:""`
	Offset     uint8   `gorm:""`
	Volume     int64   `gorm:""`
	Price      float64 `gorm:""`
	Commission float64 `gorm:""`
	Timestamp  time.Time
}

func (tradeRow) TableName() string { return "trades" }

type tickRow struct {
	ID        uint64  `gorm:"primaryKey;autoIncrement"`
	Symbol    string  `gorm:"index;size:32"`
	Exchange  string  `gorm:"size:32"`
	LastPrice float64 `gorm:""`
	Volume    int64   `gorm:""`
	Turnover  float64 `gorm:""`
	BidPrice  float64 `gorm:""`
	BidVolume int64   `gorm:""`
	AskPrice  float64 `gorm:""`
	AskVolume int64   `gorm:""`
	Timestamp time.Time
}

func (tickRow) TableName() string { return "ticks" }

// DB is the PostgreSQL-backed Store.
type DB struct {
	client *conn.Client
}

// NewDB wraps an open connection and migrates the schema.
func NewDB(client *conn.Client) (*DB, error) {
	if client == nil || client.DB() == nil {
		return nil, exception.ErrNilInstance
	}
	if err := client.DB().AutoMigrate(&orderRow{}, &tradeRow{}, &tickRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &DB{client: client}, nil
}

func (d *DB) SaveOrder(ctx context.Context, order model.Order) error {
	row := orderRow{
		OrderRef:     order.OrderRef,
		UserID:       order.UserID,
		Symbol:       order.Symbol,
		Exchange:     order.Exchange,
		Direction:    uint8(order.Direction),
		Offset:       uint8(order.Offset),
		Price:        order.Price,
		VolumeTotal:  order.VolumeTotal,
		VolumeTraded: order.VolumeTraded,
		Status:       uint8(order.Status),
		Reason:       order.Reason,
		CreatedAt:    order.CreatedAt,
		UpdatedAt:    order.UpdatedAt,
	}
	err := d.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("%w: %v", exception.ErrPersistence, err)
	}
	return nil
}

func (d *DB) SaveTrade(ctx context.Context, trade model.Trade) error {
	row := tradeRow{
		TradeID:    trade.TradeID,
		OrderRef:   trade.OrderRef,
		UserID:     trade.UserID,
		Symbol:     trade.Symbol,
		Exchange:   trade.Exchange,
		Direction:  uint8(trade.Direction),
		Offset:     uint8(trade.Offset),
		Volume:     trade.Volume,
		Price:      trade.Price,
		Commission: trade.Commission,
		Timestamp:  trade.Timestamp,
	}
	err := d.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("%w: %v", exception.ErrPersistence, err)
	}
	return nil
}

func (d *DB) SaveTick(ctx context.Context, tick model.Tick) error {
	row := tickRow{
		Symbol:    tick.Symbol,
		Exchange:  tick.Exchange,
		LastPrice: tick.LastPrice,
		Volume:    tick.Volume,
		Turnover:  tick.Turnover,
		BidPrice:  tick.BidPrice,
		BidVolume: tick.BidVolume,
		AskPrice:  tick.AskPrice,
		AskVolume: tick.AskVolume,
		Timestamp: tick.Timestamp,
	}
	if err := d.client.DB().WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: %v", exception.ErrPersistence, err)
	}
	return nil
}

// SaveDepth stores only the top of book; full depth rows stay in memory.
func (d *DB) SaveDepth(ctx context.Context, depth model.Depth) error {
	tick := model.Tick{
		Symbol:    depth.Symbol,
		Exchange:  depth.Exchange,
		Timestamp: depth.Timestamp,
	}
	if len(depth.Bids) != 0 {
		tick.BidPrice = depth.Bids[0].Price
		tick.BidVolume = depth.Bids[0].Volume
	}
	if len(depth.Asks) != 0 {
		tick.AskPrice = depth.Asks[0].Price
		tick.AskVolume = depth.Asks[0].Volume
	}
	return d.SaveTick(ctx, tick)
}

func (d *DB) Orders(ctx context.Context, userID string) ([]model.Order, error) {
	var rows []orderRow
	err := d.client.DB().WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", exception.ErrPersistence, err)
	}

	out := make([]model.Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.Order{
			OrderRef:     row.OrderRef,
			UserID:       row.UserID,
			Symbol:       row.Symbol,
			Exchange:     row.Exchange,
			Direction:    enum.Direction(row.Direction),
			Offset:       enum.Offset(row.Offset),
			Price:        row.Price,
			VolumeTotal:  row.VolumeTotal,
			VolumeTraded: row.VolumeTraded,
			Status:       enum.OrderStatus(row.Status),
			Reason:       row.Reason,
			CreatedAt:    row.CreatedAt,
			UpdatedAt:    row.UpdatedAt,
		})
	}
	return out, nil
}
