package model

import "time"

// Tick is one market data update for a symbol.
type Tick struct {
	Symbol    string
	Exchange  string
	LastPrice float64
	Volume    int64
	Turnover  float64
	BidPrice  float64
	BidVolume int64
	AskPrice  float64
	AskVolume int64
	Timestamp time.Time
}

// PriceLevel is one row of an order book side.
type PriceLevel struct {
	Price  float64
	Volume int64
}

// Depth is an order book update. Depth updates are broadcast but never
// feed bar aggregation.
type Depth struct {
	Symbol    string
	Exchange  string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// Bar is an OHLCV aggregate over a fixed interval, derived from ticks.
type Bar struct {
	Symbol   string
	Interval time.Duration
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	Turnover float64
	Start    time.Time
	End      time.Time
}
