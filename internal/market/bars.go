package market

import (
	"time"

	"tradegate/internal/model"
)

// barBuilder accumulates ticks into one open bar per interval. Owned by
// a single shard worker; no internal locking.
type barBuilder struct {
	interval time.Duration
	open     bool
	bar      model.Bar
}

func newBarBuilder(symbol string, interval time.Duration) *barBuilder {
	return &barBuilder{
		interval: interval,
		bar:      model.Bar{Symbol: symbol, Interval: interval},
	}
}

// apply folds a tick into the builder. When the tick crosses the bar
// boundary the completed bar is returned and a new one starts.
func (b *barBuilder) apply(tick model.Tick) (completed *model.Bar) {
	start := tick.Timestamp.Truncate(b.interval)

	if b.open && start.After(b.bar.Start) {
		done := b.bar
		completed = &done
		b.open = false
	}

	if !b.open {
		b.open = true
		b.bar = model.Bar{
			Symbol:   b.bar.Symbol,
			Interval: b.interval,
			Open:     tick.LastPrice,
			High:     tick.LastPrice,
			Low:      tick.LastPrice,
			Close:    tick.LastPrice,
			Volume:   tick.Volume,
			Turnover: tick.Turnover,
			Start:    start,
			End:      start.Add(b.interval),
		}
		return completed
	}

	if tick.LastPrice > b.bar.High {
		b.bar.High = tick.LastPrice
	}
	if tick.LastPrice < b.bar.Low {
		b.bar.Low = tick.LastPrice
	}
	b.bar.Close = tick.LastPrice
	b.bar.Volume += tick.Volume
	b.bar.Turnover += tick.Turnover
	return completed
}
