package engine

import (
	"sync"

	"tradegate/internal/model"
)

type posKey struct {
	userID string
	symbol string
}

// positionState serializes mutation of one (user, symbol) position.
type positionState struct {
	mu  sync.Mutex
	pos model.Position
}

// net folds a trade into the position. The caller must hold st.mu.
//
// delta is the signed volume of the trade: positive for buy, negative
// for sell. Adding to a same-sign position moves the cost basis to the
// volume-weighted average; reducing leaves it unchanged; crossing zero
// opens a fresh lot at the trade price; going flat resets the price.
func net(pos *model.Position, delta int64, price float64) {
	old := pos.Volume
	switch {
	case old == 0:
		pos.Volume = delta
		pos.Price = price
	case (old > 0) == (delta > 0):
		oldAbs, deltaAbs := absVolume(old), absVolume(delta)
		pos.Price = (float64(oldAbs)*pos.Price + float64(deltaAbs)*price) / float64(oldAbs+deltaAbs)
		pos.Volume = old + delta
	default:
		next := old + delta
		switch {
		case next == 0:
			pos.Volume = 0
			pos.Price = 0
		case (next > 0) != (old > 0):
			pos.Volume = next
			pos.Price = price
		default:
			pos.Volume = next
		}
	}
}

func absVolume(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
