package risk

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"tradegate/internal/model"
	"tradegate/pkg/exception"
)

// Checker evaluates an order request before any order is created.
type Checker interface {
	Check(userID string, req model.OrderRequest) error
}

// PositionView reports the current signed position for a (user, symbol)
// key. Injected so the risk engine never reaches into engine state.
type PositionView func(userID, symbol string) int64

// Config defines static risk limits.
type Config struct {
	KillSwitch       bool
	MaxOrderVolume   int64
	MaxOrderNotional float64
	MaxPosition      int64
	OrderRate        rate.Limit
	OrderBurst       int
}

// Engine applies simple pre-trade checks with per-user rate limiting.
type Engine struct {
	cfg       Config
	positions PositionView

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config, positions PositionView) *Engine {
	return &Engine{
		cfg:       cfg,
		positions: positions,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Check returns nil when the request passes every limit. Denials wrap
// exception.ErrRiskRejected with the reason.
func (e *Engine) Check(userID string, req model.OrderRequest) error {
	if req.Symbol == "" || req.Volume <= 0 || req.Price < 0 ||
		!req.Direction.IsAvailable() || !req.Offset.IsAvailable() {
		return exception.ErrValidation
	}

	if e.cfg.KillSwitch {
		return fmt.Errorf("kill switch engaged: %w", exception.ErrRiskRejected)
	}

	if e.cfg.OrderRate > 0 && !e.limiter(userID).Allow() {
		return fmt.Errorf("order rate limit: %w", exception.ErrRiskRejected)
	}

	if e.cfg.MaxOrderVolume > 0 && req.Volume > e.cfg.MaxOrderVolume {
		return fmt.Errorf("max order volume: %w", exception.ErrRiskRejected)
	}

	if e.cfg.MaxOrderNotional > 0 && req.Price*float64(req.Volume) > e.cfg.MaxOrderNotional {
		return fmt.Errorf("max order notional: %w", exception.ErrRiskRejected)
	}

	if e.cfg.MaxPosition > 0 && e.positions != nil {
		current := e.positions(userID, req.Symbol)
		delta := req.Direction.Sign() * req.Volume
		if abs(current+delta) > e.cfg.MaxPosition {
			return fmt.Errorf("position limit: %w", exception.ErrRiskRejected)
		}
	}

	return nil
}

func (e *Engine) limiter(userID string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[userID]
	if !ok {
		burst := e.cfg.OrderBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(e.cfg.OrderRate, burst)
		e.limiters[userID] = l
	}
	return l
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
