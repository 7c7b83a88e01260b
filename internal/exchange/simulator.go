package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"tradegate/internal/model"
	"tradegate/internal/pool"
)

// SimulatorConfig controls the simulated exchange behavior.
type SimulatorConfig struct {
	// Latency applied to each submission round-trip.
	Latency time.Duration
	// RejectRatio in [0,1): fraction of submissions the venue rejects.
	RejectRatio float64
	// AutoFill generates fills for accepted orders: one full fill, or
	// two partials when the order volume allows a split.
	AutoFill bool
	// PartialFill splits the auto fill in two when volume > 1.
	PartialFill bool
	// AcquireTimeout bounds session acquisition from the pool.
	AcquireTimeout time.Duration
}

// Simulator is a stand-in Gateway with configurable latency and reject
// behavior. It carries no real wire semantics; the acknowledgment and
// fill-reporting contract of a live venue must come from a real Gateway
// implementation.
type Simulator struct {
	cfg      SimulatorConfig
	sessions *pool.Pool
	onFill   FillHandler

	mu     sync.Mutex
	rnd    *rand.Rand
	orders map[string]model.Order
}

// NewSimulator creates a simulator. The session pool is optional; when
// present every round-trip leases a connection from it.
func NewSimulator(cfg SimulatorConfig, sessions *pool.Pool, onFill FillHandler) *Simulator {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 3 * time.Second
	}
	return &Simulator{
		cfg:      cfg,
		sessions: sessions,
		onFill:   onFill,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		orders:   make(map[string]model.Order),
	}
}

// Submit simulates the exchange round-trip. It honors ctx cancellation
// so the caller's submission timeout is effective.
func (s *Simulator) Submit(ctx context.Context, order model.Order) (Ack, error) {
	release, err := s.lease(ctx)
	if err != nil {
		return Ack{}, fmt.Errorf("lease session: %w", err)
	}
	defer release()

	if err := s.sleep(ctx); err != nil {
		return Ack{}, err
	}

	s.mu.Lock()
	rejected := s.cfg.RejectRatio > 0 && s.rnd.Float64() < s.cfg.RejectRatio
	if !rejected {
		s.orders[order.OrderRef] = order
	}
	s.mu.Unlock()

	if rejected {
		return Ack{OrderRef: order.OrderRef, Accepted: false, Reason: "venue reject"}, nil
	}

	if s.cfg.AutoFill && s.onFill != nil {
		go s.fill(order)
	}
	return Ack{OrderRef: order.OrderRef, Accepted: true}, nil
}

// Cancel simulates a cancel round-trip for a known order.
func (s *Simulator) Cancel(ctx context.Context, orderRef string) error {
	release, err := s.lease(ctx)
	if err != nil {
		return fmt.Errorf("lease session: %w", err)
	}
	defer release()

	if err := s.sleep(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.orders, orderRef)
	s.mu.Unlock()
	return nil
}

func (s *Simulator) lease(ctx context.Context) (func(), error) {
	if s.sessions == nil {
		return func() {}, nil
	}
	entry, err := s.sessions.Acquire(ctx, s.cfg.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	return func() { s.sessions.Release(entry) }, nil
}

func (s *Simulator) sleep(ctx context.Context) error {
	if s.cfg.Latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.Latency):
		return nil
	}
}

// minFillDelay keeps the first fill behind the submit acknowledgment:
// the caller must observe the accepted Ack before any trade arrives.
const minFillDelay = 10 * time.Millisecond

func (s *Simulator) fill(order model.Order) {
	volumes := []int64{order.VolumeTotal}
	if s.cfg.PartialFill && order.VolumeTotal > 1 {
		first := order.VolumeTotal / 2
		volumes = []int64{first, order.VolumeTotal - first}
	}

	for _, volume := range volumes {
		delay := s.cfg.Latency
		if delay < minFillDelay {
			delay = minFillDelay
		}
		time.Sleep(delay)
		trade := model.Trade{
			TradeID:   uuid.NewString(),
			OrderRef:  order.OrderRef,
			UserID:    order.UserID,
			Symbol:    order.Symbol,
			Exchange:  order.Exchange,
			Direction: order.Direction,
			Offset:    order.Offset,
			Volume:    volume,
			Price:     order.Price,
			Timestamp: time.Now().UTC(),
		}
		logs.Infof("simulator fill: order=%s volume=%d price=%f", order.OrderRef, volume, order.Price)
		s.onFill(trade)
	}
}
