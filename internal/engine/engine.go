package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"tradegate/internal/exchange"
	"tradegate/internal/model"
	"tradegate/internal/model/enum"
	"tradegate/internal/persist"
	"tradegate/internal/risk"
	"tradegate/pkg/exception"
)

// nowFn is swapped in tests.
var nowFn = func() time.Time { return time.Now().UTC() }

// Observer receives order and trade updates after engine state has
// settled. Implementations must not block.
type Observer interface {
	OnOrderUpdate(order model.Order)
	OnTradeUpdate(trade model.Trade)
}

// Config defines engine behavior.
type Config struct {
	// SessionPrefix namespaces order refs for this process session.
	SessionPrefix string
	// Workers drain the async submission queue.
	Workers int
	// QueueSize bounds pending submissions.
	QueueSize int
	// SubmitTimeout bounds the exchange round-trip; on expiry the order
	// is rejected with a timeout reason instead of staying pending.
	SubmitTimeout time.Duration
}

func (cfg *Config) normalize() {
	if cfg.SessionPrefix == "" {
		cfg.SessionPrefix = "TG"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 5 * time.Second
	}
}

// orderState serializes mutation of one order. Exactly one in-flight
// transition per order ref.
type orderState struct {
	mu     sync.Mutex
	order  model.Order
	trades []model.Trade
}

// Engine validates, submits, tracks and cancels orders, and nets trade
// fills into positions.
type Engine struct {
	cfg     Config
	checker risk.Checker
	gateway exchange.Gateway
	store   persist.Store

	mu        sync.RWMutex
	orders    map[string]*orderState
	positions map[posKey]*positionState
	observers []Observer

	refSeq  atomic.Uint64
	queue   chan string
	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates an engine. Risk, gateway and store are required
// collaborators.
func New(cfg Config, checker risk.Checker, gateway exchange.Gateway, store persist.Store) *Engine {
	cfg.normalize()
	return &Engine{
		cfg:       cfg,
		checker:   checker,
		gateway:   gateway,
		store:     store,
		orders:    make(map[string]*orderState),
		positions: make(map[posKey]*positionState),
		queue:     make(chan string, cfg.QueueSize),
	}
}

// Register attaches an observer for order/trade updates.
func (e *Engine) Register(obs Observer) {
	if obs == nil {
		return
	}
	e.mu.Lock()
	e.observers = append(e.observers, obs)
	e.mu.Unlock()
}

// Run starts the submission workers. Calling Run twice is a no-op.
func (e *Engine) Run(ctx context.Context) {
	if e.running.Swap(true) {
		return
	}
	for range e.cfg.Workers {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case orderRef := <-e.queue:
					e.submitToExchange(ctx, orderRef)
				}
			}
		}()
	}
}

// Wait blocks until the workers exit.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// SubmitOrder checks risk, creates the order as pending and returns its
// ref immediately; the exchange round-trip proceeds asynchronously.
func (e *Engine) SubmitOrder(ctx context.Context, userID string, req model.OrderRequest) (string, error) {
	if e.checker != nil {
		if err := e.checker.Check(userID, req); err != nil {
			return "", err
		}
	}

	orderRef := fmt.Sprintf("%s-%d", e.cfg.SessionPrefix, e.refSeq.Add(1))
	now := nowFn()
	st := &orderState{
		order: model.Order{
			OrderRef:    orderRef,
			UserID:      userID,
			Symbol:      req.Symbol,
			Exchange:    req.Exchange,
			Direction:   req.Direction,
			Offset:      req.Offset,
			Price:       req.Price,
			VolumeTotal: req.Volume,
			Status:      enum.OrderStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}

	e.mu.Lock()
	e.orders[orderRef] = st
	e.mu.Unlock()

	e.persistOrder(ctx, st.order)

	select {
	case e.queue <- orderRef:
	default:
		e.rejectLocked(st, "submit queue full")
		return orderRef, fmt.Errorf("%s: %w", orderRef, exception.ErrOrderQueueFull)
	}

	return orderRef, nil
}

// CancelOrder cancels an order that is submitted or partially filled.
// Terminal or not-yet-acknowledged orders cannot be cancelled.
func (e *Engine) CancelOrder(ctx context.Context, orderRef string) error {
	st, ok := e.lookup(orderRef)
	if !ok {
		return fmt.Errorf("%s: %w", orderRef, exception.ErrOrderNotFound)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.order.Status {
	case enum.OrderStatusSubmitted, enum.OrderStatusPartialFilled:
	default:
		return fmt.Errorf("cancel from %s: %w", st.order.Status, exception.ErrInvalidState)
	}

	if err := e.gateway.Cancel(ctx, orderRef); err != nil {
		return fmt.Errorf("cancel on exchange: %w", err)
	}
	if err := transition(st, enum.OrderStatusCancelled); err != nil {
		return err
	}
	e.persistOrder(ctx, st.order)
	e.notifyOrder(st.order)
	return nil
}

// ProcessTrade appends a fill to its order and nets the position.
// Locking order: order lock, then position lock.
func (e *Engine) ProcessTrade(trade model.Trade) error {
	if trade.Volume <= 0 || trade.Price <= 0 {
		return fmt.Errorf("trade volume/price: %w", exception.ErrValidation)
	}

	st, ok := e.lookup(trade.OrderRef)
	if !ok {
		return fmt.Errorf("%s: %w", trade.OrderRef, exception.ErrOrderNotFound)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.order.Status {
	case enum.OrderStatusSubmitted, enum.OrderStatusPartialFilled:
	default:
		return fmt.Errorf("fill in %s: %w", st.order.Status, exception.ErrInvalidState)
	}

	if st.order.VolumeTraded+trade.Volume > st.order.VolumeTotal {
		return fmt.Errorf("%s: %w", trade.TradeID, exception.ErrFillOverflow)
	}

	next := enum.OrderStatusPartialFilled
	if st.order.VolumeTraded+trade.Volume == st.order.VolumeTotal {
		next = enum.OrderStatusAllFilled
	}
	if st.order.Status != next {
		if err := transition(st, next); err != nil {
			return err
		}
	} else {
		st.order.UpdatedAt = nowFn()
	}
	st.order.VolumeTraded += trade.Volume
	st.trades = append(st.trades, trade)

	ctx := context.Background()
	e.persistTrade(ctx, trade)
	e.persistOrder(ctx, st.order)

	ps := e.position(trade.UserID, trade.Symbol)
	ps.mu.Lock()
	net(&ps.pos, trade.Direction.Sign()*trade.Volume, trade.Price)
	ps.mu.Unlock()

	e.notifyTrade(trade)
	e.notifyOrder(st.order)
	return nil
}

// Order returns a copy of the tracked order.
func (e *Engine) Order(orderRef string) (model.Order, bool) {
	st, ok := e.lookup(orderRef)
	if !ok {
		return model.Order{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.order, true
}

// Trades returns copies of the fills recorded for an order.
func (e *Engine) Trades(orderRef string) []model.Trade {
	st, ok := e.lookup(orderRef)
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]model.Trade, len(st.trades))
	copy(out, st.trades)
	return out
}

// Positions returns every position held by a user, including flat ones.
func (e *Engine) Positions(userID string) []model.Position {
	e.mu.RLock()
	states := make([]*positionState, 0, 4)
	for key, ps := range e.positions {
		if key.userID == userID {
			states = append(states, ps)
		}
	}
	e.mu.RUnlock()

	out := make([]model.Position, 0, len(states))
	for _, ps := range states {
		ps.mu.Lock()
		out = append(out, ps.pos)
		ps.mu.Unlock()
	}
	return out
}

// PositionVolume reports the signed volume for one key; risk checks
// plug this in as their position view.
func (e *Engine) PositionVolume(userID, symbol string) int64 {
	e.mu.RLock()
	ps, ok := e.positions[posKey{userID: userID, symbol: symbol}]
	e.mu.RUnlock()
	if !ok {
		return 0
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.pos.Volume
}

func (e *Engine) lookup(orderRef string) (*orderState, bool) {
	e.mu.RLock()
	st, ok := e.orders[orderRef]
	e.mu.RUnlock()
	return st, ok
}

func (e *Engine) position(userID, symbol string) *positionState {
	key := posKey{userID: userID, symbol: symbol}
	e.mu.Lock()
	defer e.mu.Unlock()
	ps, ok := e.positions[key]
	if !ok {
		ps = &positionState{pos: model.Position{UserID: userID, Symbol: symbol}}
		e.positions[key] = ps
	}
	return ps
}

// submitToExchange drives PENDING -> SUBMITTING -> SUBMITTED/REJECTED.
func (e *Engine) submitToExchange(ctx context.Context, orderRef string) {
	st, ok := e.lookup(orderRef)
	if !ok {
		return
	}

	st.mu.Lock()
	if err := transition(st, enum.OrderStatusSubmitting); err != nil {
		st.mu.Unlock()
		logs.Warnf("submit %s: %+v", orderRef, err)
		return
	}
	order := st.order
	st.mu.Unlock()
	e.notifyOrder(order)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	ack, err := e.gateway.Submit(callCtx, order)
	timedOut := err != nil && callCtx.Err() == context.DeadlineExceeded
	cancel()

	st.mu.Lock()
	defer st.mu.Unlock()
	switch {
	case timedOut:
		e.applyReject(st, exception.ErrUpstreamTimeout.Error())
	case err != nil:
		e.applyReject(st, err.Error())
	case !ack.Accepted:
		e.applyReject(st, ack.Reason)
	default:
		if err := transition(st, enum.OrderStatusSubmitted); err != nil {
			logs.Warnf("submit %s: %+v", orderRef, err)
			return
		}
		e.persistOrder(context.Background(), st.order)
		e.notifyOrder(st.order)
	}
}

// rejectLocked transitions an untouched pending order to rejected,
// passing through submitting to stay inside the table.
func (e *Engine) rejectLocked(st *orderState, reason string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := transition(st, enum.OrderStatusSubmitting); err != nil {
		logs.Warnf("reject order %s: %+v", st.order.OrderRef, err)
		return
	}
	e.applyReject(st, reason)
}

// applyReject marks the order rejected. The caller must hold st.mu.
func (e *Engine) applyReject(st *orderState, reason string) {
	if err := transition(st, enum.OrderStatusRejected); err != nil {
		logs.Warnf("reject order %s: %+v", st.order.OrderRef, err)
		return
	}
	st.order.Reason = reason
	e.persistOrder(context.Background(), st.order)
	e.notifyOrder(st.order)
}

// persistOrder saves through the store; failures are logged, in-memory
// state stays authoritative.
func (e *Engine) persistOrder(ctx context.Context, order model.Order) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveOrder(ctx, order); err != nil {
		logs.Errorf("persist order %s, err: %+v", order.OrderRef, err)
	}
}

func (e *Engine) persistTrade(ctx context.Context, trade model.Trade) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveTrade(ctx, trade); err != nil {
		logs.Errorf("persist trade %s, err: %+v", trade.TradeID, err)
	}
}

func (e *Engine) notifyOrder(order model.Order) {
	e.mu.RLock()
	observers := e.observers
	e.mu.RUnlock()
	for _, obs := range observers {
		obs.OnOrderUpdate(order)
	}
}

func (e *Engine) notifyTrade(trade model.Trade) {
	e.mu.RLock()
	observers := e.observers
	e.mu.RUnlock()
	for _, obs := range observers {
		obs.OnTradeUpdate(trade)
	}
}
