package market

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"tradegate/internal/cache"
	"tradegate/internal/model"
	"tradegate/internal/model/enum"
	"tradegate/internal/persist"
	"tradegate/pkg/exception"
)

// Feed is the upstream market data source. Subscribe fires only for the
// first subscriber of a symbol, Unsubscribe only when the last leaves.
type Feed interface {
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(ctx context.Context, symbol string) error
}

// Sink delivers envelopes to one client. Deliver must be bounded; a
// failure is scoped to that client and leads to its disconnection.
type Sink interface {
	Deliver(clientID string, env model.Envelope) error
	Drop(clientID string)
}

// Config defines pipeline behavior.
type Config struct {
	// Shards bounds cross-symbol concurrency; a symbol always maps to
	// the same shard so per-symbol order is preserved.
	Shards int
	// QueueSize bounds each shard's backlog.
	QueueSize int
	// RingSize bounds the per-symbol recent-tick buffer.
	RingSize int
	// MinPrice/MaxPrice define the sane price band; zero disables.
	MinPrice float64
	MaxPrice float64
	// ClockSkew tolerates slightly-future tick timestamps.
	ClockSkew time.Duration
	// BarIntervals to aggregate per symbol.
	BarIntervals []time.Duration
}

func (cfg *Config) normalize() {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 128
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 5 * time.Second
	}
	if len(cfg.BarIntervals) == 0 {
		cfg.BarIntervals = []time.Duration{time.Minute}
	}
}

// Stats counts pipeline outcomes.
type Stats struct {
	Received          uint64
	DroppedValidation uint64
	DroppedClean      uint64
	DroppedOverflow   uint64
	PersistFailures   uint64
	DeliveryFailures  uint64
}

type stats struct {
	received          atomic.Uint64
	droppedValidation atomic.Uint64
	droppedClean      atomic.Uint64
	droppedOverflow   atomic.Uint64
	persistFailures   atomic.Uint64
	deliveryFailures  atomic.Uint64
}

type task struct {
	tick  *model.Tick
	depth *model.Depth
}

// shard serializes processing for its slice of the symbol space.
type shard struct {
	queue chan task
	rings map[string]*tickRing
	bars  map[string]map[time.Duration]*barBuilder
}

// Pipeline ingests raw ticks, enforces data quality, derives bars and
// delivers to interested subscribers.
type Pipeline struct {
	cfg   Config
	subs  *SubscriptionIndex
	feed  Feed
	store persist.Store
	cache cache.Cache
	sink  Sink

	shards  []*shard
	stats   stats
	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a pipeline. Feed and sink are required; store and cache
// may be nil in standalone runs.
func New(cfg Config, feed Feed, store persist.Store, cch cache.Cache, sink Sink) *Pipeline {
	cfg.normalize()
	p := &Pipeline{
		cfg:    cfg,
		subs:   NewSubscriptionIndex(),
		feed:   feed,
		store:  store,
		cache:  cch,
		sink:   sink,
		shards: make([]*shard, cfg.Shards),
	}
	for i := range p.shards {
		p.shards[i] = &shard{
			queue: make(chan task, cfg.QueueSize),
			rings: make(map[string]*tickRing),
			bars:  make(map[string]map[time.Duration]*barBuilder),
		}
	}
	return p
}

// Run starts one worker per shard. Calling Run twice is a no-op.
func (p *Pipeline) Run(ctx context.Context) {
	if p.running.Swap(true) {
		return
	}
	for _, sh := range p.shards {
		p.wg.Add(1)
		go func(sh *shard) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-sh.queue:
					p.process(ctx, sh, t)
				}
			}
		}(sh)
	}
}

// Wait blocks until the shard workers exit.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Subscribe registers a client for symbols, triggering the upstream
// feed subscription on the first subscriber per symbol. Idempotent.
func (p *Pipeline) Subscribe(ctx context.Context, clientID string, symbols ...string) error {
	for _, symbol := range symbols {
		if symbol == "" {
			return fmt.Errorf("empty symbol: %w", exception.ErrInvalidArgument)
		}
		if first := p.subs.Add(clientID, symbol); first && p.feed != nil {
			if err := p.feed.Subscribe(ctx, symbol); err != nil {
				logs.Errorf("feed subscribe %s, err: %+v", symbol, err)
			}
		}
	}
	return nil
}

// Unsubscribe removes a client from symbols, triggering the upstream
// unsubscription when the last subscriber leaves. Idempotent.
func (p *Pipeline) Unsubscribe(ctx context.Context, clientID string, symbols ...string) {
	for _, symbol := range symbols {
		if last := p.subs.Remove(clientID, symbol); last && p.feed != nil {
			if err := p.feed.Unsubscribe(ctx, symbol); err != nil {
				logs.Errorf("feed unsubscribe %s, err: %+v", symbol, err)
			}
		}
	}
}

// Disconnect removes every subscription of a client.
func (p *Pipeline) Disconnect(ctx context.Context, clientID string) {
	for _, symbol := range p.subs.RemoveClient(clientID) {
		if p.feed == nil {
			continue
		}
		if err := p.feed.Unsubscribe(ctx, symbol); err != nil {
			logs.Errorf("feed unsubscribe %s, err: %+v", symbol, err)
		}
	}
}

// Subscriptions exposes the index for wiring into push command handling.
func (p *Pipeline) Subscriptions() *SubscriptionIndex {
	return p.subs
}

// ProcessTick validates and cleans the tick, then hands it to its
// symbol's shard. Invalid ticks are dropped and counted, never
// propagated.
func (p *Pipeline) ProcessTick(tick model.Tick) {
	p.stats.received.Add(1)

	if tick.Symbol == "" || tick.LastPrice <= 0 || tick.Volume < 0 {
		p.stats.droppedValidation.Add(1)
		return
	}
	if !p.clean(&tick) {
		p.stats.droppedClean.Add(1)
		return
	}

	sh := p.shardFor(tick.Symbol)
	select {
	case sh.queue <- task{tick: &tick}:
	default:
		p.stats.droppedOverflow.Add(1)
	}
}

// ProcessDepth validates the depth update and hands it to its shard.
// Depth follows the same validate/persist/broadcast path as ticks but
// never feeds bar aggregation.
func (p *Pipeline) ProcessDepth(depth model.Depth) {
	p.stats.received.Add(1)

	if depth.Symbol == "" || (len(depth.Bids) == 0 && len(depth.Asks) == 0) {
		p.stats.droppedValidation.Add(1)
		return
	}

	sh := p.shardFor(depth.Symbol)
	select {
	case sh.queue <- task{depth: &depth}:
	default:
		p.stats.droppedOverflow.Add(1)
	}
}

// RecentTicks reads the cached recent window for a symbol, newest
// first. The ring itself belongs to the shard worker; reads go through
// the cache snapshot instead of racing it.
func (p *Pipeline) RecentTicks(symbol string, n int) []model.Tick {
	if p.cache == nil {
		return nil
	}
	v, ok := p.cache.Get(recentKey(symbol))
	if !ok {
		return nil
	}
	ticks, ok := v.([]model.Tick)
	if !ok {
		return nil
	}
	if n > 0 && n < len(ticks) {
		return ticks[:n]
	}
	return ticks
}

// Stats returns current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:          p.stats.received.Load(),
		DroppedValidation: p.stats.droppedValidation.Load(),
		DroppedClean:      p.stats.droppedClean.Load(),
		DroppedOverflow:   p.stats.droppedOverflow.Load(),
		PersistFailures:   p.stats.persistFailures.Load(),
		DeliveryFailures:  p.stats.deliveryFailures.Load(),
	}
}

// clean rejects prices outside the sane band and timestamps beyond the
// clock-skew tolerance in the future.
func (p *Pipeline) clean(tick *model.Tick) bool {
	if p.cfg.MinPrice > 0 && tick.LastPrice < p.cfg.MinPrice {
		return false
	}
	if p.cfg.MaxPrice > 0 && tick.LastPrice > p.cfg.MaxPrice {
		return false
	}
	if tick.Timestamp.After(time.Now().Add(p.cfg.ClockSkew)) {
		return false
	}
	return true
}

func (p *Pipeline) shardFor(symbol string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return p.shards[int(h.Sum32())%len(p.shards)]
}

func (p *Pipeline) process(ctx context.Context, sh *shard, t task) {
	switch {
	case t.tick != nil:
		p.processTick(ctx, sh, *t.tick)
	case t.depth != nil:
		p.processDepth(ctx, *t.depth)
	}
}

func (p *Pipeline) processTick(ctx context.Context, sh *shard, tick model.Tick) {
	if p.store != nil {
		if err := p.store.SaveTick(ctx, tick); err != nil {
			p.stats.persistFailures.Add(1)
			logs.Errorf("persist tick %s, err: %+v", tick.Symbol, err)
		}
	}

	ring, ok := sh.rings[tick.Symbol]
	if !ok {
		ring = newTickRing(p.cfg.RingSize)
		sh.rings[tick.Symbol] = ring
	}
	ring.push(tick)

	if p.cache != nil {
		p.cache.Set(latestKey(tick.Symbol), tick, 0)
		p.cache.Set(recentKey(tick.Symbol), ring.recent(0), 0)
	}

	var completed []model.Bar
	builders, ok := sh.bars[tick.Symbol]
	if !ok {
		builders = make(map[time.Duration]*barBuilder, len(p.cfg.BarIntervals))
		for _, interval := range p.cfg.BarIntervals {
			builders[interval] = newBarBuilder(tick.Symbol, interval)
		}
		sh.bars[tick.Symbol] = builders
	}
	for _, builder := range builders {
		if bar := builder.apply(tick); bar != nil {
			completed = append(completed, *bar)
		}
	}

	p.broadcast(tick.Symbol, model.NewEnvelope(enum.EnvelopeTick, tick.Symbol, tick))
	for _, bar := range completed {
		p.broadcast(bar.Symbol, model.NewEnvelope(enum.EnvelopeBar, bar.Symbol, bar))
	}
}

func (p *Pipeline) processDepth(ctx context.Context, depth model.Depth) {
	if p.store != nil {
		if err := p.store.SaveDepth(ctx, depth); err != nil {
			p.stats.persistFailures.Add(1)
			logs.Errorf("persist depth %s, err: %+v", depth.Symbol, err)
		}
	}
	p.broadcast(depth.Symbol, model.NewEnvelope(enum.EnvelopeDepth, depth.Symbol, depth))
}

// broadcast delivers to every subscriber of the symbol. One client's
// failure never blocks the others; it disconnects that client only.
func (p *Pipeline) broadcast(symbol string, env model.Envelope) {
	if p.sink == nil {
		return
	}
	for _, clientID := range p.subs.Clients(symbol) {
		if err := p.sink.Deliver(clientID, env); err != nil {
			p.stats.deliveryFailures.Add(1)
			logs.Warnf("deliver to %s failed, disconnecting, err: %+v", clientID, err)
			p.sink.Drop(clientID)
			p.Disconnect(context.Background(), clientID)
		}
	}
}

func latestKey(symbol string) string { return "tick:latest:" + symbol }
func recentKey(symbol string) string { return "tick:recent:" + symbol }
