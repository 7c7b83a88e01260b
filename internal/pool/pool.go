package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"tradegate/pkg/exception"
)

// Conn is an opaque pooled connection handle.
type Conn interface {
	Ping(ctx context.Context) error
	Close() error
}

// Factory dials new connections for a pool.
type Factory interface {
	Dial(ctx context.Context) (Conn, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Conn, error)

func (f FactoryFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// Status describes one tracked connection.
type Status uint8

const (
	_status_beg Status = iota
	StatusIdle
	StatusActive
	StatusConnecting
	StatusDisconnected
	StatusError
	_status_end
)

func (s Status) IsAvailable() bool {
	return s > _status_beg && s < _status_end
}

// Entry is a tracked connection. Owned exclusively by the pool; callers
// hold it only between Acquire and Release.
type Entry struct {
	id        uint64
	conn      Conn
	status    Status
	createdAt time.Time
	lastUsed  time.Time
	useCount  uint64
	errCount  int
}

// Conn returns the underlying connection handle.
func (e *Entry) Conn() Conn {
	return e.conn
}

// Config defines pool behavior.
type Config struct {
	Name                string
	Factory             Factory
	Max                 int
	Min                 int
	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration
	MaxRetries          int
	AcquirePoll         time.Duration
	ProbeTimeout        time.Duration
}

func (cfg *Config) normalize() error {
	if cfg.Factory == nil {
		return exception.ErrNilFactory
	}
	if cfg.Max <= 0 || cfg.Min < 0 || cfg.Min > cfg.Max {
		return exception.ErrInvalidPoolConfig
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.AcquirePoll <= 0 {
		cfg.AcquirePoll = 50 * time.Millisecond
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	return nil
}

// Stats is a point-in-time view of pool counters.
type Stats struct {
	Created  uint64
	Acquired uint64
	Released uint64
	Errors   uint64
	Tracked  int
	Idle     int
}

// Pool is a bounded set of health-checked connections.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	entries map[uint64]*Entry
	idle    []*Entry
	nextID  uint64
	closed  bool

	created  uint64
	acquired uint64
	released uint64
	errCount uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// New validates the config and seeds Min connections. Seeding failures
// are logged, not fatal.
func New(cfg Config) (*Pool, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:     cfg,
		entries: make(map[uint64]*Entry, cfg.Max),
		idle:    make([]*Entry, 0, cfg.Max),
		done:    make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for range cfg.Min {
		entry, err := p.spawn(ctx)
		if err != nil {
			logs.Warnf("pool %s: seed connection, err: %+v", cfg.Name, err)
			break
		}
		if entry == nil {
			break
		}
		p.mu.Lock()
		p.idle = append(p.idle, entry)
		p.mu.Unlock()
	}

	return p, nil
}

// Run starts the background health-check loop. It returns immediately;
// the loop stops when ctx is cancelled or Shutdown is called.
func (p *Pool) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.healthCheck(ctx)
			}
		}
	}()
}

// Acquire leases a connection, waiting at most timeout when the pool is
// saturated. It never returns a connection leased elsewhere.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Entry, error) {
	deadline := time.Now().Add(timeout)
	for {
		entry, err := p.tryAcquire(ctx)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}

		if remain := time.Until(deadline); remain <= 0 {
			return nil, fmt.Errorf("%s: %w", p.cfg.Name, exception.ErrPoolExhausted)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.cfg.AcquirePoll):
		}
	}
}

func (p *Pool) tryAcquire(ctx context.Context) (*Entry, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, exception.ErrPoolClosed
		}

		if n := len(p.idle); n != 0 {
			entry := p.idle[n-1]
			p.idle = p.idle[:n-1]
			entry.status = StatusConnecting
			p.mu.Unlock()

			if err := p.probe(ctx, entry.conn); err != nil {
				p.discard(entry)
				continue
			}

			p.mu.Lock()
			entry.status = StatusActive
			entry.lastUsed = time.Now()
			entry.useCount++
			p.acquired++
			p.mu.Unlock()
			return entry, nil
		}

		if len(p.entries) >= p.cfg.Max {
			p.mu.Unlock()
			return nil, nil
		}
		p.mu.Unlock()

		entry, err := p.spawn(ctx)
		if err != nil {
			return nil, fmt.Errorf("create connection: %w", err)
		}
		if entry == nil {
			// Lost the race for the last slot; poll again.
			return nil, nil
		}

		p.mu.Lock()
		entry.status = StatusActive
		entry.lastUsed = time.Now()
		entry.useCount++
		p.acquired++
		p.mu.Unlock()
		return entry, nil
	}
}

// Release returns a leased connection. The entry goes back to the idle
// set only if a liveness probe passes; otherwise it is discarded.
// Releasing an entry that is already idle is a no-op.
func (p *Pool) Release(entry *Entry) {
	if p == nil || entry == nil {
		return
	}

	p.mu.Lock()
	tracked, ok := p.entries[entry.id]
	if !ok || tracked != entry || entry.status == StatusIdle {
		p.mu.Unlock()
		return
	}
	entry.status = StatusConnecting
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProbeTimeout)
	err := p.probe(ctx, entry.conn)
	cancel()
	if err != nil {
		logs.Warnf("pool %s: release probe failed, discarding, err: %+v", p.cfg.Name, err)
		p.discard(entry)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.discard(entry)
		return
	}
	entry.status = StatusIdle
	entry.lastUsed = time.Now()
	p.idle = append(p.idle, entry)
	p.released++
	p.mu.Unlock()
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Created:  p.created,
		Acquired: p.acquired,
		Released: p.released,
		Errors:   p.errCount,
		Tracked:  len(p.entries),
		Idle:     len(p.idle),
	}
}

// Shutdown stops the health-check loop and closes every connection.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.cancel
	entries := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.entries = make(map[uint64]*Entry)
	p.idle = p.idle[:0]
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-p.done
	}
	for _, e := range entries {
		e.status = StatusDisconnected
		if err := e.conn.Close(); err != nil {
			logs.Warnf("pool %s: close connection, err: %+v", p.cfg.Name, err)
		}
	}
}

// spawn creates and tracks a new connection if a slot is free. Returns
// (nil, nil) when the pool filled up concurrently.
func (p *Pool) spawn(ctx context.Context) (*Entry, error) {
	conn, err := p.dialWithRetry(ctx)
	if err != nil {
		p.mu.Lock()
		p.errCount++
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	if p.closed || len(p.entries) >= p.cfg.Max {
		p.mu.Unlock()
		_ = conn.Close()
		return nil, nil
	}
	p.nextID++
	entry := &Entry{
		id:        p.nextID,
		conn:      conn,
		status:    StatusIdle,
		createdAt: time.Now(),
		lastUsed:  time.Now(),
	}
	p.entries[entry.id] = entry
	p.created++
	p.mu.Unlock()
	return entry, nil
}

func (p *Pool) dialWithRetry(ctx context.Context) (Conn, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		conn, err := p.cfg.Factory.Dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("dial retries exhausted: %w", lastErr)
}

func (p *Pool) probe(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		p.mu.Lock()
		p.errCount++
		p.mu.Unlock()
		return fmt.Errorf("%w: %v", exception.ErrConnectionUnhealthy, err)
	}
	return nil
}

// discard removes an entry from tracking and closes it.
func (p *Pool) discard(entry *Entry) {
	p.mu.Lock()
	delete(p.entries, entry.id)
	for i, e := range p.idle {
		if e == entry {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	entry.status = StatusError
	if err := entry.conn.Close(); err != nil {
		logs.Warnf("pool %s: close discarded connection, err: %+v", p.cfg.Name, err)
	}
}

// healthCheck evicts stale or unhealthy idle connections, then
// replenishes up to Min. A single probe failure never aborts the loop.
//
// Idle entries are claimed in one critical section before probing so a
// concurrent Acquire can never lease an entry the sweep is about to
// discard.
func (p *Pool) healthCheck(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	claimed := p.idle
	p.idle = make([]*Entry, 0, p.cfg.Max)
	for _, entry := range claimed {
		entry.status = StatusConnecting
	}
	p.mu.Unlock()

	now := time.Now()
	for _, entry := range claimed {
		if now.Sub(entry.lastUsed) > p.cfg.IdleTimeout {
			logs.Infof("pool %s: evicting idle connection %d", p.cfg.Name, entry.id)
			p.discard(entry)
			continue
		}
		if err := p.probe(ctx, entry.conn); err != nil {
			logs.Warnf("pool %s: unhealthy idle connection %d, err: %+v", p.cfg.Name, entry.id, err)
			p.discard(entry)
			continue
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.discard(entry)
			continue
		}
		entry.status = StatusIdle
		p.idle = append(p.idle, entry)
		p.mu.Unlock()
	}

	for {
		p.mu.Lock()
		need := len(p.entries) < p.cfg.Min && !p.closed
		p.mu.Unlock()
		if !need {
			return
		}
		entry, err := p.spawn(ctx)
		if err != nil {
			logs.Warnf("pool %s: replenish, err: %+v", p.cfg.Name, err)
			return
		}
		if entry == nil {
			return
		}
		p.mu.Lock()
		p.idle = append(p.idle, entry)
		p.mu.Unlock()
	}
}
