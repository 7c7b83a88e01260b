package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/pkg/exception"
)

type fakeConn struct {
	pingErr atomic.Value
	closed  atomic.Bool
	pings   atomic.Int64
}

func (c *fakeConn) Ping(ctx context.Context) error {
	c.pings.Add(1)
	if err, ok := c.pingErr.Load().(error); ok && err != nil {
		return err
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	fail  bool
}

func (f *fakeFactory) Dial(ctx context.Context) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.fail {
		return nil, exception.ErrConnectionUnhealthy
	}
	conn := &fakeConn{}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func testConfig(factory Factory) Config {
	return Config{
		Name:                "test",
		Factory:             factory,
		Max:                 3,
		Min:                 1,
		IdleTimeout:         time.Minute,
		HealthCheckInterval: 10 * time.Millisecond,
		MaxRetries:          1,
		AcquirePoll:         5 * time.Millisecond,
		ProbeTimeout:        time.Second,
	}
}

func TestPoolSeedsMin(t *testing.T) {
	factory := &fakeFactory{}
	p, err := New(testConfig(factory))
	require.NoError(t, err)
	defer p.Shutdown()

	stats := p.Stats()
	assert.Equal(t, 1, stats.Tracked)
	assert.Equal(t, uint64(1), stats.Created)
}

func TestPoolSeedsAcquirable(t *testing.T) {
	factory := &fakeFactory{}
	cfg := testConfig(factory)
	cfg.Min = 2
	p, err := New(cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	require.Equal(t, 2, p.Stats().Idle)

	entry, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	p.Release(entry)

	// Seeded connections back the lease; no extra dial happens.
	assert.Equal(t, uint64(2), p.Stats().Created)
	assert.Equal(t, 2, factory.dials)
}

func TestPoolSeedFailureNotFatal(t *testing.T) {
	factory := &fakeFactory{fail: true}
	p, err := New(testConfig(factory))
	require.NoError(t, err)
	defer p.Shutdown()

	assert.Equal(t, 0, p.Stats().Tracked)
}

func TestPoolInvalidConfig(t *testing.T) {
	_, err := New(Config{Max: 3})
	assert.ErrorIs(t, err, exception.ErrNilFactory)

	_, err = New(Config{Factory: &fakeFactory{}, Max: 2, Min: 5})
	assert.ErrorIs(t, err, exception.ErrInvalidPoolConfig)
}

func TestPoolAcquireExhausted(t *testing.T) {
	factory := &fakeFactory{}
	p, err := New(testConfig(factory))
	require.NoError(t, err)
	defer p.Shutdown()

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		exhausted atomic.Int64
	)
	start := time.Now()
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Acquire(context.Background(), time.Second)
			switch {
			case err == nil:
				succeeded.Add(1)
			case assert.ErrorIs(t, err, exception.ErrPoolExhausted):
				exhausted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), succeeded.Load())
	assert.Equal(t, int64(1), exhausted.Load())
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, 3, p.Stats().Tracked)
}

func TestPoolReleaseIdempotent(t *testing.T) {
	factory := &fakeFactory{}
	p, err := New(testConfig(factory))
	require.NoError(t, err)
	defer p.Shutdown()

	entry, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	p.Release(entry)
	p.Release(entry)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, uint64(1), stats.Released)
}

func TestPoolReleaseUnhealthyDiscards(t *testing.T) {
	factory := &fakeFactory{}
	p, err := New(testConfig(factory))
	require.NoError(t, err)
	defer p.Shutdown()

	entry, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	conn := entry.Conn().(*fakeConn)
	conn.pingErr.Store(exception.ErrConnectionUnhealthy)
	p.Release(entry)

	stats := p.Stats()
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, 0, stats.Tracked)
	assert.True(t, conn.closed.Load())
}

func TestPoolHealthLoopEvictsAndReplenishes(t *testing.T) {
	factory := &fakeFactory{}
	cfg := testConfig(factory)
	cfg.IdleTimeout = time.Nanosecond
	p, err := New(cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	require.Equal(t, 1, p.Stats().Tracked)
	first := factory.conns[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Run(ctx)

	require.Eventually(t, func() bool {
		return first.closed.Load() && p.Stats().Tracked >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestPoolHealthCheckSparesLeased(t *testing.T) {
	factory := &fakeFactory{}
	cfg := testConfig(factory)
	cfg.Min = 2
	p, err := New(cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	entry, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	leased := entry.Conn().(*fakeConn)
	leased.pingErr.Store(exception.ErrConnectionUnhealthy)

	p.healthCheck(context.Background())

	// The leased connection stays out of the sweep even when its ping
	// would fail; only idle connections are inspected.
	assert.False(t, leased.closed.Load())
	p.Release(entry)
	assert.True(t, leased.closed.Load())
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestPoolShutdown(t *testing.T) {
	factory := &fakeFactory{}
	p, err := New(testConfig(factory))
	require.NoError(t, err)

	p.Run(context.Background())
	p.Shutdown()

	_, err = p.Acquire(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, exception.ErrPoolClosed)
	for _, conn := range factory.conns {
		assert.True(t, conn.closed.Load())
	}
}

func TestPoolAcquireReusesIdle(t *testing.T) {
	factory := &fakeFactory{}
	p, err := New(testConfig(factory))
	require.NoError(t, err)
	defer p.Shutdown()

	entry, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	p.Release(entry)

	again, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Same(t, entry, again)
	assert.Equal(t, uint64(1), p.Stats().Created)
}
