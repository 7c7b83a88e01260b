package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/cache"
	"tradegate/internal/model"
	"tradegate/internal/model/enum"
	"tradegate/internal/persist"
	"tradegate/pkg/exception"
)

type fakeFeed struct {
	mu         sync.Mutex
	subscribed []string
	released   []string
}

func (f *fakeFeed) Subscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, symbol)
	f.mu.Unlock()
	return nil
}

func (f *fakeFeed) Unsubscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	f.released = append(f.released, symbol)
	f.mu.Unlock()
	return nil
}

type fakeSink struct {
	mu       sync.Mutex
	failFor  map[string]bool
	received map[string][]model.Envelope
	dropped  []string
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		failFor:  make(map[string]bool),
		received: make(map[string][]model.Envelope),
	}
}

func (s *fakeSink) Deliver(clientID string, env model.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[clientID] {
		return exception.ErrSubscriberGone
	}
	s.received[clientID] = append(s.received[clientID], env)
	return nil
}

func (s *fakeSink) Drop(clientID string) {
	s.mu.Lock()
	s.dropped = append(s.dropped, clientID)
	s.mu.Unlock()
}

func (s *fakeSink) envelopes(clientID string) []model.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Envelope, len(s.received[clientID]))
	copy(out, s.received[clientID])
	return out
}

func validTick(symbol string, price float64) model.Tick {
	return model.Tick{
		Symbol:    symbol,
		Exchange:  "SHFE",
		LastPrice: price,
		Volume:    1,
		Turnover:  price,
		Timestamp: time.Now(),
	}
}

func newTestPipeline(t *testing.T, feed Feed, store persist.Store, sink Sink) *Pipeline {
	t.Helper()
	p := New(Config{Shards: 2, QueueSize: 64, RingSize: 8}, feed, store, cache.NewMemory(), sink)
	p.Run(t.Context())
	return p
}

func TestSubscribeTriggersUpstreamOnce(t *testing.T) {
	feed := &fakeFeed{}
	p := newTestPipeline(t, feed, nil, newFakeSink())

	require.NoError(t, p.Subscribe(t.Context(), "c1", "rb2501"))
	require.NoError(t, p.Subscribe(t.Context(), "c2", "rb2501"))
	require.NoError(t, p.Subscribe(t.Context(), "c1", "rb2501"))

	assert.Equal(t, []string{"rb2501"}, feed.subscribed)

	p.Unsubscribe(t.Context(), "c1", "rb2501")
	assert.Empty(t, feed.released)
	p.Unsubscribe(t.Context(), "c2", "rb2501")
	assert.Equal(t, []string{"rb2501"}, feed.released)

	symbols, clients := p.Subscriptions().Counts()
	assert.Zero(t, symbols)
	assert.Zero(t, clients)
}

func TestProcessTickDelivers(t *testing.T) {
	sink := newFakeSink()
	store := persist.NewMemory()
	p := newTestPipeline(t, &fakeFeed{}, store, sink)

	require.NoError(t, p.Subscribe(t.Context(), "c1", "rb2501"))
	p.ProcessTick(validTick("rb2501", 100))

	require.Eventually(t, func() bool {
		return len(sink.envelopes("c1")) == 1
	}, time.Second, 5*time.Millisecond)

	env := sink.envelopes("c1")[0]
	assert.Equal(t, enum.EnvelopeTick, env.Type)
	assert.Equal(t, "rb2501", env.Symbol)
	assert.Len(t, store.Ticks(), 1)

	recent := p.RecentTicks("rb2501", 10)
	require.Len(t, recent, 1)
	assert.Equal(t, float64(100), recent[0].LastPrice)
}

func TestInvalidTickDroppedEverywhere(t *testing.T) {
	sink := newFakeSink()
	store := persist.NewMemory()
	p := newTestPipeline(t, &fakeFeed{}, store, sink)
	require.NoError(t, p.Subscribe(t.Context(), "c1", "rb2501"))

	p.ProcessTick(validTick("rb2501", 0))
	p.ProcessTick(validTick("", 100))
	bad := validTick("rb2501", 100)
	bad.Volume = -1
	p.ProcessTick(bad)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.envelopes("c1"))
	assert.Empty(t, store.Ticks())
	assert.Empty(t, p.RecentTicks("rb2501", 10))
	assert.Equal(t, uint64(3), p.Stats().DroppedValidation)
}

func TestCleanDropsOutOfBandAndFuture(t *testing.T) {
	sink := newFakeSink()
	p := New(Config{Shards: 1, MinPrice: 50, MaxPrice: 150, ClockSkew: time.Second},
		&fakeFeed{}, nil, nil, sink)
	p.Run(t.Context())
	require.NoError(t, p.Subscribe(t.Context(), "c1", "rb2501"))

	p.ProcessTick(validTick("rb2501", 10))
	p.ProcessTick(validTick("rb2501", 500))
	future := validTick("rb2501", 100)
	future.Timestamp = time.Now().Add(time.Minute)
	p.ProcessTick(future)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.envelopes("c1"))
	assert.Equal(t, uint64(3), p.Stats().DroppedClean)
}

func TestBarEmittedOnBoundary(t *testing.T) {
	sink := newFakeSink()
	p := New(Config{Shards: 1, BarIntervals: []time.Duration{time.Minute}, ClockSkew: time.Hour},
		&fakeFeed{}, nil, nil, sink)
	p.Run(t.Context())
	require.NoError(t, p.Subscribe(t.Context(), "c1", "rb2501"))

	base := time.Now().Add(-time.Hour).Truncate(time.Minute)
	first := validTick("rb2501", 100)
	first.Timestamp = base
	second := validTick("rb2501", 110)
	second.Timestamp = base.Add(30 * time.Second)
	third := validTick("rb2501", 105)
	third.Timestamp = base.Add(90 * time.Second)

	p.ProcessTick(first)
	p.ProcessTick(second)
	p.ProcessTick(third)

	require.Eventually(t, func() bool {
		for _, env := range sink.envelopes("c1") {
			if env.Type == enum.EnvelopeBar {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	var bar model.Bar
	for _, env := range sink.envelopes("c1") {
		if env.Type == enum.EnvelopeBar {
			bar = env.Data.(model.Bar)
		}
	}
	assert.Equal(t, float64(100), bar.Open)
	assert.Equal(t, float64(110), bar.High)
	assert.Equal(t, float64(110), bar.Close)
	assert.Equal(t, int64(2), bar.Volume)
}

func TestDeliveryFailureDisconnectsOnlyThatClient(t *testing.T) {
	feed := &fakeFeed{}
	sink := newFakeSink()
	p := newTestPipeline(t, feed, nil, sink)

	require.NoError(t, p.Subscribe(t.Context(), "good", "rb2501"))
	require.NoError(t, p.Subscribe(t.Context(), "bad", "rb2501"))
	sink.mu.Lock()
	sink.failFor["bad"] = true
	sink.mu.Unlock()

	p.ProcessTick(validTick("rb2501", 100))

	require.Eventually(t, func() bool {
		return len(sink.envelopes("good")) == 1
	}, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	dropped := append([]string(nil), sink.dropped...)
	sink.mu.Unlock()
	assert.Equal(t, []string{"bad"}, dropped)

	// The bad client's subscription is gone, the good one remains.
	assert.ElementsMatch(t, []string{"good"}, p.Subscriptions().Clients("rb2501"))
	assert.Equal(t, uint64(1), p.Stats().DeliveryFailures)
}

func TestDepthBroadcastSkipsBars(t *testing.T) {
	sink := newFakeSink()
	p := newTestPipeline(t, &fakeFeed{}, nil, sink)
	require.NoError(t, p.Subscribe(t.Context(), "c1", "rb2501"))

	p.ProcessDepth(model.Depth{
		Symbol:    "rb2501",
		Exchange:  "SHFE",
		Bids:      []model.PriceLevel{{Price: 99, Volume: 5}},
		Asks:      []model.PriceLevel{{Price: 101, Volume: 3}},
		Timestamp: time.Now(),
	})

	require.Eventually(t, func() bool {
		return len(sink.envelopes("c1")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, enum.EnvelopeDepth, sink.envelopes("c1")[0].Type)
}

func TestPerSymbolOrderPreserved(t *testing.T) {
	sink := newFakeSink()
	p := newTestPipeline(t, &fakeFeed{}, nil, sink)
	require.NoError(t, p.Subscribe(t.Context(), "c1", "rb2501"))

	for i := range 50 {
		p.ProcessTick(validTick("rb2501", float64(100+i)))
	}

	require.Eventually(t, func() bool {
		return len(sink.envelopes("c1")) == 50
	}, 2*time.Second, 5*time.Millisecond)

	envs := sink.envelopes("c1")
	for i, env := range envs {
		tick := env.Data.(model.Tick)
		assert.Equal(t, float64(100+i), tick.LastPrice)
	}
}
