package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/etfbot/internal/domain"
)

// fakeStream is an in-memory Stream for adapter tests.
type fakeStream struct {
	mu             sync.Mutex
	connected      bool
	connectErr     error
	subscribeErr   error
	subscribeCalls [][]string
	handlers       []domain.TradeHandler
}

func (f *fakeStream) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) SubscribeTrades(ctx context.Context, symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribeCalls = append(f.subscribeCalls, symbols)
	return nil
}

func (f *fakeStream) OnTrade(handler domain.TradeHandler) {
	f.mu.Lock()
	f.handlers = append(f.handlers, handler)
	f.mu.Unlock()
}

func (f *fakeStream) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStream) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) emit(ev domain.TradeEvent) {
	f.mu.Lock()
	handlers := append([]domain.TradeHandler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (f *fakeStream) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.subscribeCalls...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestAdapterRoutesEquityAndCrypto(t *testing.T) {
	primary := &fakeStream{}
	secondary := &fakeStream{}
	adapter := NewAdapter(primary, secondary, testLogger())

	require.NoError(t, adapter.Connect(context.Background()))

	q := NewQueue("test")
	reqs := []domain.SubscriptionRequest{
		{Symbol: "QQQ", IsBenchmark: true},
		{Symbol: "TQQQ"},
		{Symbol: "BTC/USD"},
	}
	require.NoError(t, adapter.Subscribe(context.Background(), reqs, q))

	// One batched call per feed.
	require.Len(t, primary.calls(), 1)
	assert.ElementsMatch(t, []string{"QQQ", "TQQQ"}, primary.calls()[0])
	require.Len(t, secondary.calls(), 1)
	assert.Equal(t, []string{"BTC/USD"}, secondary.calls()[0])

	now := time.Now().UTC()
	primary.emit(domain.TradeEvent{Symbol: "QQQ", Price: decimal.NewFromInt(500), Timestamp: now})
	primary.emit(domain.TradeEvent{Symbol: "TQQQ", Price: decimal.NewFromInt(60), Timestamp: now})
	secondary.emit(domain.TradeEvent{Symbol: "BTC/USD", Price: decimal.NewFromInt(95_000), Timestamp: now})

	require.Equal(t, 3, q.Depth())

	first, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "QQQ", first.Symbol)
	assert.True(t, first.IsBenchmark)

	second, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "TQQQ", second.Symbol)
	assert.False(t, second.IsBenchmark)
}

func TestAdapterDropsUnsubscribedSymbols(t *testing.T) {
	primary := &fakeStream{}
	adapter := NewAdapter(primary, nil, testLogger())

	require.NoError(t, adapter.Connect(context.Background()))

	q := NewQueue("test")
	require.NoError(t, adapter.Subscribe(context.Background(),
		[]domain.SubscriptionRequest{{Symbol: "QQQ"}}, q))

	primary.emit(domain.TradeEvent{Symbol: "SPY", Price: decimal.NewFromInt(600), Timestamp: time.Now()})

	assert.Zero(t, q.Depth())
}

func TestAdapterPrimaryConnectFailureIsFatal(t *testing.T) {
	primary := &fakeStream{connectErr: errors.New("auth failed")}
	secondary := &fakeStream{}
	adapter := NewAdapter(primary, secondary, testLogger())

	err := adapter.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, secondary.Connected())
}

func TestAdapterSecondaryConnectFailureIsTolerated(t *testing.T) {
	primary := &fakeStream{}
	secondary := &fakeStream{connectErr: errors.New("crypto endpoint down")}
	adapter := NewAdapter(primary, secondary, testLogger())

	require.NoError(t, adapter.Connect(context.Background()))
	assert.True(t, adapter.IsConnected())

	// Crypto subscriptions are skipped with a warning; equity ones commit.
	q := NewQueue("test")
	reqs := []domain.SubscriptionRequest{
		{Symbol: "QQQ", IsBenchmark: true},
		{Symbol: "BTC/USD"},
	}
	require.NoError(t, adapter.Subscribe(context.Background(), reqs, q))

	require.Len(t, primary.calls(), 1)
	assert.Empty(t, secondary.calls())
}

func TestAdapterNoSecondaryConfigured(t *testing.T) {
	primary := &fakeStream{}
	adapter := NewAdapter(primary, nil, testLogger())

	require.NoError(t, adapter.Connect(context.Background()))

	q := NewQueue("test")
	reqs := []domain.SubscriptionRequest{
		{Symbol: "TQQQ"},
		{Symbol: "ETH/USD"},
	}
	require.NoError(t, adapter.Subscribe(context.Background(), reqs, q))

	require.Len(t, primary.calls(), 1)
	assert.Equal(t, []string{"TQQQ"}, primary.calls()[0])
}

func TestAdapterSkipsEquityWhenPrimaryNotConnected(t *testing.T) {
	// Deliberate behavior pin: subscribing before the primary feed is up
	// skips the symbols with a warning instead of failing the call.
	primary := &fakeStream{}
	adapter := NewAdapter(primary, nil, testLogger())

	q := NewQueue("test")
	err := adapter.Subscribe(context.Background(),
		[]domain.SubscriptionRequest{{Symbol: "QQQ"}}, q)

	require.NoError(t, err)
	assert.Empty(t, primary.calls())
}

func TestAdapterSubscribeBatchFailureSkipsRouting(t *testing.T) {
	primary := &fakeStream{subscribeErr: errors.New("rate limited")}
	adapter := NewAdapter(primary, nil, testLogger())

	require.NoError(t, adapter.Connect(context.Background()))

	q := NewQueue("test")
	require.NoError(t, adapter.Subscribe(context.Background(),
		[]domain.SubscriptionRequest{{Symbol: "QQQ"}}, q))

	// The failed batch left no routing entry behind.
	primary.emit(domain.TradeEvent{Symbol: "QQQ", Price: decimal.NewFromInt(500), Timestamp: time.Now()})
	assert.Zero(t, q.Depth())
}

func TestAdapterResubscribeIsIdempotent(t *testing.T) {
	primary := &fakeStream{}
	adapter := NewAdapter(primary, nil, testLogger())

	require.NoError(t, adapter.Connect(context.Background()))

	q1 := NewQueue("one")
	q2 := NewQueue("two")
	reqs := []domain.SubscriptionRequest{{Symbol: "TQQQ"}}

	require.NoError(t, adapter.Subscribe(context.Background(), reqs, q1))
	require.NoError(t, adapter.Subscribe(context.Background(), reqs, q2))

	// Last sink wins.
	primary.emit(domain.TradeEvent{Symbol: "TQQQ", Price: decimal.NewFromInt(60), Timestamp: time.Now()})
	assert.Zero(t, q1.Depth())
	assert.Equal(t, 1, q2.Depth())
}

func TestAdapterDisconnectClearsRoutingFirst(t *testing.T) {
	primary := &fakeStream{}
	adapter := NewAdapter(primary, nil, testLogger())

	require.NoError(t, adapter.Connect(context.Background()))

	q := NewQueue("test")
	require.NoError(t, adapter.Subscribe(context.Background(),
		[]domain.SubscriptionRequest{{Symbol: "QQQ"}}, q))

	require.NoError(t, adapter.Disconnect())
	assert.False(t, adapter.IsConnected())

	// A late in-flight event after Disconnect is dropped, not routed.
	primary.emit(domain.TradeEvent{Symbol: "QQQ", Price: decimal.NewFromInt(500), Timestamp: time.Now()})
	assert.Zero(t, q.Depth())
}

func TestAdapterFailsFastAfterDisconnect(t *testing.T) {
	primary := &fakeStream{}
	adapter := NewAdapter(primary, nil, testLogger())

	require.NoError(t, adapter.Connect(context.Background()))
	require.NoError(t, adapter.Disconnect())

	err := adapter.Connect(context.Background())
	require.ErrorIs(t, err, domain.ErrAdapterClosed)

	err = adapter.Subscribe(context.Background(),
		[]domain.SubscriptionRequest{{Symbol: "QQQ"}}, NewQueue("test"))
	require.ErrorIs(t, err, domain.ErrAdapterClosed)

	// Repeated Disconnect is a no-op.
	require.NoError(t, adapter.Disconnect())
}
