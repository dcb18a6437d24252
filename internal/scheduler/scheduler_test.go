package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traderHive/internal/adapters/logger"
	"traderHive/internal/domain"
	"traderHive/internal/ports"
	"traderHive/internal/queue"
	"traderHive/internal/triggers"
)

type stubTraders struct {
	mu      sync.Mutex
	traders map[string]*domain.Trader
}

func (s *stubTraders) CreateTrader(_ context.Context, t *domain.Trader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traders[t.ID] = t
	return nil
}

func (s *stubTraders) GetTrader(_ context.Context, id string) (*domain.Trader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.traders[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *stubTraders) ListTraders(_ context.Context) ([]*domain.Trader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Trader
	for _, t := range s.traders {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *stubTraders) UpdateTrader(_ context.Context, t *domain.Trader) error { return nil }
func (s *stubTraders) ApplyBalanceChange(_ context.Context, _ string, _, _ decimal.Decimal) error {
	return nil
}
func (s *stubTraders) SetEquity(_ context.Context, _ string, _ decimal.Decimal) error { return nil }

type stubPositions struct {
	count int
}

func (s *stubPositions) CreatePosition(_ context.Context, _ *domain.Position) (int64, error) {
	return 1, nil
}
func (s *stubPositions) GetPosition(_ context.Context, _ int64) (*domain.Position, error) {
	return nil, nil
}
func (s *stubPositions) ListByTrader(_ context.Context, _ string, _ domain.PositionStatus) ([]*domain.Position, error) {
	return nil, nil
}
func (s *stubPositions) ListByStatus(_ context.Context, _ domain.PositionStatus) ([]*domain.Position, error) {
	return nil, nil
}
func (s *stubPositions) UpdatePnL(_ context.Context, _ int64, _, _ decimal.Decimal) error {
	return nil
}
func (s *stubPositions) CloseOut(_ context.Context, _ int64, _ domain.PositionStatus, _ decimal.Decimal, _ time.Time, _, _, _ decimal.Decimal) error {
	return nil
}
func (s *stubPositions) CountByTrader(_ context.Context, _ string) (int, error) {
	return s.count, nil
}

type stubPriceSource struct{}

func (stubPriceSource) Get(_ context.Context, _, _ string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}
func (stubPriceSource) GetMany(_ context.Context, pairs []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(pairs))
	for _, p := range pairs {
		out[p] = decimal.NewFromInt(100)
	}
	return out
}

// scriptedTriggers fires a fixed event sequence per Check call.
type scriptedTriggers struct {
	mu     sync.Mutex
	events map[string][]*triggers.Event
}

func (s *scriptedTriggers) Check(_ context.Context, traderID string, _ triggers.Context) *triggers.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.events[traderID]
	if len(pending) == 0 {
		return nil
	}
	event := pending[0]
	s.events[traderID] = pending[1:]
	return event
}

func (s *scriptedTriggers) ResetTrader(string) {}

type blockingEngine struct {
	mu        sync.Mutex
	current   int32
	peak      int32
	decides   int32
	optimizes int32
	// block, when non-nil, is closed to release in-flight Decide calls.
	block chan struct{}
}

func (e *blockingEngine) Decide(_ context.Context, _ string, _ ports.DecisionContext) (ports.Action, error) {
	cur := atomic.AddInt32(&e.current, 1)
	defer atomic.AddInt32(&e.current, -1)
	e.mu.Lock()
	if cur > e.peak {
		e.peak = cur
	}
	block := e.block
	e.mu.Unlock()
	if block != nil {
		<-block
	}
	atomic.AddInt32(&e.decides, 1)
	return ports.Hold{}, nil
}

func (e *blockingEngine) Optimize(_ context.Context, _ string) error {
	atomic.AddInt32(&e.optimizes, 1)
	return nil
}

func (e *blockingEngine) peakConcurrency() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}

type countingApplier struct {
	applied int32
}

func (a *countingApplier) Apply(_ context.Context, _ string, _ ports.Action) error {
	atomic.AddInt32(&a.applied, 1)
	return nil
}

type schedulerFixture struct {
	scheduler *Scheduler
	queue     *queue.Queue
	settings  *Settings
	engine    *blockingEngine
	triggers  *scriptedTriggers
	traders   *stubTraders
	clock     *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T, traderIDs ...string) *schedulerFixture {
	t.Helper()

	traders := &stubTraders{traders: make(map[string]*domain.Trader)}
	for _, id := range traderIDs {
		require.NoError(t, traders.CreateTrader(context.Background(), &domain.Trader{
			ID:           id,
			TradingPairs: []string{"binance:BTCUSDT"},
		}))
	}

	f := &schedulerFixture{
		queue:    queue.New(),
		settings: NewSettings(),
		engine:   &blockingEngine{},
		triggers: &scriptedTriggers{events: make(map[string][]*triggers.Event)},
		traders:  traders,
		clock:    &fakeClock{now: time.Now()},
	}
	f.settings.SetOptimizeEnabled(false)

	s, err := New(Config{
		Traders:   traders,
		Positions: &stubPositions{},
		Prices:    stubPriceSource{},
		Triggers:  f.triggers,
		Engine:    f.engine,
		Applier:   &countingApplier{},
		Queue:     f.queue,
		Settings:  f.settings,
		Logger:    logger.NewStdLogger(logger.LevelError),
		Now:       f.clock.Now,
	})
	require.NoError(t, err)
	f.scheduler = s
	return f
}

func (f *schedulerFixture) fire(traderID string, typ triggers.Type) {
	f.triggers.mu.Lock()
	f.triggers.events[traderID] = append(f.triggers.events[traderID], &triggers.Event{
		Type:      typ,
		TraderID:  traderID,
		Timestamp: f.clock.Now(),
	})
	f.triggers.mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestStartDiscoversAllTraders(t *testing.T) {
	f := newFixture(t, "trader-1", "trader-2")
	require.NoError(t, f.scheduler.Start(context.Background()))
	defer f.scheduler.Stop()

	status := f.scheduler.Status()
	assert.True(t, status.Running)
	assert.Len(t, status.Traders, 2)

	// idempotent
	require.NoError(t, f.scheduler.Start(context.Background()))
	f.scheduler.Stop()
	f.scheduler.Stop() // no-op when stopped
	assert.False(t, f.scheduler.Status().Running)
}

func TestStopRightAfterStartDoesNotPanic(t *testing.T) {
	f := newFixture(t, "trader-1")

	// Stop nils the done channel under the mutex while the loop goroutine
	// is still registering its defer. Repeat to give the race a chance.
	for i := 0; i < 100; i++ {
		require.NoError(t, f.scheduler.Start(context.Background()))
		f.scheduler.Stop()
	}
	assert.False(t, f.scheduler.Status().Running)
}

func TestTickEnqueuesDecideOnTrigger(t *testing.T) {
	f := newFixture(t, "trader-1")
	require.NoError(t, f.scheduler.Start(context.Background(), "trader-1"))
	defer f.scheduler.Stop()

	f.fire("trader-1", triggers.TypeTime)
	require.NoError(t, f.scheduler.Tick(context.Background()))

	waitFor(t, func() bool {
		return atomic.LoadInt32(&f.engine.decides) == 1
	}, "decide task to run")

	status := f.scheduler.Status()
	assert.Equal(t, 1, status.Traders["trader-1"].TotalTriggers)
	assert.False(t, status.Traders["trader-1"].LastTrigger.IsZero())
}

func TestPriceTriggerTasksJumpTheQueue(t *testing.T) {
	f := newFixture(t, "trader-1", "trader-2")
	f.fire("trader-1", triggers.TypeTime)
	f.fire("trader-2", triggers.TypePrice)

	require.NoError(t, f.scheduler.Start(context.Background(), "trader-1", "trader-2"))
	defer f.scheduler.Stop()

	// Sweep without dispatching by holding the engine and capping at 1.
	f.settings.SetMaxConcurrentTasks(1)
	f.engine.mu.Lock()
	f.engine.block = make(chan struct{})
	f.engine.mu.Unlock()

	require.NoError(t, f.scheduler.Tick(context.Background()))

	// One task dispatched, one still queued. The price-trigger task has
	// priority 3 and beats the time-trigger task at 5, so the queued
	// task must be the time one.
	waitFor(t, func() bool { return f.scheduler.Status().Processing == 1 }, "first dispatch")
	summary := f.queue.Summary()
	require.Equal(t, 1, summary.Total)
	require.NotNil(t, summary.Next)
	assert.Equal(t, 5, summary.Next.Priority)
	assert.Equal(t, "trader-1", summary.Next.TraderID)

	f.engine.mu.Lock()
	close(f.engine.block)
	f.engine.block = nil
	f.engine.mu.Unlock()
}

func TestConcurrencyCapNeverExceeded(t *testing.T) {
	ids := []string{"trader-1", "trader-2", "trader-3", "trader-4", "trader-5"}
	f := newFixture(t, ids...)
	f.settings.SetMaxConcurrentTasks(2)

	require.NoError(t, f.scheduler.Start(context.Background(), ids...))
	defer f.scheduler.Stop()

	f.engine.mu.Lock()
	f.engine.block = make(chan struct{})
	f.engine.mu.Unlock()

	for _, id := range ids {
		f.fire(id, triggers.TypeTime)
	}
	require.NoError(t, f.scheduler.Tick(context.Background()))

	waitFor(t, func() bool { return f.scheduler.Status().Processing == 2 }, "two tasks in flight")
	assert.Equal(t, 3, f.queue.Len(), "remaining tasks stay queued")
	assert.Equal(t, int32(2), f.engine.peakConcurrency())

	f.engine.mu.Lock()
	close(f.engine.block)
	f.engine.block = nil
	f.engine.mu.Unlock()

	waitFor(t, func() bool { return f.scheduler.Status().Processing == 0 }, "first batch to finish")

	// Drain the rest; with the engine unblocked each tick may need to run
	// more than once before every task has been dispatched.
	waitFor(t, func() bool {
		require.NoError(t, f.scheduler.Tick(context.Background()))
		return atomic.LoadInt32(&f.engine.decides) == 5
	}, "all tasks to run")
	assert.LessOrEqual(t, f.engine.peakConcurrency(), int32(2))
}

func TestTasksForBusyTraderAreRequeued(t *testing.T) {
	f := newFixture(t, "trader-1")
	require.NoError(t, f.scheduler.Start(context.Background(), "trader-1"))
	defer f.scheduler.Stop()

	f.engine.mu.Lock()
	f.engine.block = make(chan struct{})
	f.engine.mu.Unlock()

	f.fire("trader-1", triggers.TypeTime)
	require.NoError(t, f.scheduler.Tick(context.Background()))
	waitFor(t, func() bool { return f.scheduler.Status().Processing == 1 }, "task in flight")

	// A second task for the same trader must wait for the first.
	_, err := f.queue.Push("trader-1", queue.ActionDecide, nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.scheduler.Tick(context.Background()))
	assert.Equal(t, 1, f.queue.Len(), "task for busy trader re-queued")

	f.engine.mu.Lock()
	close(f.engine.block)
	f.engine.block = nil
	f.engine.mu.Unlock()

	waitFor(t, func() bool { return f.scheduler.Status().Processing == 0 }, "first task done")
	require.NoError(t, f.scheduler.Tick(context.Background()))
	waitFor(t, func() bool { return atomic.LoadInt32(&f.engine.decides) == 2 }, "second task runs")
}

func TestTriggersStayArmedWhileTaskInFlight(t *testing.T) {
	f := newFixture(t, "trader-1")
	require.NoError(t, f.scheduler.Start(context.Background(), "trader-1"))
	defer f.scheduler.Stop()

	f.engine.mu.Lock()
	f.engine.block = make(chan struct{})
	f.engine.mu.Unlock()

	f.fire("trader-1", triggers.TypeTime)
	require.NoError(t, f.scheduler.Tick(context.Background()))
	waitFor(t, func() bool { return f.scheduler.Status().Processing == 1 }, "task in flight")

	// While the task runs, triggers are not evaluated: nothing is queued
	// no matter how many ticks pass, and the trigger counter stays put.
	f.fire("trader-1", triggers.TypeTime)
	require.NoError(t, f.scheduler.Tick(context.Background()))
	require.NoError(t, f.scheduler.Tick(context.Background()))
	assert.Equal(t, 0, f.queue.Len(), "busy trader accumulates no decide tasks")
	assert.Equal(t, 1, f.scheduler.Status().Traders["trader-1"].TotalTriggers)

	f.engine.mu.Lock()
	close(f.engine.block)
	f.engine.block = nil
	f.engine.mu.Unlock()
	waitFor(t, func() bool { return f.scheduler.Status().Processing == 0 }, "first task done")

	// The pending trigger fires on the first sweep after the task returns.
	require.NoError(t, f.scheduler.Tick(context.Background()))
	waitFor(t, func() bool { return atomic.LoadInt32(&f.engine.decides) == 2 }, "armed trigger runs")
	assert.Equal(t, 2, f.scheduler.Status().Traders["trader-1"].TotalTriggers)
}

func TestStuckTaskIsRecovered(t *testing.T) {
	f := newFixture(t, "trader-1")
	require.NoError(t, f.scheduler.Start(context.Background(), "trader-1"))
	defer f.scheduler.Stop()

	f.engine.mu.Lock()
	f.engine.block = make(chan struct{})
	f.engine.mu.Unlock()

	f.fire("trader-1", triggers.TypeTime)
	require.NoError(t, f.scheduler.Tick(context.Background()))
	waitFor(t, func() bool { return f.scheduler.Status().Processing == 1 }, "task in flight")

	// Past the task timeout the flag is cleared and the trader can be
	// dispatched again even though the old task never returned.
	f.clock.Advance(f.settings.TaskTimeout() + time.Minute)
	require.NoError(t, f.scheduler.Tick(context.Background()))
	assert.Equal(t, 0, f.scheduler.Status().Processing)

	f.fire("trader-1", triggers.TypeTime)
	require.NoError(t, f.scheduler.Tick(context.Background()))
	waitFor(t, func() bool { return f.scheduler.Status().Processing == 1 }, "redispatch after recovery")

	f.engine.mu.Lock()
	close(f.engine.block)
	f.engine.block = nil
	f.engine.mu.Unlock()
}

func TestDisablePurgesQueuedTasks(t *testing.T) {
	f := newFixture(t, "trader-1", "trader-2")
	require.NoError(t, f.scheduler.Start(context.Background(), "trader-1", "trader-2"))
	defer f.scheduler.Stop()

	_, err := f.queue.Push("trader-1", queue.ActionDecide, nil, nil)
	require.NoError(t, err)
	_, err = f.queue.Push("trader-2", queue.ActionDecide, nil, nil)
	require.NoError(t, err)

	f.scheduler.Disable("trader-1")
	assert.Equal(t, 1, f.queue.Len())

	// Triggers for a disabled trader are not swept.
	f.fire("trader-1", triggers.TypeTime)
	require.NoError(t, f.scheduler.Tick(context.Background()))
	waitFor(t, func() bool { return atomic.LoadInt32(&f.engine.decides) == 1 }, "only trader-2 runs")
	assert.Equal(t, 0, f.queue.Len())

	f.scheduler.Enable("trader-1")
	require.NoError(t, f.scheduler.Tick(context.Background()))
	waitFor(t, func() bool { return atomic.LoadInt32(&f.engine.decides) == 2 }, "trader-1 runs after enable")
}

func TestOptimizeQueuedAfterEnoughPositions(t *testing.T) {
	f := newFixture(t, "trader-1")
	f.settings.SetOptimizeEnabled(true)

	positions := &stubPositions{count: DefaultOptimizeMinCount}
	s, err := New(Config{
		Traders:   f.traders,
		Positions: positions,
		Prices:    stubPriceSource{},
		Triggers:  f.triggers,
		Engine:    f.engine,
		Applier:   &countingApplier{},
		Queue:     f.queue,
		Settings:  f.settings,
		Logger:    logger.NewStdLogger(logger.LevelError),
		Now:       f.clock.Now,
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background(), "trader-1"))
	defer s.Stop()

	require.NoError(t, s.Tick(context.Background()))
	waitFor(t, func() bool {
		return !s.Status().Traders["trader-1"].LastOptimize.IsZero()
	}, "optimize to run")
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.engine.optimizes))

	// Freshly optimized: not due again until the interval elapses.
	require.NoError(t, s.Tick(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.engine.optimizes))

	f.clock.Advance(f.settings.OptimizeInterval() + time.Minute)
	require.NoError(t, s.Tick(context.Background()))
	waitFor(t, func() bool { return atomic.LoadInt32(&f.engine.optimizes) == 2 }, "optimize due again")
}

func TestTickSurvivesPanickingEngine(t *testing.T) {
	f := newFixture(t, "trader-1")

	panicky := &panickingEngine{}
	s, err := New(Config{
		Traders:   f.traders,
		Positions: &stubPositions{},
		Prices:    stubPriceSource{},
		Triggers:  f.triggers,
		Engine:    panicky,
		Applier:   &countingApplier{},
		Queue:     f.queue,
		Settings:  f.settings,
		Logger:    logger.NewStdLogger(logger.LevelError),
		Now:       f.clock.Now,
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background(), "trader-1"))
	defer s.Stop()

	f.fire("trader-1", triggers.TypeTime)
	require.NoError(t, s.Tick(context.Background()))

	waitFor(t, func() bool { return s.Status().Processing == 0 }, "flag cleared after panic")
}

type panickingEngine struct{}

func (panickingEngine) Decide(context.Context, string, ports.DecisionContext) (ports.Action, error) {
	panic("engine exploded")
}
func (panickingEngine) Optimize(context.Context, string) error { return nil }
