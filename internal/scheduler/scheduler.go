// Package scheduler runs the trading loop: it sweeps triggers, queues
// decision and optimization tasks per trader, and dispatches them under a
// concurrency cap with stuck-task recovery.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"traderHive/internal/domain"
	"traderHive/internal/ports"
	"traderHive/internal/queue"
	"traderHive/internal/triggers"
)

// priceTriggerPriority boosts decide tasks born from a price move ahead
// of routine time-trigger decides.
const priceTriggerPriority = 3

// TriggerChecker is the slice of the trigger manager the scheduler uses.
type TriggerChecker interface {
	Check(ctx context.Context, traderID string, tctx triggers.Context) *triggers.Event
	ResetTrader(traderID string)
}

// ActionApplier carries out decision-engine actions. Satisfied by Executor.
type ActionApplier interface {
	Apply(ctx context.Context, traderID string, action ports.Action) error
}

// TraderState is the scheduler's bookkeeping for one trader.
type TraderState struct {
	TraderID        string
	Enabled         bool
	Processing      bool
	ProcessingSince time.Time
	LastTrigger     time.Time
	LastDecide      time.Time
	LastOptimize    time.Time
	TotalTriggers   int

	// token identifies the current dispatch so a stale task cannot clear
	// the flag of a later one.
	token uint64
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	Running    bool
	Processing int
	Traders    map[string]TraderState
	Queue      queue.Summary
}

// Config holds the dependencies for a Scheduler.
type Config struct {
	Traders   ports.TraderRepository
	Positions ports.PositionRepository
	Prices    PriceSource
	Triggers  TriggerChecker
	Engine    ports.DecisionEngine
	Applier   ActionApplier
	Queue     *queue.Queue
	Settings  *Settings
	Logger    ports.Logger
	// Now is the clock; nil means time.Now. Injectable for tests.
	Now func() time.Time
}

// Scheduler owns the tick loop and the per-trader task lifecycle.
type Scheduler struct {
	traders   ports.TraderRepository
	positions ports.PositionRepository
	prices    PriceSource
	triggers  TriggerChecker
	engine    ports.DecisionEngine
	applier   ActionApplier
	queue     *queue.Queue
	settings  *Settings
	logger    ports.Logger
	now       func() time.Time

	mu       sync.Mutex
	states   map[string]*TraderState
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup
	nextTok  uint64
}

// New creates a scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Traders == nil || cfg.Positions == nil {
		return nil, fmt.Errorf("trader and position repositories are required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Prices == nil || cfg.Triggers == nil || cfg.Engine == nil || cfg.Applier == nil {
		return nil, fmt.Errorf("prices, triggers, engine and applier are required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("settings are required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required: %w", ports.ErrInvalidRequest)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		traders:   cfg.Traders,
		positions: cfg.Positions,
		prices:    cfg.Prices,
		triggers:  cfg.Triggers,
		engine:    cfg.Engine,
		applier:   cfg.Applier,
		queue:     cfg.Queue,
		settings:  cfg.Settings,
		logger:    cfg.Logger,
		now:       now,
		states:    make(map[string]*TraderState),
	}, nil
}

// Start begins scheduling the given traders, or every stored trader when
// none are named. Idempotent while running.
func (s *Scheduler) Start(ctx context.Context, traderIDs ...string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ids := traderIDs
	if len(ids) == 0 {
		all, err := s.traders.ListTraders(ctx)
		if err != nil {
			return fmt.Errorf("failed to list traders: %w", err)
		}
		for _, t := range all {
			ids = append(ids, t.ID)
		}
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	for _, id := range ids {
		if _, ok := s.states[id]; !ok {
			s.states[id] = &TraderState{TraderID: id, Enabled: true}
		}
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	loopDone := make(chan struct{})
	s.cancel = cancel
	s.loopDone = loopDone
	s.running = true
	s.mu.Unlock()

	go s.run(runCtx, loopDone)
	s.logger.Info(ctx, "scheduler started", map[string]interface{}{
		"traders":       len(ids),
		"tick_interval": s.settings.TickInterval().String(),
	})
	return nil
}

// Stop halts the tick loop and waits up to the drain timeout for in-flight
// tasks to finish. Running tasks are never killed. A no-op when stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, loopDone := s.cancel, s.loopDone
	s.cancel = nil
	s.loopDone = nil
	s.mu.Unlock()

	cancel()
	<-loopDone

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()

	ctx := context.Background()
	select {
	case <-drained:
		s.logger.Info(ctx, "scheduler stopped")
	case <-time.After(s.settings.DrainTimeout()):
		s.logger.Warn(ctx, "scheduler stopped with tasks still in flight", map[string]interface{}{
			"drain_timeout": s.settings.DrainTimeout().String(),
		})
	}
}

// Enable resumes scheduling for a trader, creating its state if needed.
func (s *Scheduler) Enable(traderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[traderID]
	if !ok {
		st = &TraderState{TraderID: traderID}
		s.states[traderID] = st
	}
	st.Enabled = true
}

// Disable pauses scheduling for a trader and purges its queued tasks.
func (s *Scheduler) Disable(traderID string) {
	s.mu.Lock()
	if st, ok := s.states[traderID]; ok {
		st.Enabled = false
	}
	s.mu.Unlock()
	removed := s.queue.RemoveTrader(traderID)
	if removed > 0 {
		s.logger.Info(context.Background(), "purged queued tasks for disabled trader", map[string]interface{}{
			"trader_id": traderID,
			"removed":   removed,
		})
	}
}

// Status snapshots the scheduler's state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	status := Status{
		Running: s.running,
		Traders: make(map[string]TraderState, len(s.states)),
	}
	for id, st := range s.states {
		status.Traders[id] = *st
		if st.Processing {
			status.Processing++
		}
	}
	s.mu.Unlock()
	status.Queue = s.queue.Summary()
	return status
}

// run owns its done channel. Stop nils the struct field, so the loop must
// not read it back.
func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	backoff := false
	for {
		if err := s.Tick(ctx); err != nil {
			s.logger.Error(ctx, err, "tick failed")
			backoff = true
		}

		sleep := s.settings.TickInterval()
		if backoff {
			sleep *= 2
			backoff = false
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Tick runs one scheduling cycle. Exposed so tests can drive the scheduler
// without the background loop.
func (s *Scheduler) Tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()

	for _, traderID := range s.enabledTraders() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.sweepTrader(ctx, traderID)
	}

	s.recoverStuck(ctx)
	s.dispatch(ctx)
	return nil
}

func (s *Scheduler) enabledTraders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.states))
	for id, st := range s.states {
		if st.Enabled {
			ids = append(ids, id)
		}
	}
	return ids
}

// sweepTrader refreshes prices, evaluates triggers and checks optimization
// eligibility for one trader. Failures are logged, never propagated.
func (s *Scheduler) sweepTrader(ctx context.Context, traderID string) {
	trader, err := s.traders.GetTrader(ctx, traderID)
	if err != nil || trader == nil {
		s.logger.Warn(ctx, "skipping trader, load failed", map[string]interface{}{
			"trader_id": traderID,
		})
		return
	}

	open, err := s.positions.ListByTrader(ctx, traderID, domain.StatusOpen)
	if err != nil {
		s.logger.Error(ctx, err, "failed to list open positions", map[string]interface{}{
			"trader_id": traderID,
		})
		return
	}

	prices := s.prices.GetMany(ctx, watchedPairs(trader, open))

	// A trader with a task in flight keeps its triggers armed until the
	// task finishes. Only prices are refreshed.
	if s.isProcessing(traderID) {
		s.maybeQueueOptimize(ctx, traderID)
		return
	}

	event := s.triggers.Check(ctx, traderID, triggers.Context{
		Trader:        trader,
		OpenPositions: open,
		Prices:        prices,
	})
	if event != nil {
		var priority *int
		if event.Type == triggers.TypePrice {
			p := priceTriggerPriority
			priority = &p
		}
		if _, err := s.queue.Push(traderID, queue.ActionDecide, priority, event.Metadata); err != nil {
			s.logger.Error(ctx, err, "failed to enqueue decide task", map[string]interface{}{
				"trader_id": traderID,
			})
		} else {
			s.mu.Lock()
			if st := s.states[traderID]; st != nil {
				st.LastTrigger = event.Timestamp
				st.TotalTriggers++
			}
			s.mu.Unlock()
		}
	}

	s.maybeQueueOptimize(ctx, traderID)
}

func (s *Scheduler) maybeQueueOptimize(ctx context.Context, traderID string) {
	if !s.settings.OptimizeEnabled() {
		return
	}

	s.mu.Lock()
	st := s.states[traderID]
	if st == nil {
		s.mu.Unlock()
		return
	}
	lastOptimize := st.LastOptimize
	s.mu.Unlock()

	due := false
	if lastOptimize.IsZero() {
		count, err := s.positions.CountByTrader(ctx, traderID)
		if err != nil {
			s.logger.Error(ctx, err, "failed to count positions", map[string]interface{}{
				"trader_id": traderID,
			})
			return
		}
		due = count >= s.settings.OptimizeMinCount()
	} else {
		due = s.now().Sub(lastOptimize) >= s.settings.OptimizeInterval()
	}
	if !due {
		return
	}

	if alreadyQueued(s.queue.Summary(), traderID) {
		return
	}
	if _, err := s.queue.Push(traderID, queue.ActionOptimize, nil, nil); err != nil {
		s.logger.Error(ctx, err, "failed to enqueue optimize task", map[string]interface{}{
			"trader_id": traderID,
		})
	}
}

// recoverStuck clears the processing flag of traders whose task has been
// running past the task timeout, so they can be scheduled again. The task
// itself keeps running; its own clear becomes a no-op via the token.
func (s *Scheduler) recoverStuck(ctx context.Context) {
	timeout := s.settings.TaskTimeout()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.states {
		if !st.Processing || now.Sub(st.ProcessingSince) <= timeout {
			continue
		}
		st.Processing = false
		st.token = 0
		s.logger.Warn(ctx, "cleared stuck task", map[string]interface{}{
			"trader_id": id,
			"stuck_for": now.Sub(st.ProcessingSince).String(),
		})
	}
}

// dispatch drains the queue while the processing count is under the cap.
// Tasks for traders already processing are set aside and re-queued after
// the pass so they keep their priority.
func (s *Scheduler) dispatch(ctx context.Context) {
	var setAside []*queue.Task

	for {
		if s.processingCount() >= s.settings.MaxConcurrentTasks() {
			break
		}
		task := s.queue.Pop()
		if task == nil {
			break
		}

		s.mu.Lock()
		st := s.states[task.TraderID]
		if st == nil || !st.Enabled {
			s.mu.Unlock()
			continue
		}
		if st.Processing {
			s.mu.Unlock()
			setAside = append(setAside, task)
			continue
		}
		s.nextTok++
		token := s.nextTok
		st.Processing = true
		st.ProcessingSince = s.now()
		st.token = token
		s.mu.Unlock()

		s.inflight.Add(1)
		go s.execute(ctx, task, token)
	}

	for _, task := range setAside {
		priority := task.Priority
		if _, err := s.queue.Push(task.TraderID, task.Action, &priority, task.Metadata); err != nil {
			s.logger.Error(ctx, err, "failed to re-queue task", map[string]interface{}{
				"trader_id": task.TraderID,
			})
		}
	}
}

func (s *Scheduler) isProcessing(traderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[traderID]
	return st != nil && st.Processing
}

func (s *Scheduler) processingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.states {
		if st.Processing {
			n++
		}
	}
	return n
}

func (s *Scheduler) execute(ctx context.Context, task *queue.Task, token uint64) {
	defer s.inflight.Done()
	defer s.clearProcessing(task.TraderID, token)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, fmt.Errorf("task panicked: %v", r), "task execution panicked", map[string]interface{}{
				"trader_id": task.TraderID,
				"action":    string(task.Action),
			})
		}
	}()

	switch task.Action {
	case queue.ActionDecide:
		s.runDecide(ctx, task.TraderID)
	case queue.ActionOptimize:
		s.runOptimize(ctx, task.TraderID)
	default:
		s.logger.Warn(ctx, "dropping task with unknown action", map[string]interface{}{
			"trader_id": task.TraderID,
			"action":    string(task.Action),
		})
	}
}

func (s *Scheduler) runDecide(ctx context.Context, traderID string) {
	trader, err := s.traders.GetTrader(ctx, traderID)
	if err != nil || trader == nil {
		s.logger.Warn(ctx, "decide skipped, trader load failed", map[string]interface{}{
			"trader_id": traderID,
		})
		return
	}
	open, err := s.positions.ListByTrader(ctx, traderID, domain.StatusOpen)
	if err != nil {
		s.logger.Error(ctx, err, "decide skipped, position list failed", map[string]interface{}{
			"trader_id": traderID,
		})
		return
	}

	dctx := ports.DecisionContext{
		Trader:        trader,
		OpenPositions: open,
		Prices:        s.prices.GetMany(ctx, watchedPairs(trader, open)),
	}
	action, err := s.engine.Decide(ctx, traderID, dctx)
	if err != nil {
		s.logger.Error(ctx, err, "decision cycle failed", map[string]interface{}{
			"trader_id": traderID,
		})
		return
	}

	if err := s.applier.Apply(ctx, traderID, action); err != nil {
		s.logger.Error(ctx, err, "failed to apply action", map[string]interface{}{
			"trader_id": traderID,
			"action":    fmt.Sprintf("%T", action),
		})
		return
	}

	s.mu.Lock()
	if st := s.states[traderID]; st != nil {
		st.LastDecide = s.now()
	}
	s.mu.Unlock()
}

func (s *Scheduler) runOptimize(ctx context.Context, traderID string) {
	if err := s.engine.Optimize(ctx, traderID); err != nil {
		s.logger.Error(ctx, err, "optimization failed", map[string]interface{}{
			"trader_id": traderID,
		})
		return
	}
	s.mu.Lock()
	if st := s.states[traderID]; st != nil {
		st.LastOptimize = s.now()
	}
	s.mu.Unlock()
	s.logger.Info(ctx, "optimization completed", map[string]interface{}{
		"trader_id": traderID,
	})
}

func (s *Scheduler) clearProcessing(traderID string, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[traderID]
	if st == nil || st.token != token {
		return
	}
	st.Processing = false
	st.token = 0
}

// watchedPairs collects the price pairs relevant to a trader: its
// configured trading pairs plus any pair it holds a position in. Pairs
// without an exchange prefix default to binance.
func watchedPairs(trader *domain.Trader, open []*domain.Position) []string {
	seen := make(map[string]struct{})
	var pairs []string
	add := func(pair string) {
		if pair == "" {
			return
		}
		if !strings.Contains(pair, ":") {
			pair = "binance:" + strings.ToUpper(pair)
		}
		if _, ok := seen[pair]; ok {
			return
		}
		seen[pair] = struct{}{}
		pairs = append(pairs, pair)
	}
	for _, p := range trader.TradingPairs {
		add(p)
	}
	for _, pos := range open {
		add(pos.Exchange + ":" + pos.Symbol)
	}
	return pairs
}

func alreadyQueued(summary queue.Summary, traderID string) bool {
	return summary.ByTrader[traderID] > 0
}
