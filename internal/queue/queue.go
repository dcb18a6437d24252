// Package queue provides the priority task queue the scheduler drains.
// Lower priority values run first; tasks with equal priority run in
// insertion order.
package queue

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"traderHive/internal/ports"
)

// ActionType identifies what a queued task asks the scheduler to do.
type ActionType string

const (
	// ActionDecide runs one decision cycle for the trader.
	ActionDecide ActionType = "decide"
	// ActionOptimize runs a parameter optimization pass for the trader.
	ActionOptimize ActionType = "optimize"
)

const (
	// MinPriority and MaxPriority bound the accepted priority range.
	// Values outside it are clamped, not rejected.
	MinPriority = 1
	MaxPriority = 10

	defaultDecidePriority   = 5
	defaultOptimizePriority = 8
)

// Task is one unit of scheduled work for a trader.
type Task struct {
	TraderID   string
	Action     ActionType
	Priority   int
	EnqueuedAt time.Time
	Metadata   map[string]interface{}

	seq   uint64
	index int
}

// Summary is a point-in-time snapshot of queue contents.
type Summary struct {
	Total    int
	ByAction map[ActionType]int
	ByTrader map[string]int
	// Next is the task that would be popped, nil when empty.
	Next *Task
}

// Queue is a thread-safe priority queue of trader tasks. It is unbounded;
// back-pressure comes from the scheduler's concurrency cap, not from here.
type Queue struct {
	mu    sync.Mutex
	tasks taskHeap
	seq   uint64
	now   func() time.Time
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{now: time.Now}
}

// Push enqueues a task. A nil priority derives the default for the action
// type; explicit priorities are clamped to [MinPriority, MaxPriority].
func (q *Queue) Push(traderID string, action ActionType, priority *int, metadata map[string]interface{}) (*Task, error) {
	if traderID == "" {
		return nil, fmt.Errorf("trader id is required: %w", ports.ErrInvalidRequest)
	}

	p := 0
	switch {
	case priority != nil:
		p = clamp(*priority)
	case action == ActionOptimize:
		p = defaultOptimizePriority
	default:
		p = defaultDecidePriority
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	task := &Task{
		TraderID:   traderID,
		Action:     action,
		Priority:   p,
		EnqueuedAt: q.now(),
		Metadata:   metadata,
		seq:        q.seq,
	}
	heap.Push(&q.tasks, task)
	return task, nil
}

// Pop removes and returns the highest-priority task, nil when empty.
func (q *Queue) Pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tasks.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.tasks).(*Task)
}

// Peek returns the task Pop would return without removing it.
func (q *Queue) Peek() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tasks.Len() == 0 {
		return nil
	}
	return q.tasks[0]
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// RemoveTrader drops every queued task for a trader and returns how many
// were removed.
func (q *Queue) RemoveTrader(traderID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.tasks[:0]
	removed := 0
	for _, task := range q.tasks {
		if task.TraderID == traderID {
			removed++
			continue
		}
		kept = append(kept, task)
	}
	if removed == 0 {
		return 0
	}
	q.tasks = kept
	heap.Init(&q.tasks)
	return removed
}

// Summary reports queue contents grouped by action type and trader.
func (q *Queue) Summary() Summary {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Summary{
		Total:    q.tasks.Len(),
		ByAction: make(map[ActionType]int),
		ByTrader: make(map[string]int),
	}
	for _, task := range q.tasks {
		s.ByAction[task.Action]++
		s.ByTrader[task.TraderID]++
	}
	if q.tasks.Len() > 0 {
		s.Next = q.tasks[0]
	}
	return s
}

// Clear drops all queued tasks.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.tasks = nil
	q.mu.Unlock()
}

func clamp(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// taskHeap orders by (priority, seq) so equal priorities preserve
// insertion order.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[:n-1]
	return task
}
