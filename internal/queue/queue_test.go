package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestQueuePopOrdersByPriority(t *testing.T) {
	q := New()
	for _, p := range []int{5, 3, 5, 1, 3} {
		_, err := q.Push("trader-1", ActionDecide, intPtr(p), nil)
		require.NoError(t, err)
	}

	var got []int
	for task := q.Pop(); task != nil; task = q.Pop() {
		got = append(got, task.Priority)
	}
	assert.Equal(t, []int{1, 3, 3, 5, 5}, got)
}

func TestQueueEqualPriorityIsFIFO(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		_, err := q.Push(fmt.Sprintf("trader-%d", i), ActionDecide, intPtr(4), nil)
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		task := q.Pop()
		require.NotNil(t, task)
		assert.Equal(t, fmt.Sprintf("trader-%d", i), task.TraderID)
	}
}

func TestQueueDefaultPriorities(t *testing.T) {
	q := New()

	decide, err := q.Push("trader-1", ActionDecide, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, decide.Priority)

	optimize, err := q.Push("trader-1", ActionOptimize, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, optimize.Priority)
}

func TestQueueClampsPriority(t *testing.T) {
	q := New()

	low, err := q.Push("trader-1", ActionDecide, intPtr(-3), nil)
	require.NoError(t, err)
	assert.Equal(t, MinPriority, low.Priority)

	high, err := q.Push("trader-1", ActionDecide, intPtr(99), nil)
	require.NoError(t, err)
	assert.Equal(t, MaxPriority, high.Priority)
}

func TestQueuePushRequiresTraderID(t *testing.T) {
	q := New()
	_, err := q.Push("", ActionDecide, nil, nil)
	assert.Error(t, err)
}

func TestQueuePeekDoesNotRemove(t *testing.T) {
	q := New()
	assert.Nil(t, q.Peek())

	_, err := q.Push("trader-1", ActionDecide, intPtr(2), nil)
	require.NoError(t, err)

	peeked := q.Peek()
	require.NotNil(t, peeked)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, peeked, q.Pop())
	assert.Equal(t, 0, q.Len())
}

func TestQueueRemoveTrader(t *testing.T) {
	q := New()
	_, err := q.Push("trader-1", ActionDecide, intPtr(5), nil)
	require.NoError(t, err)
	_, err = q.Push("trader-2", ActionDecide, intPtr(1), nil)
	require.NoError(t, err)
	_, err = q.Push("trader-1", ActionOptimize, intPtr(8), nil)
	require.NoError(t, err)

	removed := q.RemoveTrader("trader-1")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, q.Len())

	task := q.Pop()
	require.NotNil(t, task)
	assert.Equal(t, "trader-2", task.TraderID)

	assert.Equal(t, 0, q.RemoveTrader("trader-1"))
}

func TestQueueRemoveTraderKeepsOrdering(t *testing.T) {
	q := New()
	for i, p := range []int{7, 2, 9, 4} {
		trader := "keep"
		if i%2 == 0 {
			trader = "drop"
		}
		_, err := q.Push(trader, ActionDecide, intPtr(p), nil)
		require.NoError(t, err)
	}

	q.RemoveTrader("drop")

	first := q.Pop()
	second := q.Pop()
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, 2, first.Priority)
	assert.Equal(t, 4, second.Priority)
}

func TestQueueSummary(t *testing.T) {
	q := New()
	_, err := q.Push("trader-1", ActionDecide, intPtr(5), nil)
	require.NoError(t, err)
	_, err = q.Push("trader-2", ActionOptimize, intPtr(8), nil)
	require.NoError(t, err)
	_, err = q.Push("trader-1", ActionDecide, intPtr(3), nil)
	require.NoError(t, err)

	s := q.Summary()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.ByAction[ActionDecide])
	assert.Equal(t, 1, s.ByAction[ActionOptimize])
	assert.Equal(t, 2, s.ByTrader["trader-1"])
	require.NotNil(t, s.Next)
	assert.Equal(t, 3, s.Next.Priority)
}

func TestQueueClear(t *testing.T) {
	q := New()
	_, err := q.Push("trader-1", ActionDecide, nil, nil)
	require.NoError(t, err)

	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Pop())
}

func TestQueueConcurrentPushPop(t *testing.T) {
	q := New()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.Push(fmt.Sprintf("trader-%d", i), ActionDecide, nil, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	popped := 0
	for q.Pop() != nil {
		popped++
	}
	assert.Equal(t, 20, popped)
}
