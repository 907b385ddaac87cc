package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnboundedFIFO(t *testing.T) {
	t.Parallel()

	q := NewUnbounded[int]()
	for i := range 5 {
		q.Put(i)
	}
	require.Equal(t, 5, q.Len())

	for want := range 5 {
		got, err := q.Get(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Zero(t, q.Len())
}

func TestUnboundedGetBlocksUntilPut(t *testing.T) {
	t.Parallel()

	q := NewUnbounded[string]()
	result := make(chan string, 1)
	go func() {
		item, err := q.Get(context.Background())
		if err == nil {
			result <- item
		}
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to block
	q.Put("late")

	select {
	case got := <-result:
		require.Equal(t, "late", got)
	case <-time.After(time.Second):
		t.Fatal("Get did not return queued item")
	}
}

func TestUnboundedGetCanceled(t *testing.T) {
	t.Parallel()

	q := NewUnbounded[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Get(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.EqualError(t, err, "dequeue canceled: context canceled")
}

func TestUnboundedDrain(t *testing.T) {
	t.Parallel()

	q := NewUnbounded[int]()
	q.Put(1)
	q.Put(2)
	require.Equal(t, []int{1, 2}, q.Drain())
	require.Zero(t, q.Len())
	require.Empty(t, q.Drain())

	_, ok := q.TryGet()
	require.False(t, ok)
}

// TestUnboundedConcurrentProducers checks that no item is lost or duplicated
// when many producers race a single consumer.
func TestUnboundedConcurrentProducers(t *testing.T) {
	t.Parallel()

	const producers, perProducer = 8, 500
	q := NewUnbounded[int]()

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				q.Put(p*perProducer + i)
			}
		}()
	}

	seen := make(map[int]bool, producers*perProducer)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for len(seen) < producers*perProducer {
		item, err := q.Get(ctx)
		require.NoError(t, err)
		require.False(t, seen[item], "duplicate item %d", item)
		seen[item] = true
	}
	wg.Wait()
	require.Zero(t, q.Len())
}

// TestUnboundedPerProducerOrder checks FIFO order is preserved per producer.
func TestUnboundedPerProducerOrder(t *testing.T) {
	t.Parallel()

	type item struct{ producer, seq int }
	const producers, perProducer = 4, 200
	q := NewUnbounded[item]()

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				q.Put(item{p, i})
			}
		}()
	}
	wg.Wait()

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for range producers * perProducer {
		it, ok := q.TryGet()
		require.True(t, ok)
		require.Greater(t, it.seq, last[it.producer])
		last[it.producer] = it.seq
	}
}
