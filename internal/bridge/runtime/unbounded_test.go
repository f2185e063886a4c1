package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnboundedFIFO(t *testing.T) {
	q := newUnbounded[int]()
	for i := 0; i < 1000; i++ {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 1000, q.Len())

	for i := 0; i < 1000; i++ {
		v, ok := q.TryPop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestUnboundedCloseKeepsQueuedItems(t *testing.T) {
	q := newUnbounded[string]()
	q.Push("a")
	q.Push("b")
	q.Close()
	q.Close()

	assert.False(t, q.Push("c"))

	v, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, "a", v)
	v, ok = q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, "b", v)
	_, ok = q.Pop(context.Background())
	assert.False(t, ok)

	select {
	case <-q.Closed():
	default:
		t.Fatal("Closed channel not closed")
	}
}

func TestUnboundedPopBlocksUntilPush(t *testing.T) {
	q := newUnbounded[int]()
	got := make(chan int, 1)
	go func() {
		v, ok := q.Pop(context.Background())
		if ok {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before Push")
	case <-time.After(10 * time.Millisecond):
	}

	q.Push(42)
	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestUnboundedPopHonorsContext(t *testing.T) {
	q := newUnbounded[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}

func TestUnboundedConcurrentProducers(t *testing.T) {
	q := newUnbounded[int]()
	const producers, perProducer = 8, 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()
	q.Close()

	n := 0
	for {
		if _, ok := q.Pop(context.Background()); !ok {
			break
		}
		n++
	}
	assert.Equal(t, producers*perProducer, n)
}
