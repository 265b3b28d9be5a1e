package job

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

func TestTaskQueueDrainPreservesOrder(t *testing.T) {
	q := NewTaskQueue()
	assert.Empty(t, q.Drain())

	for i := 0; i < 5; i++ {
		q.Put(types.TaskRequest{TaskID: fmt.Sprintf("1_%d", i)})
	}
	assert.Equal(t, 5, q.Len())

	got := q.Drain()
	assert.Equal(t, []string{"1_0", "1_1", "1_2", "1_3", "1_4"}, taskIDs(got))
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Drain())
}

func TestTaskQueueReadySignal(t *testing.T) {
	q := NewTaskQueue()
	q.Put(types.TaskRequest{TaskID: "1_0"})
	q.Put(types.TaskRequest{TaskID: "1_1"})

	select {
	case <-q.Ready():
	default:
		t.Fatal("expected ready signal")
	}
	select {
	case <-q.Ready():
		t.Fatal("ready signal should not accumulate")
	default:
	}
}

func TestTaskQueueConcurrentPutDrain(t *testing.T) {
	q := NewTaskQueue()
	const producers, perProducer = 8, 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Put(types.TaskRequest{TaskID: fmt.Sprintf("%d_%d", p, i)})
			}
		}(p)
	}

	seen := make(map[string]bool)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	collect := func() {
		for _, r := range q.Drain() {
			assert.False(t, seen[r.TaskID], "duplicate %s", r.TaskID)
			seen[r.TaskID] = true
		}
	}
	for {
		select {
		case <-done:
			collect()
			assert.Len(t, seen, producers*perProducer)
			return
		default:
			collect()
		}
	}
}
