package queue_test

import (
	"testing"

	"github.com/woofbotapp/woofbotapp-sub000/internal/queue"
)

func TestConcurrentQueue(t *testing.T) {
	q := queue.NewConcurrentQueue(100)
	q.Start()
	defer q.Stop()

	// Pushes should never block for long.
	for i := 0; i < 1000; i++ {
		q.ChanIn() <- i
	}

	// Pops also should not block for long. Expect elements in FIFO order.
	for i := 0; i < 1000; i++ {
		item := <-q.ChanOut()
		if i != item.(int) {
			t.Fatalf("dequeued wrong value: expected %d, got %d", i, item)
		}
	}
}

func TestConcurrentQueueInterleaved(t *testing.T) {
	q := queue.NewConcurrentQueue(4)
	q.Start()
	defer q.Stop()

	for i := 0; i < 10; i++ {
		q.ChanIn() <- i
		if i >= 3 {
			item := <-q.ChanOut()
			if item.(int) != i-3 {
				t.Fatalf("dequeued wrong value: expected %d, got %d", i-3, item)
			}
		}
	}
}
