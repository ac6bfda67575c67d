// Package queue provides ConcurrentQueue, an unbounded FIFO queue
// connecting a producer and a consumer that may run at different
// speeds, so that a fast producer (the ZMQ stream subscriber) never
// blocks on a slower consumer (the single-threaded scheduler).
package queue

// ConcurrentQueue is an unbounded queue of interface{} backed by a
// growable slice and run by its own goroutine. Pushes on ChanIn
// never block for long (they're buffered internally); pops on ChanOut
// are delivered in FIFO order.
type ConcurrentQueue struct {
	chanIn   chan interface{}
	chanOut  chan interface{}
	overflow []interface{}

	quit chan struct{}
}

// NewConcurrentQueue constructs a ConcurrentQueue. bufferSize is the
// capacity of the internal in/out channels used before the overflow
// buffer kicks in; it does not bound the queue's total size.
func NewConcurrentQueue(bufferSize int) *ConcurrentQueue {
	return &ConcurrentQueue{
		chanIn:  make(chan interface{}, bufferSize),
		chanOut: make(chan interface{}, bufferSize),
		quit:    make(chan struct{}),
	}
}

// ChanIn returns the channel to push new elements onto the queue.
func (cq *ConcurrentQueue) ChanIn() chan<- interface{} {
	return cq.chanIn
}

// ChanOut returns the channel to pop elements off of the queue, in the
// order they were pushed.
func (cq *ConcurrentQueue) ChanOut() <-chan interface{} {
	return cq.chanOut
}

// Start begins the queue's internal goroutine.
func (cq *ConcurrentQueue) Start() {
	go cq.run()
}

// Stop ends the queue's internal goroutine. ChanIn stays open but is no
// longer drained, so pushes block once its buffer is full.
func (cq *ConcurrentQueue) Stop() {
	close(cq.quit)
}

func (cq *ConcurrentQueue) run() {
	for {
		nextElement := cq.nextOutElement()
		if nextElement == nil && len(cq.overflow) == 0 {
			select {
			case n := <-cq.chanIn:
				cq.overflow = append(cq.overflow, n)
			case <-cq.quit:
				return
			}
			continue
		}

		select {
		case n := <-cq.chanIn:
			cq.overflow = append(cq.overflow, n)
		case cq.chanOut <- nextElement:
			cq.overflow = cq.overflow[1:]
		case <-cq.quit:
			return
		}
	}
}

// nextOutElement peeks the head of the overflow buffer without
// removing it, returning nil when the buffer is empty.
func (cq *ConcurrentQueue) nextOutElement() interface{} {
	if len(cq.overflow) == 0 {
		return nil
	}
	return cq.overflow[0]
}
