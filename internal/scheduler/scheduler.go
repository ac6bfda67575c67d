// Package scheduler is the Task Scheduler: a single-threaded
// cooperative loop that drains prioritized work queues and coalesces
// stream-triggered flags, per spec §4.5. Exactly one turn is ever
// active, because turns run one after another on the Start loop; the
// scheduler's own mutex guards only its queues and flags.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// RecheckBatchSize is B from spec §4.5: the maximum number of mempool
// txids rechecked per turn.
const RecheckBatchSize = 100

// DefaultBackoff is the ~10s sleep after a turn fails, per spec §4.5/§7.
const DefaultBackoff = 10 * time.Second

// Handlers are the turn bodies for each of the scheduler's seven
// priority slots. internal/engine supplies these; the scheduler
// itself never touches watch state directly.
type Handlers struct {
	Unwatch             func(ctx context.Context, txid chainhash.Hash) error
	AnalyzeNew          func(ctx context.Context, txid chainhash.Hash) error
	Reanalyze           func(ctx context.Context, txid chainhash.Hash) error
	CheckNewBlock       func(ctx context.Context) error
	RecheckMempoolBatch func(ctx context.Context, txids []chainhash.Hash) error
	CheckMempoolSize    func(ctx context.Context) error
	CheckRawMempool     func(ctx context.Context) error
}

// Scheduler owns the seven work queues/flags of spec §3/§4.5 and runs
// the single-threaded turn loop.
type Scheduler struct {
	handlers Handlers
	backoff  time.Duration

	mu                sync.Mutex
	unwatchQueue      []chainhash.Hash
	newWatchQueue     []chainhash.Hash
	reanalyzeQueue    []chainhash.Hash
	recheckMempool    []chainhash.Hash
	checkNewBlock     bool
	checkMempoolSize  bool
	checkRawMempool   bool

	trigger chan struct{}
}

// New constructs a Scheduler. Call Start to begin running turns.
func New(handlers Handlers) *Scheduler {
	return &Scheduler{
		handlers: handlers,
		backoff:  DefaultBackoff,
		trigger:  make(chan struct{}, 1),
	}
}

// SetBackoff overrides the default ~10s post-failure backoff; mainly
// useful to keep tests fast.
func (s *Scheduler) SetBackoff(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoff = d
}

func (s *Scheduler) getBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff
}

// Start runs the turn loop until ctx is done. It blocks; call it in
// its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.wake()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
		}

		for {
			didWork, err := s.runTurn(ctx)
			if err != nil {
				log.Warnf("scheduler: turn failed, backing off: %v", err)
				if !s.sleepOrDone(ctx, s.getBackoff()) {
					return
				}
				continue
			}
			if !didWork {
				break
			}
		}
	}
}

func (s *Scheduler) sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// wake is the "delayed trigger": it collapses overlapping requests to
// run a turn into a single pending wakeup (spec §5 "shouldRerun").
func (s *Scheduler) wake() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// runTurn executes the highest-priority non-empty slot, in the strict
// order of spec §4.5. It returns didWork=false only when every queue
// is empty and every flag is clear.
func (s *Scheduler) runTurn(ctx context.Context) (didWork bool, err error) {
	if txid, ok := s.peekUnwatch(); ok {
		if err := s.handlers.Unwatch(ctx, txid); err != nil {
			return true, err
		}
		s.popUnwatch()
		return true, nil
	}

	if txid, ok := s.peekNewWatch(); ok {
		if err := s.handlers.AnalyzeNew(ctx, txid); err != nil {
			return true, err
		}
		s.popNewWatch()
		return true, nil
	}

	if txid, ok := s.peekReanalyze(); ok {
		if err := s.handlers.Reanalyze(ctx, txid); err != nil {
			return true, err
		}
		s.popReanalyze()
		return true, nil
	}

	if s.peekCheckNewBlock() {
		if err := s.handlers.CheckNewBlock(ctx); err != nil {
			return true, err
		}
		s.clearCheckNewBlock()
		return true, nil
	}

	if batch, ok := s.peekRecheckMempoolBatch(); ok {
		if err := s.handlers.RecheckMempoolBatch(ctx, batch); err != nil {
			return true, err
		}
		s.popRecheckMempoolBatch(len(batch))
		return true, nil
	}

	if s.peekCheckMempoolSize() {
		if err := s.handlers.CheckMempoolSize(ctx); err != nil {
			return true, err
		}
		s.clearCheckMempoolSize()
		return true, nil
	}

	if s.peekCheckRawMempool() {
		if err := s.handlers.CheckRawMempool(ctx); err != nil {
			return true, err
		}
		s.clearCheckRawMempool()
		return true, nil
	}

	return false, nil
}

// EnqueueUnwatch adds txid to the unwatch queue (priority 1) if not
// already present, and wakes the loop.
func (s *Scheduler) EnqueueUnwatch(txid chainhash.Hash) {
	s.mu.Lock()
	s.unwatchQueue = appendUnique(s.unwatchQueue, txid)
	s.mu.Unlock()
	s.wake()
}

// EnqueueNewWatch adds txid to the new-transaction-to-watch queue
// (priority 2).
func (s *Scheduler) EnqueueNewWatch(txid chainhash.Hash) {
	s.mu.Lock()
	s.newWatchQueue = appendUnique(s.newWatchQueue, txid)
	s.mu.Unlock()
	s.wake()
}

// EnqueueReanalyze adds txid to the reanalysis queue (priority 3).
func (s *Scheduler) EnqueueReanalyze(txid chainhash.Hash) {
	s.mu.Lock()
	s.reanalyzeQueue = appendUnique(s.reanalyzeQueue, txid)
	s.mu.Unlock()
	s.wake()
}

// ArmCheckNewBlock sets the check_new_block flag (priority 4).
func (s *Scheduler) ArmCheckNewBlock() {
	s.mu.Lock()
	s.checkNewBlock = true
	s.mu.Unlock()
	s.wake()
}

// EnqueueRecheckMempool adds txids to the recheck queue (priority 5).
func (s *Scheduler) EnqueueRecheckMempool(txids []chainhash.Hash) {
	if len(txids) == 0 {
		return
	}
	s.mu.Lock()
	for _, txid := range txids {
		s.recheckMempool = appendUnique(s.recheckMempool, txid)
	}
	s.mu.Unlock()
	s.wake()
}

// ArmCheckMempoolSize sets the check_mempool_size flag (priority 6).
func (s *Scheduler) ArmCheckMempoolSize() {
	s.mu.Lock()
	s.checkMempoolSize = true
	s.mu.Unlock()
	s.wake()
}

// ArmCheckRawMempool sets the check_raw_mempool flag (priority 7).
func (s *Scheduler) ArmCheckRawMempool() {
	s.mu.Lock()
	s.checkRawMempool = true
	s.mu.Unlock()
	s.wake()
}

// CountTasks sums every queue length and armed flag, for operator
// diagnostics (spec §6 count_tasks).
func (s *Scheduler) CountTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.unwatchQueue) + len(s.newWatchQueue) + len(s.reanalyzeQueue) + len(s.recheckMempool)
	if s.checkNewBlock {
		count++
	}
	if s.checkMempoolSize {
		count++
	}
	if s.checkRawMempool {
		count++
	}
	return count
}

func appendUnique(queue []chainhash.Hash, txid chainhash.Hash) []chainhash.Hash {
	for _, existing := range queue {
		if existing == txid {
			return queue
		}
	}
	return append(queue, txid)
}

func (s *Scheduler) peekUnwatch() (chainhash.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.unwatchQueue) == 0 {
		return chainhash.Hash{}, false
	}
	return s.unwatchQueue[0], true
}

func (s *Scheduler) popUnwatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.unwatchQueue) > 0 {
		s.unwatchQueue = s.unwatchQueue[1:]
	}
}

func (s *Scheduler) peekNewWatch() (chainhash.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.newWatchQueue) == 0 {
		return chainhash.Hash{}, false
	}
	return s.newWatchQueue[0], true
}

func (s *Scheduler) popNewWatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.newWatchQueue) > 0 {
		s.newWatchQueue = s.newWatchQueue[1:]
	}
}

func (s *Scheduler) peekReanalyze() (chainhash.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reanalyzeQueue) == 0 {
		return chainhash.Hash{}, false
	}
	return s.reanalyzeQueue[0], true
}

func (s *Scheduler) popReanalyze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reanalyzeQueue) > 0 {
		s.reanalyzeQueue = s.reanalyzeQueue[1:]
	}
}

func (s *Scheduler) peekCheckNewBlock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkNewBlock
}

func (s *Scheduler) clearCheckNewBlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkNewBlock = false
}

func (s *Scheduler) peekRecheckMempoolBatch() ([]chainhash.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recheckMempool) == 0 {
		return nil, false
	}
	n := RecheckBatchSize
	if n > len(s.recheckMempool) {
		n = len(s.recheckMempool)
	}
	batch := append([]chainhash.Hash(nil), s.recheckMempool[:n]...)
	return batch, true
}

func (s *Scheduler) popRecheckMempoolBatch(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.recheckMempool) {
		n = len(s.recheckMempool)
	}
	s.recheckMempool = s.recheckMempool[n:]
}

func (s *Scheduler) peekCheckMempoolSize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkMempoolSize
}

func (s *Scheduler) clearCheckMempoolSize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkMempoolSize = false
}

func (s *Scheduler) peekCheckRawMempool() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkRawMempool
}

func (s *Scheduler) clearCheckRawMempool() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkRawMempool = false
}
