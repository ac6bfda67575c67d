package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/woofbotapp/woofbotapp-sub000/internal/scheduler"
)

func hash(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func TestPriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	done := make(chan struct{})
	handlers := scheduler.Handlers{
		Unwatch: func(ctx context.Context, txid chainhash.Hash) error {
			record("unwatch")
			return nil
		},
		AnalyzeNew: func(ctx context.Context, txid chainhash.Hash) error {
			record("new")
			return nil
		},
		Reanalyze: func(ctx context.Context, txid chainhash.Hash) error {
			record("reanalyze")
			return nil
		},
		CheckNewBlock: func(ctx context.Context) error {
			record("check-new-block")
			return nil
		},
		RecheckMempoolBatch: func(ctx context.Context, txids []chainhash.Hash) error {
			record("recheck-mempool")
			return nil
		},
		CheckMempoolSize: func(ctx context.Context) error {
			record("check-mempool-size")
			return nil
		},
		CheckRawMempool: func(ctx context.Context) error {
			record("check-raw-mempool")
			close(done)
			return nil
		},
	}

	s := scheduler.New(handlers)

	s.EnqueueReanalyze(hash(3))
	s.EnqueueNewWatch(hash(2))
	s.EnqueueUnwatch(hash(1))
	s.ArmCheckNewBlock()
	s.EnqueueRecheckMempool([]chainhash.Hash{hash(5)})
	s.ArmCheckMempoolSize()
	s.ArmCheckRawMempool()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not drain all queues in time")
	}

	want := []string{"unwatch", "new", "reanalyze", "check-new-block", "recheck-mempool", "check-mempool-size", "check-raw-mempool"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("got order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
}

func TestTurnErrorReArmsAndRetries(t *testing.T) {
	attempts := 0
	done := make(chan struct{})

	handlers := scheduler.Handlers{
		Unwatch: func(ctx context.Context, txid chainhash.Hash) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient transport error")
			}
			close(done)
			return nil
		},
		AnalyzeNew:          noopTxid,
		Reanalyze:           noopTxid,
		CheckNewBlock:       noop,
		RecheckMempoolBatch: noopBatch,
		CheckMempoolSize:    noop,
		CheckRawMempool:     noop,
	}

	s := scheduler.New(handlers)
	s.SetBackoff(10 * time.Millisecond)
	s.EnqueueUnwatch(hash(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the scheduler to retry a failing turn until it succeeds")
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestCountTasks(t *testing.T) {
	s := scheduler.New(scheduler.Handlers{
		Unwatch:             noopTxid,
		AnalyzeNew:          noopTxid,
		Reanalyze:           noopTxid,
		CheckNewBlock:       noop,
		RecheckMempoolBatch: noopBatch,
		CheckMempoolSize:    noop,
		CheckRawMempool:     noop,
	})

	if got := s.CountTasks(); got != 0 {
		t.Fatalf("expected 0 tasks initially, got %d", got)
	}

	s.EnqueueNewWatch(hash(1))
	s.EnqueueNewWatch(hash(2))
	s.ArmCheckMempoolSize()

	if got := s.CountTasks(); got != 3 {
		t.Fatalf("expected 3 tasks, got %d", got)
	}
}

func noop(ctx context.Context) error { return nil }
func noopTxid(ctx context.Context, txid chainhash.Hash) error { return nil }
func noopBatch(ctx context.Context, txids []chainhash.Hash) error { return nil }
