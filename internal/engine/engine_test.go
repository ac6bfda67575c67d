package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/woofbotapp/woofbotapp-sub000/internal/bitcoindrpc"
	"github.com/woofbotapp/woofbotapp-sub000/internal/engine"
	"github.com/woofbotapp/woofbotapp-sub000/internal/events"
	"github.com/woofbotapp/woofbotapp-sub000/internal/watchstate"
)

// fakeRPC is a minimal engine.RPCClient: every watched transaction is
// reported present in the mempool but not yet fetchable in full, which
// drives the Transaction Analyzer's early-exit path (spec §4.6 step 2)
// to StatusMempool without needing a real wire-format transaction.
type fakeRPC struct{}

var errNotFound = &bitcoindrpc.Error{Kind: bitcoindrpc.KindNotFound, Method: "getrawtransaction", Err: errors.New("no such tx")}

func (fakeRPC) GetRawTransaction(ctx context.Context, txid chainhash.Hash) (*bitcoindrpc.TxInfo, error) {
	return nil, errNotFound
}

func (fakeRPC) IsInMempool(ctx context.Context, txid chainhash.Hash) (bool, error) {
	return true, nil
}

func (fakeRPC) GetBlockTransactionsBatch(
	ctx context.Context, hashes []chainhash.Hash,
) ([]*bitcoindrpc.BlockInfo, []error) {
	return make([]*bitcoindrpc.BlockInfo, len(hashes)), make([]error, len(hashes))
}

func (fakeRPC) GetRawTransactionsBatch(
	ctx context.Context, txids []chainhash.Hash,
) ([]*bitcoindrpc.TxInfo, []error) {
	return make([]*bitcoindrpc.TxInfo, len(txids)), make([]error, len(txids))
}

func (fakeRPC) GetBlockchainInfo(ctx context.Context) (*bitcoindrpc.BlockchainInfo, error) {
	return &bitcoindrpc.BlockchainInfo{Chain: bitcoindrpc.ChainRegtest}, nil
}

func (fakeRPC) GetBestBlockHash(ctx context.Context) (chainhash.Hash, error) {
	return chainhash.Hash{}, nil
}

func (fakeRPC) GetBlockHeaderInfo(
	ctx context.Context, hash chainhash.Hash,
) (*bitcoindrpc.BlockHeaderInfo, error) {
	return &bitcoindrpc.BlockHeaderInfo{Hash: hash}, nil
}

func (fakeRPC) GetNotificationEndpoints(ctx context.Context) (*bitcoindrpc.NotificationEndpoints, error) {
	return &bitcoindrpc.NotificationEndpoints{RawTx: "tcp://127.0.0.1:28332"}, nil
}

func (fakeRPC) GetRawMempool(ctx context.Context) (map[chainhash.Hash]bitcoindrpc.MempoolEntry, error) {
	return nil, nil
}

func (fakeRPC) GetMempoolInfo(ctx context.Context) (*bitcoindrpc.MempoolInfo, error) {
	return &bitcoindrpc.MempoolInfo{}, nil
}

func noopHandlers() events.Handlers {
	return events.Handlers{
		OnInitialTransactionAnalysis: func(chainhash.Hash, *watchstate.TransactionAnalysis) {},
		OnNewTransactionAnalysis:     func(events.NewTransactionAnalysis) {},
		OnBlocksSkipped:              func() {},
		OnNewBlockAnalyzed:           func(events.NewBlockAnalyzed) {},
		OnNewAddressPayment:          func(events.NewAddressPayment) {},
		OnAddressOverload:            func(events.AddressOverload) {},
		OnNewMempoolClearStatus:      func(events.NewMempoolClearStatus) {},
	}
}

func newTestEngine(t *testing.T, handlers events.Handlers) *engine.Engine {
	t.Helper()
	return engine.New(engine.Config{
		RPC:      fakeRPC{},
		Store:    engine.NewMemStore(),
		Handlers: handlers,
	})
}

// TestWatchNewTransactionIsIdempotent exercises watch_new_transaction
// without starting the scheduler: a duplicate watch of the same txid
// must not enqueue a second new-watch turn.
func TestWatchNewTransactionIsIdempotent(t *testing.T) {
	e := newTestEngine(t, noopHandlers())

	txid := chainhash.Hash{0x01}
	e.WatchNewTransaction(txid)
	e.WatchNewTransaction(txid)

	if got := e.CountTasks(); got != 1 {
		t.Fatalf("expected 1 pending scheduler task after watching, got %d", got)
	}
}

// TestWatchNewTransactionEmitsInitialAnalysis exercises spec §4.5's
// priority-2 new-watch turn end to end: the Transaction Analyzer runs
// once against the freshly-watched txid and its real result — not the
// Unpublished placeholder the state starts with — arrives via
// OnInitialTransactionAnalysis. OnNewTransactionAnalysis must never
// fire for this same first analysis.
func TestWatchNewTransactionEmitsInitialAnalysis(t *testing.T) {
	done := make(chan *watchstate.TransactionAnalysis, 1)
	var newAnalysisCalls int
	handlers := noopHandlers()
	handlers.OnInitialTransactionAnalysis = func(txid chainhash.Hash, analysis *watchstate.TransactionAnalysis) {
		done <- analysis
	}
	handlers.OnNewTransactionAnalysis = func(events.NewTransactionAnalysis) {
		newAnalysisCalls++
	}
	e := newTestEngine(t, handlers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.TestStartScheduler(ctx)

	txid := chainhash.Hash{0x02}
	e.WatchNewTransaction(txid)

	select {
	case analysis := <-done:
		if analysis.Status != watchstate.StatusMempool {
			t.Fatalf("expected the initial analysis to resolve to StatusMempool, got %v", analysis.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnInitialTransactionAnalysis")
	}

	if newAnalysisCalls != 0 {
		t.Fatalf("expected the first analysis of a newly-watched txid to never also fire OnNewTransactionAnalysis, got %d calls", newAnalysisCalls)
	}
}

// TestReanalyzeEmitsNewTransactionAnalysis exercises the ordinary
// reanalysis path (spec §4.5's recheck/reanalyze turns), as distinct
// from the initial-watch path above: it must emit
// OnNewTransactionAnalysis, never OnInitialTransactionAnalysis.
func TestReanalyzeEmitsNewTransactionAnalysis(t *testing.T) {
	done := make(chan events.NewTransactionAnalysis, 1)
	var initialCalls int
	handlers := noopHandlers()
	handlers.OnInitialTransactionAnalysis = func(chainhash.Hash, *watchstate.TransactionAnalysis) {
		initialCalls++
	}
	handlers.OnNewTransactionAnalysis = func(ev events.NewTransactionAnalysis) {
		done <- ev
	}
	e := newTestEngine(t, handlers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.TestStartScheduler(ctx)

	txid := chainhash.Hash{0x03}
	e.TestSetAnalysis(txid, &watchstate.TransactionAnalysis{Status: watchstate.StatusPartialConfirmation})
	e.TestEnqueueReanalyze(txid)

	select {
	case ev := <-done:
		if ev.Txid != txid {
			t.Fatalf("unexpected txid %s", ev.Txid)
		}
		if ev.NewAnalysis.Status != watchstate.StatusMempool {
			t.Fatalf("expected the reanalysis to resolve to StatusMempool, got %v", ev.NewAnalysis.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for NewTransactionAnalysis")
	}

	if initialCalls != 0 {
		t.Fatalf("reanalysis must never emit OnInitialTransactionAnalysis, got %d calls", initialCalls)
	}
}

func TestUnwatchTransactionTakesSchedulerPriority(t *testing.T) {
	var analysisEmitted bool
	handlers := noopHandlers()
	handlers.OnInitialTransactionAnalysis = func(chainhash.Hash, *watchstate.TransactionAnalysis) {
		analysisEmitted = true
	}
	e := newTestEngine(t, handlers)

	txid := chainhash.Hash{0x04}
	e.WatchNewTransaction(txid)
	e.UnwatchTransaction(txid)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.TestStartScheduler(ctx)

	// Give the scheduler a moment to drain both queued turns. The
	// unwatch queue is priority 1, strictly ahead of the new-watch
	// queue (priority 2, spec §4.5), so the watch is removed before
	// its analysis would ever run.
	time.Sleep(200 * time.Millisecond)

	if analysisEmitted {
		t.Fatal("expected unwatch to win the race; analysis should never have run")
	}
	if got := e.CountTasks(); got != 0 {
		t.Fatalf("expected scheduler to have drained both turns, got %d pending", got)
	}
}

func TestWatchAddressIsIdempotentAndNotOverloadedInitially(t *testing.T) {
	e := newTestEngine(t, noopHandlers())

	if overloaded := e.WatchAddress("bc1qexample"); overloaded {
		t.Fatal("freshly watched address must not start overloaded")
	}
	if overloaded := e.WatchAddress("bc1qexample"); overloaded {
		t.Fatal("re-watching must stay idempotent and non-overloaded")
	}

	e.UnwatchAddress("bc1qexample")
	if overloaded := e.WatchAddress("bc1qexample"); overloaded {
		t.Fatal("re-watching after unwatch must start fresh")
	}
}

func TestMempoolAndChainAccessorsDefaultSafely(t *testing.T) {
	e := newTestEngine(t, noopHandlers())

	if got := e.GetChain(); got != "" {
		t.Fatalf("expected empty chain before Start, got %q", got)
	}
	if got := e.GetMempoolWeight(); got != 0 {
		t.Fatalf("expected zero mempool weight before any scan, got %d", got)
	}
	if got := e.IsMempoolClear(); got != nil {
		t.Fatalf("expected nil (unknown) mempool clear status before any scan, got %v", *got)
	}
}

// TestRawTxBufferedDuringInFlightAnalysis exercises the payload-queue
// buffering discipline of spec §5: while runExclusive's fn is
// executing, onRawTx must only buffer, never call into processRawTx.
func TestRawTxBufferedDuringInFlightAnalysis(t *testing.T) {
	e := newTestEngine(t, noopHandlers())
	e.TestSetParams()

	release := make(chan struct{})
	inFlightErr := make(chan error, 1)
	go func() {
		inFlightErr <- e.TestRunExclusive(context.Background(), func() error {
			<-release
			return nil
		})
	}()

	// Give runExclusive time to flip analysisInFlight before the raw-tx
	// payload arrives.
	time.Sleep(50 * time.Millisecond)
	e.TestOnRawTx(context.Background(), []byte("not a real transaction"))

	if got := e.TestQueuedPayloadCount(); got != 1 {
		t.Fatalf("expected the payload to be buffered while analysis is in flight, got queue length %d", got)
	}

	close(release)
	if err := <-inFlightErr; err != nil {
		t.Fatalf("runExclusive returned unexpected error: %v", err)
	}

	// runExclusive drains the queue synchronously before returning, so
	// it must be empty immediately after.
	if got := e.TestQueuedPayloadCount(); got != 0 {
		t.Fatalf("expected queue to be drained after runExclusive returns, got %d", got)
	}
}

func TestRawTxProcessedImmediatelyWhenNoAnalysisInFlight(t *testing.T) {
	e := newTestEngine(t, noopHandlers())
	e.TestSetParams()

	// A garbage payload fails to decode and is dropped with a logged
	// warning; the point here is only that it is never buffered, since
	// no analysis is in flight.
	e.TestOnRawTx(context.Background(), []byte("not a real transaction"))

	if got := e.TestQueuedPayloadCount(); got != 0 {
		t.Fatalf("expected nothing buffered outside an in-flight analysis, got %d", got)
	}
}
