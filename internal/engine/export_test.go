package engine

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/woofbotapp/woofbotapp-sub000/internal/watchstate"
)

// TestRunExclusive exposes runExclusive to black-box tests exercising
// the payload-queue buffering discipline around a scheduler turn.
func (e *Engine) TestRunExclusive(ctx context.Context, fn func() error) error {
	return e.runExclusive(ctx, fn)
}

// TestOnRawTx exposes onRawTx to black-box tests.
func (e *Engine) TestOnRawTx(ctx context.Context, payload []byte) {
	e.onRawTx(ctx, payload)
}

// TestStartScheduler starts only the scheduler's turn loop, without
// the rest of Start's node/stream discovery, for tests that drive the
// control surface directly against a fake RPCClient.
func (e *Engine) TestStartScheduler(ctx context.Context) {
	go e.sched.Start(ctx)
}

// TestQueuedPayloadCount returns the number of raw-tx payloads
// currently buffered behind an in-flight analysis.
func (e *Engine) TestQueuedPayloadCount() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.payloadQueue)
}

// TestSetParams sets the chaincfg params a real Start call would have
// discovered, so tests can exercise processRawTx without calling Start.
func (e *Engine) TestSetParams() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = paramsForChain(ChainForTest)
}

// ChainForTest is the network TestSetParams seeds; exported so tests
// can assert GetChain-adjacent behavior without importing bitcoindrpc
// twice for a single constant.
const ChainForTest = "regtest"

// TestSetAnalysis seeds txid's stored analysis directly, bypassing the
// watch_new_transaction control surface, so a test can force a
// specific "old" analysis ahead of a reanalyze turn.
func (e *Engine) TestSetAnalysis(txid chainhash.Hash, analysis *watchstate.TransactionAnalysis) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.SetAnalysis(txid, analysis)
}

// TestEnqueueReanalyze exposes the scheduler's reanalyze queue so a
// test can drive handleReanalyze directly.
func (e *Engine) TestEnqueueReanalyze(txid chainhash.Hash) {
	e.sched.EnqueueReanalyze(txid)
}
