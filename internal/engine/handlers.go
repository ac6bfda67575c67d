package engine

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/woofbotapp/woofbotapp-sub000/internal/analyzer"
	"github.com/woofbotapp/woofbotapp-sub000/internal/blockwindow"
	"github.com/woofbotapp/woofbotapp-sub000/internal/events"
	"github.com/woofbotapp/woofbotapp-sub000/internal/txdecode"
	"github.com/woofbotapp/woofbotapp-sub000/internal/watchstate"
	"github.com/woofbotapp/woofbotapp-sub000/internal/zmqstream"
)

// runExclusive brackets an RPC-and-state-mutating scheduler turn. It
// marks analysisInFlight (under queueMu, a separate lock from the one
// guarding state) so the stream pump's onRawTx buffers incoming raw-tx
// payloads into payloadQueue instead of calling into fn's state
// mutation concurrently, then runs fn under the main lock for its
// entire RPC-and-mutate duration — a round-trip can take up to ~90s,
// but that only ever blocks another scheduler turn or a rare
// control-surface call, never the stream pump's buffer-or-process
// decision, which never touches the main lock (spec §5's
// transaction_payloads_queue). Once fn returns it clears the flag and
// drains whatever was queued, each payload re-entering the normal fast
// path exactly as if it had arrived after fn finished.
func (e *Engine) runExclusive(ctx context.Context, fn func() error) error {
	e.queueMu.Lock()
	e.analysisInFlight = true
	e.queueMu.Unlock()

	e.mu.Lock()
	err := fn()
	e.mu.Unlock()

	e.queueMu.Lock()
	e.analysisInFlight = false
	queued := e.payloadQueue
	e.payloadQueue = nil
	e.queueMu.Unlock()

	for _, payload := range queued {
		e.processRawTx(ctx, payload)
	}
	return err
}

func (e *Engine) handleUnwatch(ctx context.Context, txid chainhash.Hash) error {
	e.mu.Lock()
	e.state.UnwatchTransaction(txid)
	e.mu.Unlock()

	if err := e.store.DeleteTransactionAnalysis(ctx, txid); err != nil {
		log.Warnf("engine: persist unwatch of %s: %v", txid, err)
	}
	return nil
}

func (e *Engine) handleAnalyzeNew(ctx context.Context, txid chainhash.Hash) error {
	return e.runExclusive(ctx, func() error {
		return e.analyzeInitial(ctx, txid)
	})
}

// analyzeInitial implements spec §4.5 priority slot 2: run the
// Transaction Analyzer exactly once for a newly-watched txid and emit
// OnInitialTransactionAnalysis with the result, distinct from the
// OnNewTransactionAnalysis every later reanalysis emits. A txid
// unwatched while this was in flight is dropped silently.
func (e *Engine) analyzeInitial(ctx context.Context, txid chainhash.Hash) error {
	fresh, err := analyzer.AnalyzeTransaction(ctx, e.rpc, e.params, e.window, txid, true)
	if err != nil {
		return err
	}

	if _, stillWatched := e.state.Transactions[txid]; !stillWatched {
		return nil
	}
	e.state.SetAnalysis(txid, fresh)
	e.wrappedHandlers.OnInitialTransactionAnalysis(txid, fresh)
	return nil
}

func (e *Engine) handleReanalyze(ctx context.Context, txid chainhash.Hash) error {
	return e.runExclusive(ctx, func() error {
		return e.analyzeAndMerge(ctx, txid, true)
	})
}

// analyzeAndMerge implements the Transaction Analyzer's RPC-driven
// path (spec §4.6): fetch a fresh analysis, merge it with whatever is
// currently stored, and emit NewTransactionAnalysis iff an observable
// field changed. A txid unwatched while this was in flight is dropped
// silently rather than re-adding it.
func (e *Engine) analyzeAndMerge(ctx context.Context, txid chainhash.Hash, findConflicts bool) error {
	fresh, err := analyzer.AnalyzeTransaction(ctx, e.rpc, e.params, e.window, txid, findConflicts)
	if err != nil {
		return err
	}

	old, stillWatched := e.state.Transactions[txid]
	if !stillWatched {
		return nil
	}
	merged, changed := watchstate.Merge(old, fresh, true)
	e.state.SetAnalysis(txid, merged)
	if changed {
		e.wrappedHandlers.OnNewTransactionAnalysis(events.NewTransactionAnalysis{
			Txid: txid, OldAnalysis: old, NewAnalysis: merged,
		})
	}
	return nil
}

func (e *Engine) handleCheckNewBlock(ctx context.Context) error {
	return e.runExclusive(ctx, func() error {
		return e.checkNewBlock(ctx)
	})
}

func (e *Engine) checkNewBlock(ctx context.Context) error {
	tip, err := e.rpc.GetBestBlockHash(ctx)
	if err != nil {
		return err
	}
	if e.window.Contains(tip) {
		return nil
	}

	result, err := e.window.Integrate(ctx, tip, e.fetchHeader)
	if err != nil {
		return err
	}

	contents, err := e.fetchNewBlockContents(ctx, result.NewBlocks)
	if err != nil {
		return err
	}

	bestHeight := e.bestBlockHeight
	if len(result.NewBlocks) > 0 {
		bestHeight = result.NewBlocks[len(result.NewBlocks)-1].Height
	}

	if err := analyzer.AnalyzeBlock(ctx, e.rpc, e.params, e.state, e.sched, e.wrappedHandlers, analyzer.BlockAnalysisInput{
		Result:          result,
		NewBlocks:       contents,
		BestBlockHeight: bestHeight,
	}); err != nil {
		return err
	}
	e.bestBlockHeight = bestHeight

	// The cheap mempool-congestion check only ever needs to run after
	// the chain tip moves (spec §4.9's first pathway).
	e.sched.ArmCheckMempoolSize()
	return nil
}

func (e *Engine) fetchHeader(ctx context.Context, hash chainhash.Hash) (blockwindow.BlockHeader, error) {
	info, err := e.rpc.GetBlockHeaderInfo(ctx, hash)
	if err != nil {
		return blockwindow.BlockHeader{}, err
	}
	return blockwindow.BlockHeader{Hash: info.Hash, PreviousHash: info.PreviousHash, Height: info.Height}, nil
}

func (e *Engine) fetchNewBlockContents(
	ctx context.Context, headers []blockwindow.BlockHeader,
) ([]analyzer.NewBlockContent, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	hashes := make([]chainhash.Hash, len(headers))
	for i, h := range headers {
		hashes[i] = h.Hash
	}
	blocks, errs := e.rpc.GetBlockTransactionsBatch(ctx, hashes)

	contents := make([]analyzer.NewBlockContent, len(headers))
	for i, h := range headers {
		contents[i] = analyzer.NewBlockContent{Header: h}
		if errs[i] == nil {
			contents[i].Block = blocks[i]
		} else {
			log.Warnf("engine: fetch block %s: %v", h.Hash, errs[i])
		}
	}
	return contents, nil
}

// handleRecheckMempoolBatch re-runs the Transaction Analyzer (without
// a conflict search — a mempool recheck never needs one, since any new
// conflict would already have been observed by the stream fast path or
// a reanalysis) over a scheduler-chosen batch of watched txids, spec
// §4.5 priority slot 5.
func (e *Engine) handleRecheckMempoolBatch(ctx context.Context, txids []chainhash.Hash) error {
	return e.runExclusive(ctx, func() error {
		for _, txid := range txids {
			if err := e.analyzeAndMerge(ctx, txid, false); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) handleCheckMempoolSize(ctx context.Context) error {
	info, err := e.rpc.GetMempoolInfo(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	event := e.mempool.ObserveSizeLowerBound(info.Bytes)
	e.mu.Unlock()
	if event != nil {
		e.wrappedHandlers.OnNewMempoolClearStatus(events.NewMempoolClearStatus{IsClear: event.IsClear})
	}
	return nil
}

// handleCheckRawMempool is the periodic authoritative mempool scan
// (spec §4.9's second pathway): it recomputes the true total weight
// and, since any mempool-status watched transaction can silently leave
// the mempool (eviction, a double-spend confirming elsewhere) with no
// stream signal at all, it re-enqueues every such txid for recheck.
func (e *Engine) handleCheckRawMempool(ctx context.Context) error {
	entries, err := e.rpc.GetRawMempool(ctx)
	if err != nil {
		return err
	}
	var totalWeight int64
	for _, entry := range entries {
		totalWeight += entry.Weight
	}

	e.mu.Lock()
	wasPending := e.mempool.ConsumeInitialSweepPending()
	event := e.mempool.ObserveRawMempoolWeight(totalWeight)
	var toRecheck []chainhash.Hash
	for txid, analysis := range e.state.Transactions {
		if analysis.Status == watchstate.StatusMempool {
			toRecheck = append(toRecheck, txid)
		}
	}
	e.mu.Unlock()

	if wasPending {
		log.Infof("engine: initial post-boot mempool sweep found %d mempool-status watched transactions", len(toRecheck))
	}
	if event != nil {
		e.wrappedHandlers.OnNewMempoolClearStatus(events.NewMempoolClearStatus{IsClear: event.IsClear})
	}
	e.sched.EnqueueRecheckMempool(toRecheck)
	return nil
}

// --- Stream pump ---

func (e *Engine) runStreamPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.stream.Events():
			if !ok {
				return
			}
			if ev.Topic == zmqstream.TopicRawTx {
				e.onRawTx(ctx, ev.Payload)
			}
		case _, ok := <-e.stream.BlockHint():
			if !ok {
				return
			}
			e.armDebouncedNewBlockCheck()
		case mon, ok := <-e.stream.Monitor():
			if !ok {
				return
			}
			log.Infof("engine: stream %s connected=%v err=%v", mon.Topic, mon.Connected, mon.Err)
		}
	}
}

// onRawTx is the stream fast path's entry point: while an RPC-driven
// analysis is in flight it only buffers the payload (spec §5's
// transaction_payloads_queue); otherwise it runs the fast path
// immediately.
func (e *Engine) onRawTx(ctx context.Context, payload []byte) {
	e.queueMu.Lock()
	if e.analysisInFlight {
		e.payloadQueue = append(e.payloadQueue, payload)
		e.queueMu.Unlock()
		return
	}
	e.queueMu.Unlock()

	e.processRawTx(ctx, payload)
}

func (e *Engine) processRawTx(ctx context.Context, payload []byte) {
	tx, err := txdecode.Decode(payload, e.params)
	if err != nil {
		log.Warnf("engine: decode raw-tx stream payload: %v", err)
		return
	}

	e.mu.Lock()
	isCoinbase := analyzer.HandleStreamTransaction(e.state, e.sched, e.wrappedHandlers, tx)
	e.mu.Unlock()

	if isCoinbase {
		e.armDebouncedNewBlockCheck()
	}
}

// armDebouncedNewBlockCheck coalesces a burst of same-block signals
// (the block-hint stream and a coinbase sighting on the tx stream
// commonly arrive within milliseconds of each other) into a single
// check_new_block turn, run NewBlockDebounce (3s by default) after the
// last signal in the burst: every signal restarts the timer.
func (e *Engine) armDebouncedNewBlockCheck() {
	debounce := e.cfg.NewBlockDebounce
	if debounce <= 0 {
		debounce = 3 * time.Second
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.newBlockTimer != nil {
		e.newBlockTimer.Stop()
	}
	e.newBlockTimer = time.AfterFunc(debounce, e.sched.ArmCheckNewBlock)
}
