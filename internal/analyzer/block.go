package analyzer

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/woofbotapp/woofbotapp-sub000/internal/bitcoindrpc"
	"github.com/woofbotapp/woofbotapp-sub000/internal/blockwindow"
	"github.com/woofbotapp/woofbotapp-sub000/internal/events"
	"github.com/woofbotapp/woofbotapp-sub000/internal/scheduler"
	"github.com/woofbotapp/woofbotapp-sub000/internal/txdecode"
	"github.com/woofbotapp/woofbotapp-sub000/internal/watchstate"
)

// NewBlockContent pairs a blockwindow.BlockHeader with its fully
// decoded transaction list, fetched separately from the header
// walk-back (blockwindow.Integrate only needs headers).
type NewBlockContent struct {
	Header blockwindow.BlockHeader
	Block  *bitcoindrpc.BlockInfo
}

// BlockAnalysisInput is everything AnalyzeBlock needs beyond the
// shared state/scheduler/handlers: the Analyzed-Block Window's
// Integrate result, the new blocks' full content in the same order,
// and the chain height of the new tip (used to compute confirmation
// counts for blocks below it).
type BlockAnalysisInput struct {
	Result          blockwindow.IntegrateResult
	NewBlocks       []NewBlockContent
	BestBlockHeight int32
}

// AnalyzeBlock implements the Block Analyzer (spec §4.7): it runs
// inside the scheduler's "check new block" slot after
// blockwindow.Window.Integrate returns.
func AnalyzeBlock(
	ctx context.Context,
	rpc RPCClient,
	params *chaincfg.Params,
	state *watchstate.State,
	sched *scheduler.Scheduler,
	handlers events.Handlers,
	input BlockAnalysisInput,
) error {
	if input.Result.Skipped {
		handlers.OnBlocksSkipped()
		for _, txid := range state.AllWatchedTxids() {
			sched.EnqueueReanalyze(txid)
		}
		for _, watch := range state.Addresses {
			watch.ReportedMempoolTxids = make(map[chainhash.Hash]struct{})
		}
	}

	attached := toHashSet(input.Result.Window)
	for _, h := range input.Result.Confirmed {
		attached[h] = struct{}{}
	}

	if err := processNewBlocks(ctx, rpc, params, state, handlers, input); err != nil {
		return err
	}

	promoteFullyConfirmed(state, sched, handlers, input.Result.Confirmed)

	enqueueReanalysisForDetached(state, sched, attached, input.Result.Detached)

	if err := reportConfirmedBlocks(ctx, rpc, params, state, handlers, input.Result.Confirmed); err != nil {
		return err
	}

	handlers.OnNewBlockAnalyzed(events.NewBlockAnalyzed{
		BlockHashes:     input.Result.Window,
		BestBlockHeight: input.BestBlockHeight,
		NewBlocks:       len(input.Result.NewBlocks),
	})

	return nil
}

func processNewBlocks(
	ctx context.Context,
	rpc RPCClient,
	params *chaincfg.Params,
	state *watchstate.State,
	handlers events.Handlers,
	input BlockAnalysisInput,
) error {
	for _, content := range input.NewBlocks {
		if content.Block == nil {
			continue
		}
		confirmations := uint32(input.BestBlockHeight - content.Header.Height + 1)

		decodedTxs := make([]*txdecode.Transaction, 0, len(content.Block.Txs))
		for _, blockTx := range content.Block.Txs {
			decoded, err := txdecode.FromMsgTx(blockTx.Tx, params)
			if err != nil {
				continue
			}
			decodedTxs = append(decodedTxs, decoded)

			promoteWatchedInBlock(state, handlers, decoded.Txid, content.Header.Hash, confirmations)
			markConflicts(state, handlers, decoded)
			ReportIncoming(state, handlers, decoded.Txid, decoded.Outputs, confirmations)
		}

		if err := reportOutgoingForBlock(ctx, rpc, params, state, handlers, decodedTxs, confirmations); err != nil {
			return err
		}
	}
	return nil
}

func promoteWatchedInBlock(
	state *watchstate.State,
	handlers events.Handlers,
	txid chainhash.Hash,
	blockHash chainhash.Hash,
	confirmations uint32,
) {
	old, watched := state.Transactions[txid]
	if !watched || old.HasBlockHash(blockHash) {
		return
	}

	merged := old.Clone()
	merged.AddBlockHash(blockHash)
	merged.Confirmations = confirmations
	newStatus := watchstate.StatusForConfirmations(confirmations, blockwindow.Size)
	if newStatus < watchstate.StatusPartialConfirmation {
		newStatus = watchstate.StatusPartialConfirmation
	}
	merged.Status = newStatus

	changed := old.Status != merged.Status || old.ConflictCount() != merged.ConflictCount()
	state.SetAnalysis(txid, merged)
	if changed {
		handlers.OnNewTransactionAnalysis(events.NewTransactionAnalysis{Txid: txid, OldAnalysis: old, NewAnalysis: merged})
	}
}

// promoteFullyConfirmed implements spec §4.7 step 4: a watched txid
// whose recorded block hashes include a now-confirmed (aged-out)
// block hash becomes final.
func promoteFullyConfirmed(
	state *watchstate.State,
	sched *scheduler.Scheduler,
	handlers events.Handlers,
	confirmed []chainhash.Hash,
) {
	for _, txid := range state.AllWatchedTxids() {
		old := state.Transactions[txid]
		for idx, hash := range confirmed {
			if !old.HasBlockHash(hash) {
				continue
			}
			merged := old.Clone()
			merged.Status = watchstate.StatusFullConfirmation
			merged.Confirmations = uint32(idx + 1 + blockwindow.Size)
			state.SetAnalysis(txid, merged)
			handlers.OnNewTransactionAnalysis(events.NewTransactionAnalysis{Txid: txid, OldAnalysis: old, NewAnalysis: merged})
			sched.EnqueueUnwatch(txid)
			break
		}
	}
}

// enqueueReanalysisForDetached implements spec §4.7 step 5.
func enqueueReanalysisForDetached(
	state *watchstate.State,
	sched *scheduler.Scheduler,
	attached map[chainhash.Hash]struct{},
	detached []chainhash.Hash,
) {
	detachedSet := toHashSet(detached)
	for _, txid := range state.AllWatchedTxids() {
		analysis := state.Transactions[txid]
		hasDetached, hasAttached := false, false
		for h := range analysis.BlockHashes {
			if _, ok := detachedSet[h]; ok {
				hasDetached = true
			}
			if _, ok := attached[h]; ok {
				hasAttached = true
			}
		}
		if hasDetached && !hasAttached {
			sched.EnqueueReanalyze(txid)
		}
	}
}

// reportConfirmedBlocks implements spec §4.7 step 6: once any address
// is watched, every transaction of every newly-confirmed (final)
// block is re-run through the address reporter with its final
// confirmation count, and its already-reported mempool entry is
// cleared.
func reportConfirmedBlocks(
	ctx context.Context,
	rpc RPCClient,
	params *chaincfg.Params,
	state *watchstate.State,
	handlers events.Handlers,
	confirmed []chainhash.Hash,
) error {
	if len(state.Addresses) == 0 || len(confirmed) == 0 {
		return nil
	}

	blocks, errs := rpc.GetBlockTransactionsBatch(ctx, confirmed)
	for i, block := range blocks {
		if errs[i] != nil || block == nil {
			continue
		}
		confirmations := uint32(i + 1 + blockwindow.Size)

		decodedTxs := make([]*txdecode.Transaction, 0, len(block.Txs))
		for _, blockTx := range block.Txs {
			decoded, err := txdecode.FromMsgTx(blockTx.Tx, params)
			if err != nil {
				continue
			}
			decodedTxs = append(decodedTxs, decoded)

			ReportIncoming(state, handlers, decoded.Txid, decoded.Outputs, confirmations)
			for _, out := range decoded.Outputs {
				if out.Address == "" {
					continue
				}
				if watch, ok := state.Addresses[out.Address]; ok {
					watch.ClearReported(decoded.Txid)
				}
			}
		}

		if err := reportOutgoingForBlock(ctx, rpc, params, state, handlers, decodedTxs, confirmations); err != nil {
			return err
		}
	}
	return nil
}

// reportOutgoingForBlock batch-resolves every input's previous output
// across decodedTxs in a single round-trip, then runs the outgoing
// half of the address reporter per transaction.
func reportOutgoingForBlock(
	ctx context.Context,
	rpc RPCClient,
	params *chaincfg.Params,
	state *watchstate.State,
	handlers events.Handlers,
	decodedTxs []*txdecode.Transaction,
	confirmations uint32,
) error {
	if len(state.Addresses) == 0 {
		return nil
	}

	distinctPrevTxids := make(map[chainhash.Hash]struct{})
	for _, tx := range decodedTxs {
		for _, in := range tx.Inputs {
			distinctPrevTxids[in.PreviousTxid] = struct{}{}
		}
	}
	if len(distinctPrevTxids) == 0 {
		return nil
	}

	prevTxids := make([]chainhash.Hash, 0, len(distinctPrevTxids))
	for txid := range distinctPrevTxids {
		prevTxids = append(prevTxids, txid)
	}
	prevInfos, errs := rpc.GetRawTransactionsBatch(ctx, prevTxids)

	prevTxByHash := make(map[chainhash.Hash]*txdecode.Transaction, len(prevTxids))
	for i, info := range prevInfos {
		if errs[i] != nil || info == nil {
			continue
		}
		decoded, err := txdecode.FromMsgTx(info.Tx, params)
		if err != nil {
			continue
		}
		prevTxByHash[prevTxids[i]] = decoded
	}

	lookup := func(prevTxid chainhash.Hash, index uint32) (*txdecode.Output, bool) {
		prevTx, ok := prevTxByHash[prevTxid]
		if !ok || int(index) >= len(prevTx.Outputs) {
			return nil, false
		}
		out := prevTx.Outputs[index]
		return &out, true
	}

	for _, tx := range decodedTxs {
		spent := SpentByWatchedAddress(state, tx, lookup)
		ReportOutgoing(handlers, tx.Txid, spent, confirmations)
	}
	return nil
}

func toHashSet(hashes []chainhash.Hash) map[chainhash.Hash]struct{} {
	set := make(map[chainhash.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set
}
