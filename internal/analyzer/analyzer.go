// Package analyzer implements the Transaction Analyzer, Block
// Analyzer, and Address Income/Outgo Reporter of spec §4.6–§4.8. It
// depends on internal/bitcoindrpc's result types and internal/watchstate's
// data model, but owns no state itself: every function is handed the
// state to read or mutate and reports changes as events through the
// handlers it is given.
package analyzer

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/woofbotapp/woofbotapp-sub000/internal/bitcoindrpc"
	"github.com/woofbotapp/woofbotapp-sub000/internal/blockwindow"
	"github.com/woofbotapp/woofbotapp-sub000/internal/txdecode"
	"github.com/woofbotapp/woofbotapp-sub000/internal/watchstate"
)

// RPCClient is the narrow slice of internal/bitcoindrpc.Client the
// analyzer needs, so this package can be tested against a fake.
type RPCClient interface {
	GetRawTransaction(ctx context.Context, txid chainhash.Hash) (*bitcoindrpc.TxInfo, error)
	IsInMempool(ctx context.Context, txid chainhash.Hash) (bool, error)
	GetBlockTransactionsBatch(ctx context.Context, hashes []chainhash.Hash) ([]*bitcoindrpc.BlockInfo, []error)
	GetRawTransactionsBatch(ctx context.Context, txids []chainhash.Hash) ([]*bitcoindrpc.TxInfo, []error)
}

// AnalyzeTransaction implements the Transaction Analyzer (spec §4.6
// steps 1–6): it queries the node for txid and returns a fresh
// analysis. findConflicts additionally scans every transaction in the
// current analyzed window for a shared input. The returned analysis
// never carries ConflictingTransactions from a prior run — merging
// with the stored analysis is the caller's job (watchstate.Merge).
func AnalyzeTransaction(
	ctx context.Context,
	rpc RPCClient,
	params *chaincfg.Params,
	window *blockwindow.Window,
	txid chainhash.Hash,
	findConflicts bool,
) (*watchstate.TransactionAnalysis, error) {
	inMempool, err := rpc.IsInMempool(ctx, txid)
	if err != nil {
		return nil, err
	}

	txInfo, err := rpc.GetRawTransaction(ctx, txid)
	if err != nil {
		if !bitcoindrpc.IsNotFound(err) {
			return nil, err
		}
		status := watchstate.StatusUnpublished
		if inMempool {
			status = watchstate.StatusMempool
		}
		return &watchstate.TransactionAnalysis{Status: status}, nil
	}

	decoded, err := txdecode.FromMsgTx(txInfo.Tx, params)
	if err != nil {
		return nil, err
	}

	analysis := &watchstate.TransactionAnalysis{
		Confirmations:        txInfo.Confirmations,
		TransactionInputKeys: inputKeySet(decoded),
		RawTransaction:       txInfo.Tx,
		Status:               watchstate.StatusForConfirmations(txInfo.Confirmations, blockwindow.Size),
	}
	if txInfo.BlockHash != nil {
		analysis.AddBlockHash(*txInfo.BlockHash)
	}

	if findConflicts {
		conflicts, err := findConflictingTxids(ctx, rpc, params, window, txid, decoded)
		if err != nil {
			return nil, err
		}
		for _, conflict := range conflicts {
			analysis.AddConflict(conflict)
		}
	}

	return analysis, nil
}

func inputKeySet(tx *txdecode.Transaction) map[watchstate.InputKey]struct{} {
	keys := make(map[watchstate.InputKey]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		keys[watchstate.NewInputKey(in.PreviousTxid, in.OutputIndex)] = struct{}{}
	}
	return keys
}

// findConflictingTxids fetches every transaction in the current
// analyzed window and reports every txid (other than self) sharing an
// input with self, per spec §4.6 step 6.
func findConflictingTxids(
	ctx context.Context,
	rpc RPCClient,
	params *chaincfg.Params,
	window *blockwindow.Window,
	self chainhash.Hash,
	selfTx *txdecode.Transaction,
) ([]chainhash.Hash, error) {
	selfKeys := inputKeySet(selfTx)
	if len(selfKeys) == 0 {
		return nil, nil
	}

	blocks, errs := rpc.GetBlockTransactionsBatch(ctx, window.Hashes())
	var conflicts []chainhash.Hash
	seen := make(map[chainhash.Hash]struct{})
	for i, block := range blocks {
		if errs[i] != nil || block == nil {
			continue
		}
		for _, blockTx := range block.Txs {
			decoded, err := txdecode.FromMsgTx(blockTx.Tx, params)
			if err != nil {
				continue
			}
			if decoded.Txid == self {
				continue
			}
			if _, alreadyFound := seen[decoded.Txid]; alreadyFound {
				continue
			}
			for _, in := range decoded.Inputs {
				key := watchstate.NewInputKey(in.PreviousTxid, in.OutputIndex)
				if _, shared := selfKeys[key]; shared {
					conflicts = append(conflicts, decoded.Txid)
					seen[decoded.Txid] = struct{}{}
					break
				}
			}
		}
	}
	return conflicts, nil
}
