package analyzer

import (
	"github.com/woofbotapp/woofbotapp-sub000/internal/events"
	"github.com/woofbotapp/woofbotapp-sub000/internal/scheduler"
	"github.com/woofbotapp/woofbotapp-sub000/internal/txdecode"
	"github.com/woofbotapp/woofbotapp-sub000/internal/watchstate"
)

// HandleStreamTransaction implements the Transaction Analyzer's stream
// fast path (spec §4.6): no RPC is issued; a freshly decoded raw-tx
// stream payload is checked against watch state directly. It returns
// true when the transaction is coinbase, a signal the caller should
// arm its debounced (3s) new-block check.
func HandleStreamTransaction(
	state *watchstate.State,
	sched *scheduler.Scheduler,
	handlers events.Handlers,
	tx *txdecode.Transaction,
) (isCoinbase bool) {
	if tx.Coinbase {
		return true
	}

	if analysis, watched := state.Transactions[tx.Txid]; watched && !analysis.HasInputs() {
		sched.EnqueueReanalyze(tx.Txid)
	}

	for _, out := range tx.Outputs {
		if out.Address == "" {
			continue
		}
		if _, watchedAddress := state.Addresses[out.Address]; watchedAddress {
			sched.EnqueueReanalyze(tx.Txid)
			break
		}
	}

	markConflicts(state, handlers, tx)

	return false
}

// markConflicts implements the conflict-index half of the stream fast
// path: for every input key this new transaction spends, every
// watched transaction sharing that key is merged with tx.Txid added to
// its conflicting set, and NewTransactionAnalysis fires if that
// changed anything.
func markConflicts(state *watchstate.State, handlers events.Handlers, tx *txdecode.Transaction) {
	seen := make(map[watchstate.InputKey]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		key := watchstate.NewInputKey(in.PreviousTxid, in.OutputIndex)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		for _, watchedTxid := range state.WatchedTxidsForInput(key, tx.Txid) {
			old := state.Transactions[watchedTxid]
			merged := old.Clone()
			merged.AddConflict(tx.Txid)
			state.SetAnalysis(watchedTxid, merged)

			if merged.ConflictCount() != old.ConflictCount() {
				handlers.OnNewTransactionAnalysis(events.NewTransactionAnalysis{
					Txid:        watchedTxid,
					OldAnalysis: old,
					NewAnalysis: merged,
				})
			}
		}
	}
}
