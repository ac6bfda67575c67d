package analyzer

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/woofbotapp/woofbotapp-sub000/internal/blockwindow"
	"github.com/woofbotapp/woofbotapp-sub000/internal/events"
	"github.com/woofbotapp/woofbotapp-sub000/internal/txdecode"
	"github.com/woofbotapp/woofbotapp-sub000/internal/watchstate"
)

type addressIncome struct {
	sats int64
	multi bool
}

// ReportIncoming implements the incoming half of the Address
// Income/Outgo Reporter (spec §4.8). Outputs paying a watched address
// are summed per address and reported once; mempool-level (0
// confirmation) reports are deduped per (address, txid) via the
// address's already-reported set, clearing into an AddressOverload
// event once the cap is exceeded.
func ReportIncoming(
	state *watchstate.State,
	handlers events.Handlers,
	txid chainhash.Hash,
	outputs []txdecode.Output,
	confirmations uint32,
) {
	byAddress := make(map[string]*addressIncome)
	for _, out := range outputs {
		if out.Address == "" {
			continue
		}
		agg, ok := byAddress[out.Address]
		if !ok {
			agg = &addressIncome{}
			byAddress[out.Address] = agg
		}
		agg.sats += out.ValueSats
		if out.MultiAddress {
			agg.multi = true
		}
	}
	if len(byAddress) == 0 {
		return
	}

	status := watchstate.StatusForConfirmations(confirmations, blockwindow.Size)

	for address, agg := range byAddress {
		watch, watched := state.Addresses[address]
		if !watched {
			continue
		}
		if status == watchstate.StatusMempool {
			if watch.AlreadyReported(txid) {
				continue
			}
			if watch.MarkReported(txid) {
				handlers.OnAddressOverload(events.AddressOverload{Address: address})
				continue
			}
		}

		income := agg.sats
		handlers.OnNewAddressPayment(events.NewAddressPayment{
			Address:       address,
			Txid:          txid,
			Status:        status,
			Confirmations: confirmations,
			MultiAddress:  agg.multi,
			IncomeSats:    &income,
		})
	}
}

// ReportOutgoing implements the outgoing half of the reporter: spent
// is the per-watched-address satoshi total this transaction's inputs
// drew from (already computed by the caller by batch-fetching each
// input's previous transaction).
func ReportOutgoing(
	handlers events.Handlers,
	txid chainhash.Hash,
	spent map[string]int64,
	confirmations uint32,
) {
	if len(spent) == 0 {
		return
	}
	status := watchstate.StatusForConfirmations(confirmations, blockwindow.Size)

	for address, sats := range spent {
		outcome := sats
		handlers.OnNewAddressPayment(events.NewAddressPayment{
			Address:       address,
			Txid:          txid,
			Status:        status,
			Confirmations: confirmations,
			MultiAddress:  false,
			OutcomeSats:   &outcome,
		})
	}
}

// SpentByWatchedAddress computes, for a decoded transaction's inputs,
// the total satoshis drawn from each watched address, using
// previousOutput to resolve each input's previous-transaction output.
// previousOutput returning (nil, false) for an input silently excludes
// it (the previous tx couldn't be fetched; it will be retried on the
// next pass over this block).
func SpentByWatchedAddress(
	state *watchstate.State,
	tx *txdecode.Transaction,
	previousOutput func(prevTxid chainhash.Hash, index uint32) (*txdecode.Output, bool),
) map[string]int64 {
	spent := make(map[string]int64)
	for _, in := range tx.Inputs {
		out, ok := previousOutput(in.PreviousTxid, in.OutputIndex)
		if !ok || out.Address == "" {
			continue
		}
		if _, watched := state.Addresses[out.Address]; !watched {
			continue
		}
		spent[out.Address] += out.ValueSats
	}
	return spent
}
