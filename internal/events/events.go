// Package events defines the watcher's north-bound contract: the
// domain events the engine emits to collaborators, and the Handlers
// callback struct they register, mirroring the shape of
// rpcclient.NotificationHandlers (a struct of On*-style callback
// fields registered once at construction) rather than a generic
// publish/subscribe bus, per spec §6.
package events

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/woofbotapp/woofbotapp-sub000/internal/watchstate"
)

// NewTransactionAnalysis is emitted whenever a reanalysis changes an
// observable field of a watched transaction's analysis.
type NewTransactionAnalysis struct {
	Txid        chainhash.Hash
	OldAnalysis *watchstate.TransactionAnalysis
	NewAnalysis *watchstate.TransactionAnalysis
}

// NewBlockAnalyzed is emitted once per processed chain tip, after
// every per-transaction update it caused.
type NewBlockAnalyzed struct {
	BlockHashes     []chainhash.Hash
	BestBlockHeight int32
	NewBlocks       int
}

// PaymentStatus mirrors watchstate.Status for the north-bound payload
// (kept distinct so collaborators don't need to import watchstate).
type PaymentStatus = watchstate.Status

// NewAddressPayment is emitted for every incoming or outgoing payment
// observed on a watched address.
type NewAddressPayment struct {
	Address       string
	Txid          chainhash.Hash
	Status        PaymentStatus
	Confirmations uint32

	// MultiAddress is true when the paying/paid script would accept
	// multiple addresses (legacy bare multisig); only meaningful for
	// incoming payments.
	MultiAddress bool

	// Exactly one of IncomeSats/OutcomeSats is set, matching which
	// side of the transaction the address appeared on.
	IncomeSats  *int64
	OutcomeSats *int64
}

// AddressOverload is emitted when an address's already-reported set
// exceeds watchstate.AddressOverloadCap.
type AddressOverload struct {
	Address string
}

// NewMempoolClearStatus is emitted whenever the mempool weight crosses
// the block-weight cap in either direction.
type NewMempoolClearStatus struct {
	IsClear bool
}

// Handlers is the full set of north-bound callbacks a collaborator
// registers once at construction. Every field must be non-nil;
// internal/engine calls them synchronously from within the scheduler
// turn that produced the event, so a slow handler delays the next
// turn — collaborators needing to do slow work (persistence, HTTP)
// should hand off internally rather than block here.
type Handlers struct {
	// OnInitialTransactionAnalysis fires once per watch_new_transaction
	// call, carrying the first computed analysis.
	OnInitialTransactionAnalysis func(txid chainhash.Hash, analysis *watchstate.TransactionAnalysis)

	OnNewTransactionAnalysis func(event NewTransactionAnalysis)

	// OnBlocksSkipped fires when the Analyzed-Block Window's
	// walk-back could not reconnect to the prior window.
	OnBlocksSkipped func()

	OnNewBlockAnalyzed func(event NewBlockAnalyzed)

	OnNewAddressPayment func(event NewAddressPayment)

	OnAddressOverload func(event AddressOverload)

	OnNewMempoolClearStatus func(event NewMempoolClearStatus)
}
