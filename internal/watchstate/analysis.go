// Package watchstate holds the watcher's in-memory data model: the
// per-transaction analyses, the reverse conflict index keyed by input,
// and the per-address watch records. None of the types here are
// safe for concurrent use by themselves; internal/engine is the single
// logical owner and serializes all access with a mutex.
package watchstate

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Status is the coarse lifecycle stage of a watched transaction.
type Status int

const (
	// StatusUnpublished means the node has never seen the
	// transaction, neither in a block nor in its mempool.
	StatusUnpublished Status = iota

	// StatusMempool means the transaction sits in the node's
	// mempool with zero confirmations.
	StatusMempool

	// StatusPartialConfirmation means the transaction has between
	// one and blockwindow.Size confirmations.
	StatusPartialConfirmation

	// StatusFullConfirmation means the transaction has more than
	// blockwindow.Size confirmations and is considered final.
	StatusFullConfirmation
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusUnpublished:
		return "unpublished"
	case StatusMempool:
		return "mempool"
	case StatusPartialConfirmation:
		return "partial-confirmation"
	case StatusFullConfirmation:
		return "full-confirmation"
	default:
		return "unknown"
	}
}

// InputKey is the canonical "prev-txid:output-index" string form of a
// transaction input, used both as the conflict index's key and inside
// a TransactionAnalysis's TransactionInputKeys set.
type InputKey string

// NewInputKey builds the canonical input key for an outpoint.
func NewInputKey(prevTxid chainhash.Hash, index uint32) InputKey {
	return InputKey(prevTxid.String() + ":" + uitoa(index))
}

func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// TransactionAnalysis is the per-watched-transaction record described
// by the data model: status, the set of block hashes the transaction
// has been observed in (more than one across a reorg), confirmations,
// optional conflicting txids, optional input keys, and an optional
// cached decoded transaction.
type TransactionAnalysis struct {
	Status Status

	// BlockHashes is the set of block hashes where this transaction
	// has been seen. Reanalysis keeps hashes already recorded, so a
	// transaction back in the mempool after a reorg still lists them.
	BlockHashes map[chainhash.Hash]struct{}

	// Confirmations is 0 for mempool/unpublished transactions.
	Confirmations uint32

	// ConflictingTransactions is nil until a conflict search has run
	// at least once; thereafter it holds every txid observed to spend
	// one of this transaction's inputs.
	ConflictingTransactions map[chainhash.Hash]struct{}

	// TransactionInputKeys is nil while the transaction has not been
	// fetched in full: always for StatusUnpublished, and for
	// StatusMempool when the node lists the txid in its mempool but
	// returns no raw transaction for it. Once populated, the
	// conflict index mirrors every key here back to this txid.
	TransactionInputKeys map[InputKey]struct{}

	// RawTransaction is the cached decoded transaction, set once the
	// node has returned it in full.
	RawTransaction *wire.MsgTx
}

// NewUnpublished returns the zero-value analysis for a transaction the
// node has never seen.
func NewUnpublished() *TransactionAnalysis {
	return &TransactionAnalysis{Status: StatusUnpublished}
}

// HasInputs reports whether the input keys are known.
func (a *TransactionAnalysis) HasInputs() bool {
	return a.TransactionInputKeys != nil
}

// ConflictCount returns the number of known conflicting transactions.
func (a *TransactionAnalysis) ConflictCount() int {
	return len(a.ConflictingTransactions)
}

// Clone deep-copies the analysis so callers may hand out a snapshot
// (e.g. for an emitted event) without risking the engine mutating it
// from underneath.
func (a *TransactionAnalysis) Clone() *TransactionAnalysis {
	if a == nil {
		return nil
	}
	out := &TransactionAnalysis{
		Status:        a.Status,
		Confirmations: a.Confirmations,
	}
	if a.BlockHashes != nil {
		out.BlockHashes = make(map[chainhash.Hash]struct{}, len(a.BlockHashes))
		for h := range a.BlockHashes {
			out.BlockHashes[h] = struct{}{}
		}
	}
	if a.ConflictingTransactions != nil {
		out.ConflictingTransactions = make(map[chainhash.Hash]struct{}, len(a.ConflictingTransactions))
		for h := range a.ConflictingTransactions {
			out.ConflictingTransactions[h] = struct{}{}
		}
	}
	if a.TransactionInputKeys != nil {
		out.TransactionInputKeys = make(map[InputKey]struct{}, len(a.TransactionInputKeys))
		for k := range a.TransactionInputKeys {
			out.TransactionInputKeys[k] = struct{}{}
		}
	}
	out.RawTransaction = a.RawTransaction
	return out
}

// HasBlockHash reports whether the analysis already records the given
// block hash.
func (a *TransactionAnalysis) HasBlockHash(hash chainhash.Hash) bool {
	if a.BlockHashes == nil {
		return false
	}
	_, ok := a.BlockHashes[hash]
	return ok
}

// AddBlockHash records an additional block hash on the analysis,
// allocating the set if necessary.
func (a *TransactionAnalysis) AddBlockHash(hash chainhash.Hash) {
	if a.BlockHashes == nil {
		a.BlockHashes = make(map[chainhash.Hash]struct{}, 1)
	}
	a.BlockHashes[hash] = struct{}{}
}

// AddConflict records an additional conflicting txid, allocating the
// set if necessary.
func (a *TransactionAnalysis) AddConflict(txid chainhash.Hash) {
	if a.ConflictingTransactions == nil {
		a.ConflictingTransactions = make(map[chainhash.Hash]struct{}, 1)
	}
	a.ConflictingTransactions[txid] = struct{}{}
}

// Merge implements the merging rule of spec §4.6: new is the base;
// conflicting-transaction sets are unioned; block-hash sets are
// unioned only when preserveBlockHashes is true (reorg/confirmation
// paths), otherwise new.BlockHashes wins outright (initial analysis).
// The result reports whether an observable field changed relative to
// old (status, presence of inputs, or conflict-set size), per the
// NewTransactionAnalysis emission rule.
func Merge(old, new *TransactionAnalysis, preserveBlockHashes bool) (merged *TransactionAnalysis, changed bool) {
	merged = new.Clone()

	if old != nil {
		for h := range old.ConflictingTransactions {
			merged.AddConflict(h)
		}
		if preserveBlockHashes {
			for h := range old.BlockHashes {
				merged.AddBlockHash(h)
			}
		}
	}

	changed = old == nil ||
		old.Status != merged.Status ||
		old.HasInputs() != merged.HasInputs() ||
		old.ConflictCount() != merged.ConflictCount()

	return merged, changed
}

// StatusForConfirmations maps a raw confirmation count to the status
// enum per spec §4.8: 0 => Mempool, 1..windowSize => Partial, above
// => Full.
func StatusForConfirmations(confirmations, windowSize uint32) Status {
	switch {
	case confirmations == 0:
		return StatusMempool
	case confirmations <= windowSize:
		return StatusPartialConfirmation
	default:
		return StatusFullConfirmation
	}
}
