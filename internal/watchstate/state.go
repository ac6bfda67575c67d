package watchstate

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// AddressOverloadCap is the maximum number of concurrently-unconfirmed
// reported payments tracked per address before the set is cleared and
// an AddressOverload event fires (spec §4.8).
const AddressOverloadCap = 1000

// AddressWatch is the per-watched-address bookkeeping: which (txid)
// unconfirmed incoming payments have already been reported, and
// whether the address is currently flagged overloaded.
type AddressWatch struct {
	ReportedMempoolTxids map[chainhash.Hash]struct{}
	Overloaded           bool
}

// NewAddressWatch returns an empty AddressWatch.
func NewAddressWatch() *AddressWatch {
	return &AddressWatch{ReportedMempoolTxids: make(map[chainhash.Hash]struct{})}
}

// AlreadyReported reports whether a mempool (0-confirmation) payment
// for txid has already been reported for this address.
func (a *AddressWatch) AlreadyReported(txid chainhash.Hash) bool {
	_, ok := a.ReportedMempoolTxids[txid]
	return ok
}

// MarkReported records that a mempool payment for txid was reported.
// It returns true when recording it pushed the set over
// AddressOverloadCap, in which case the set is cleared and Overloaded
// is set here; emitting AddressOverload is the caller's responsibility
// since only the caller knows the address.
func (a *AddressWatch) MarkReported(txid chainhash.Hash) (overloaded bool) {
	a.ReportedMempoolTxids[txid] = struct{}{}
	if len(a.ReportedMempoolTxids) <= AddressOverloadCap {
		return false
	}
	a.ReportedMempoolTxids = make(map[chainhash.Hash]struct{})
	a.Overloaded = true
	return true
}

// ClearReported removes txid from the already-reported set, e.g.
// because the corresponding transaction is now final.
func (a *AddressWatch) ClearReported(txid chainhash.Hash) {
	delete(a.ReportedMempoolTxids, txid)
}

// State is the watcher's complete in-memory data model: every watched
// transaction's analysis, the reverse conflict index and every watched
// address. The analyzed-block window's hashes are held by
// blockwindow.Window, not by State.
//
// State itself does no locking; internal/engine is the single logical
// owner serializing every mutation, per spec §5.
type State struct {
	Transactions map[chainhash.Hash]*TransactionAnalysis

	// TransactionsByInput is the Conflict Index: input-key -> set of
	// watched txids whose inputs include that key.
	TransactionsByInput map[InputKey]map[chainhash.Hash]struct{}

	Addresses map[string]*AddressWatch
}

// NewState returns an empty State.
func NewState() *State {
	return &State{
		Transactions:        make(map[chainhash.Hash]*TransactionAnalysis),
		TransactionsByInput: make(map[InputKey]map[chainhash.Hash]struct{}),
		Addresses:           make(map[string]*AddressWatch),
	}
}

// WatchTransaction registers txid with an Unpublished analysis if it
// isn't already tracked. Returns false if it was already watched.
func (s *State) WatchTransaction(txid chainhash.Hash) bool {
	if _, ok := s.Transactions[txid]; ok {
		return false
	}
	s.Transactions[txid] = NewUnpublished()
	return true
}

// UnwatchTransaction removes txid from Transactions and every entry of
// the conflict index, maintaining the lockstep invariant of §3.
func (s *State) UnwatchTransaction(txid chainhash.Hash) {
	analysis, ok := s.Transactions[txid]
	if !ok {
		return
	}
	for key := range analysis.TransactionInputKeys {
		s.removeFromConflictIndex(key, txid)
	}
	delete(s.Transactions, txid)
}

// SetAnalysis replaces the stored analysis for txid, updating the
// conflict index to match the new set of input keys.
func (s *State) SetAnalysis(txid chainhash.Hash, analysis *TransactionAnalysis) {
	old := s.Transactions[txid]
	if old != nil {
		for key := range old.TransactionInputKeys {
			if _, stillPresent := analysis.TransactionInputKeys[key]; !stillPresent {
				s.removeFromConflictIndex(key, txid)
			}
		}
	}
	for key := range analysis.TransactionInputKeys {
		s.addToConflictIndex(key, txid)
	}
	s.Transactions[txid] = analysis
}

func (s *State) addToConflictIndex(key InputKey, txid chainhash.Hash) {
	set, ok := s.TransactionsByInput[key]
	if !ok {
		set = make(map[chainhash.Hash]struct{}, 1)
		s.TransactionsByInput[key] = set
	}
	set[txid] = struct{}{}
}

func (s *State) removeFromConflictIndex(key InputKey, txid chainhash.Hash) {
	set, ok := s.TransactionsByInput[key]
	if !ok {
		return
	}
	delete(set, txid)
	if len(set) == 0 {
		delete(s.TransactionsByInput, key)
	}
}

// WatchedTxidsForInput returns the watched txids sharing input key,
// excluding self (used by the conflict checker).
func (s *State) WatchedTxidsForInput(key InputKey, self chainhash.Hash) []chainhash.Hash {
	set := s.TransactionsByInput[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]chainhash.Hash, 0, len(set))
	for txid := range set {
		if txid != self {
			out = append(out, txid)
		}
	}
	return out
}

// WatchAddress registers address if not already watched. Returns the
// AddressWatch (new or existing) and whether it was already
// overloaded (the idempotent contract of spec §6's watch_address).
func (s *State) WatchAddress(address string) (watch *AddressWatch, alreadyOverloaded bool) {
	watch, ok := s.Addresses[address]
	if !ok {
		watch = NewAddressWatch()
		s.Addresses[address] = watch
	}
	return watch, watch.Overloaded
}

// UnwatchAddress removes address from the watch set.
func (s *State) UnwatchAddress(address string) {
	delete(s.Addresses, address)
}

// AllWatchedTxids returns every currently-watched txid, order
// unspecified.
func (s *State) AllWatchedTxids() []chainhash.Hash {
	out := make([]chainhash.Hash, 0, len(s.Transactions))
	for txid := range s.Transactions {
		out = append(out, txid)
	}
	return out
}
