// Package blockwindow is the Analyzed-Block Window: a bounded ordered
// sequence of the last N block hashes still treated as reorg-able,
// with attach/detach/confirm accounting against a new chain tip, per
// spec §4.4. It has no knowledge of watch state; Integrate is handed a
// HeaderFetcher callback so this package stays an RPC-agnostic leaf.
package blockwindow

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Size is N from spec §4.4/§3: the window holds at most this many
// block hashes, and a transaction needs more than this many
// confirmations to be considered final.
const Size = 5

// BlockHeader is the minimal per-block data Integrate needs: its own
// hash, its parent's hash, and its height (used only to detect
// walking back past the genesis block).
type BlockHeader struct {
	Hash         chainhash.Hash
	PreviousHash chainhash.Hash
	Height       int32
}

// HeaderFetcher fetches a block's header-level fields by hash. The
// caller (internal/engine) supplies this over internal/bitcoindrpc.
type HeaderFetcher func(ctx context.Context, hash chainhash.Hash) (BlockHeader, error)

// Window is the bounded, ordered (oldest-first) sequence of analyzed
// block hashes.
type Window struct {
	n      int
	hashes []chainhash.Hash
}

// New constructs a Window seeded with initial hashes (oldest first,
// typically restored from persisted state at startup). initial is
// truncated to the last n entries if longer.
func New(n int, initial []chainhash.Hash) *Window {
	if n <= 0 {
		n = Size
	}
	hashes := append([]chainhash.Hash(nil), initial...)
	if len(hashes) > n {
		hashes = hashes[len(hashes)-n:]
	}
	return &Window{n: n, hashes: hashes}
}

// Hashes returns a copy of the current window, oldest first.
func (w *Window) Hashes() []chainhash.Hash {
	return append([]chainhash.Hash(nil), w.hashes...)
}

// Tip returns the newest (last) hash in the window, or the zero hash
// if the window is empty.
func (w *Window) Tip() chainhash.Hash {
	if len(w.hashes) == 0 {
		return chainhash.Hash{}
	}
	return w.hashes[len(w.hashes)-1]
}

// Contains reports whether hash is currently in the window.
func (w *Window) Contains(hash chainhash.Hash) bool {
	return indexOf(w.hashes, hash) >= 0
}

// IntegrateResult is the outcome of folding a new chain tip into the
// window.
type IntegrateResult struct {
	// NewBlocks is every newly fetched block, oldest first, from the
	// point it reconnects to the prior window up to the new tip.
	NewBlocks []BlockHeader

	// Window is the new window content after truncation to Size.
	Window []chainhash.Hash

	// Detached is the set of old hashes no longer on the best chain.
	Detached []chainhash.Hash

	// Confirmed is the set of hashes that aged out of the window,
	// newest-confirmed first; these are final per spec §4.4.
	Confirmed []chainhash.Hash

	// Skipped is true when the walk-back exhausted its N-step budget
	// without reconnecting to the prior (non-empty) window, meaning
	// some blocks in between were never observed (spec §4.4
	// invariant, "Blocks-Skipped").
	Skipped bool
}

// Integrate walks back from newTip along the node's reported chain (at
// most Size steps), then folds the result into the window. Call this
// only when newTip is not already in the window.
func (w *Window) Integrate(ctx context.Context, newTip chainhash.Hash, fetch HeaderFetcher) (IntegrateResult, error) {
	var reverseNewBlocks []BlockHeader // collected tip-first, reversed below

	cur := newTip
	for step := 0; step < w.n; step++ {
		hdr, err := fetch(ctx, cur)
		if err != nil {
			return IntegrateResult{}, err
		}
		reverseNewBlocks = append(reverseNewBlocks, hdr)

		if w.Contains(hdr.PreviousHash) || hdr.Height == 0 {
			break
		}
		cur = hdr.PreviousHash
	}

	newBlocks := make([]BlockHeader, len(reverseNewBlocks))
	for i, hdr := range reverseNewBlocks {
		newBlocks[len(reverseNewBlocks)-1-i] = hdr
	}

	lastAttachedIndex := -1
	if len(newBlocks) > 0 {
		lastAttachedIndex = indexOf(w.hashes, newBlocks[0].PreviousHash)
	}

	detached := append([]chainhash.Hash(nil), w.hashes[lastAttachedIndex+1:]...)

	combined := make([]chainhash.Hash, 0, lastAttachedIndex+1+len(newBlocks))
	combined = append(combined, w.hashes[:lastAttachedIndex+1]...)
	for _, hdr := range newBlocks {
		combined = append(combined, hdr.Hash)
	}

	var newWindow, confirmedOldestFirst []chainhash.Hash
	if len(combined) > w.n {
		dropped := len(combined) - w.n
		confirmedOldestFirst = combined[:dropped]
		newWindow = combined[dropped:]
	} else {
		newWindow = combined
	}

	confirmed := make([]chainhash.Hash, len(confirmedOldestFirst))
	for i, h := range confirmedOldestFirst {
		confirmed[len(confirmedOldestFirst)-1-i] = h
	}

	skipped := lastAttachedIndex == -1 && len(newBlocks) == w.n && len(w.hashes) > 0

	w.hashes = append([]chainhash.Hash(nil), newWindow...)

	return IntegrateResult{
		NewBlocks: newBlocks,
		Window:    append([]chainhash.Hash(nil), newWindow...),
		Detached:  detached,
		Confirmed: confirmed,
		Skipped:   skipped,
	}, nil
}

func indexOf(hashes []chainhash.Hash, target chainhash.Hash) int {
	for i, h := range hashes {
		if h == target {
			return i
		}
	}
	return -1
}
