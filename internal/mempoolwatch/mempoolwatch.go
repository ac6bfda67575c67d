// Package mempoolwatch is the Mempool Observer: it maintains the
// coarse "is the mempool clear" boolean described by spec §4.9 from
// two pathways — a cheap byte-size lower bound after every new block,
// and a periodic authoritative raw-mempool weight scan — and tracks
// a one-shot flag marking the first raw-mempool scan after boot.
package mempoolwatch

// BlockWeightCap is one block's worth of weight units (spec glossary:
// "Mempool clear — total mempool weight < 4,000,000").
const BlockWeightCap = 4_000_000

// SizeLowerBoundMultiplier is the ×3 assumption about worst-case
// virtual-size-to-byte ratio used by the cheap lower-bound check.
// Preserved verbatim per spec §9's Open Question resolution.
const SizeLowerBoundMultiplier = 3

// ClearStatusEvent is returned by the Tracker's Observe* methods only
// when the mempool's clear/not-clear status actually changed.
type ClearStatusEvent struct {
	IsClear bool
}

// Tracker holds the mempool weight state machine. It is not safe for
// concurrent use; internal/engine is the single logical owner.
type Tracker struct {
	clear      *bool
	lastWeight int64

	pendingInitialSweep bool
}

// NewTracker returns a Tracker with its one-shot post-boot sweep still
// pending and no known clear/not-clear state.
func NewTracker() *Tracker {
	return &Tracker{pendingInitialSweep: true}
}

// IsClear returns the last known clear/not-clear state, or nil if no
// sample has been taken yet (spec §6: is_mempool_clear() -> optional
// bool).
func (t *Tracker) IsClear() *bool {
	if t.clear == nil {
		return nil
	}
	v := *t.clear
	return &v
}

// Weight returns the last raw-mempool-scan total weight (spec §6:
// get_mempool_weight() -> integer). Zero until the first scan.
func (t *Tracker) Weight() int64 {
	return t.lastWeight
}

// ObserveSizeLowerBound implements the cheap check of spec §4.5 step 6:
// given the node's reported mempool byte size, it can only ever
// conclusively detect "not clear" (a lower bound can't prove
// clearness). It returns a transition event only when this pushes a
// previously-clear (or previously-unknown) state to not-clear.
func (t *Tracker) ObserveSizeLowerBound(byteSize int64) *ClearStatusEvent {
	lowerBound := byteSize * SizeLowerBoundMultiplier
	if lowerBound <= BlockWeightCap {
		return nil
	}

	wasClear := t.clear
	notClear := false
	t.clear = &notClear

	if wasClear != nil && !*wasClear {
		return nil
	}
	return &ClearStatusEvent{IsClear: false}
}

// ObserveRawMempoolWeight implements the authoritative periodic scan
// of spec §4.9: it records the weight and emits a transition event iff
// a prior state was established and the new state differs from it.
func (t *Tracker) ObserveRawMempoolWeight(weight int64) *ClearStatusEvent {
	t.lastWeight = weight
	isClear := weight < BlockWeightCap

	wasClear := t.clear
	t.clear = &isClear

	if wasClear == nil || *wasClear == isClear {
		return nil
	}
	return &ClearStatusEvent{IsClear: isClear}
}

// ConsumeInitialSweepPending reports whether the first raw-mempool
// scan after boot is still pending, and clears the flag so it returns
// true exactly once. The engine only logs that first scan: like every
// later scan it queues the watched transactions with Mempool status
// into recheck_mempool_transactions, and no other unconfirmed
// transaction is queued.
func (t *Tracker) ConsumeInitialSweepPending() bool {
	pending := t.pendingInitialSweep
	t.pendingInitialSweep = false
	return pending
}
