package mempoolwatch_test

import (
	"testing"

	"github.com/woofbotapp/woofbotapp-sub000/internal/mempoolwatch"
)

func TestClearTransitionBothDirections(t *testing.T) {
	tr := mempoolwatch.NewTracker()

	if event := tr.ObserveRawMempoolWeight(5_000_000); event != nil {
		t.Fatalf("expected no event on the first-ever sample, got %+v", event)
	}
	if clear := tr.IsClear(); clear == nil || *clear {
		t.Fatalf("expected not-clear after a 5,000,000 weight sample")
	}

	event := tr.ObserveRawMempoolWeight(3_500_000)
	if event == nil || !event.IsClear {
		t.Fatalf("expected a clear=true transition event, got %+v", event)
	}

	event = tr.ObserveRawMempoolWeight(3_400_000)
	if event != nil {
		t.Fatalf("expected no event for a same-direction sample, got %+v", event)
	}

	event = tr.ObserveRawMempoolWeight(6_000_000)
	if event == nil || event.IsClear {
		t.Fatalf("expected a clear=false transition event, got %+v", event)
	}
}

func TestSizeLowerBoundOnlyDetectsNotClear(t *testing.T) {
	tr := mempoolwatch.NewTracker()

	if event := tr.ObserveSizeLowerBound(1_000_000); event != nil {
		t.Fatalf("expected no conclusion from a low byte size, got %+v", event)
	}
	if clear := tr.IsClear(); clear != nil {
		t.Fatalf("expected no established state from an inconclusive lower bound")
	}

	event := tr.ObserveSizeLowerBound(2_000_000)
	if event == nil || event.IsClear {
		t.Fatalf("expected a not-clear event once 3x byte size exceeds the cap, got %+v", event)
	}

	if event := tr.ObserveSizeLowerBound(2_000_000); event != nil {
		t.Fatalf("expected no repeat event for an already-not-clear state, got %+v", event)
	}
}

func TestInitialSweepFiresOnce(t *testing.T) {
	tr := mempoolwatch.NewTracker()
	if !tr.ConsumeInitialSweepPending() {
		t.Fatalf("expected the initial sweep to be pending on a fresh tracker")
	}
	if tr.ConsumeInitialSweepPending() {
		t.Fatalf("expected the initial sweep flag to be consumed after the first check")
	}
}
