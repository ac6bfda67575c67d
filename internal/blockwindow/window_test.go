package blockwindow_test

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/woofbotapp/woofbotapp-sub000/internal/blockwindow"
)

func hash(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

// chain models a simple linear (or forked) set of blocks indexed by
// hash, for the HeaderFetcher callback.
type chain map[chainhash.Hash]blockwindow.BlockHeader

func (c chain) fetch(_ context.Context, hash chainhash.Hash) (blockwindow.BlockHeader, error) {
	return c[hash], nil
}

func TestIntegrateSingleNewBlock(t *testing.T) {
	h1, h2, h3, h4, h5 := hash(1), hash(2), hash(3), hash(4), hash(5)
	h6 := hash(6)

	c := chain{
		h1: {Hash: h1, Height: 1},
		h2: {Hash: h2, PreviousHash: h1, Height: 2},
		h3: {Hash: h3, PreviousHash: h2, Height: 3},
		h4: {Hash: h4, PreviousHash: h3, Height: 4},
		h5: {Hash: h5, PreviousHash: h4, Height: 5},
		h6: {Hash: h6, PreviousHash: h5, Height: 6},
	}

	w := blockwindow.New(5, []chainhash.Hash{h1, h2, h3, h4, h5})
	result, err := w.Integrate(context.Background(), h6, c.fetch)
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}

	if result.Skipped {
		t.Fatalf("did not expect Skipped")
	}
	wantWindow := []chainhash.Hash{h2, h3, h4, h5, h6}
	assertHashSlice(t, "Window", result.Window, wantWindow)
	assertHashSlice(t, "Confirmed", result.Confirmed, []chainhash.Hash{h1})
	if len(result.Detached) != 0 {
		t.Fatalf("expected no detached hashes, got %v", result.Detached)
	}
	assertHashSlice(t, "window after Integrate", w.Hashes(), wantWindow)
}

func TestIntegrateOneBlockReorg(t *testing.T) {
	h1, h2, h3, h4, h5 := hash(1), hash(2), hash(3), hash(4), hash(5)
	h5prime := hash(0x50)

	c := chain{
		h1:      {Hash: h1, Height: 1},
		h2:      {Hash: h2, PreviousHash: h1, Height: 2},
		h3:      {Hash: h3, PreviousHash: h2, Height: 3},
		h4:      {Hash: h4, PreviousHash: h3, Height: 4},
		h5:      {Hash: h5, PreviousHash: h4, Height: 5},
		h5prime: {Hash: h5prime, PreviousHash: h4, Height: 5},
	}

	w := blockwindow.New(5, []chainhash.Hash{h1, h2, h3, h4, h5})
	result, err := w.Integrate(context.Background(), h5prime, c.fetch)
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}

	if result.Skipped {
		t.Fatalf("did not expect Skipped for a same-parent reorg")
	}
	assertHashSlice(t, "Detached", result.Detached, []chainhash.Hash{h5})
	wantWindow := []chainhash.Hash{h1, h2, h3, h4, h5prime}
	assertHashSlice(t, "Window", result.Window, wantWindow)
	if len(result.Confirmed) != 0 {
		t.Fatalf("expected nothing confirmed, got %v", result.Confirmed)
	}
}

func TestIntegrateBlocksSkipped(t *testing.T) {
	h1, h2, h3, h4, h5 := hash(1), hash(2), hash(3), hash(4), hash(5)
	// A disjoint replacement chain sharing no parent with the old window.
	n1, n2, n3, n4, n5 := hash(0x11), hash(0x12), hash(0x13), hash(0x14), hash(0x15)

	c := chain{
		n1: {Hash: n1, Height: 101},
		n2: {Hash: n2, PreviousHash: n1, Height: 102},
		n3: {Hash: n3, PreviousHash: n2, Height: 103},
		n4: {Hash: n4, PreviousHash: n3, Height: 104},
		n5: {Hash: n5, PreviousHash: n4, Height: 105},
	}

	w := blockwindow.New(5, []chainhash.Hash{h1, h2, h3, h4, h5})
	result, err := w.Integrate(context.Background(), n5, c.fetch)
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}

	if !result.Skipped {
		t.Fatalf("expected Skipped when no new block reconnects to the old window")
	}
	assertHashSlice(t, "Detached", result.Detached, []chainhash.Hash{h1, h2, h3, h4, h5})
	wantWindow := []chainhash.Hash{n1, n2, n3, n4, n5}
	assertHashSlice(t, "Window", result.Window, wantWindow)
}

func assertHashSlice(t *testing.T, label string, got, want []chainhash.Hash) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d hashes, want %d (%v vs %v)", label, len(got), len(want), got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("%s[%d]: got %v, want %v", label, i, got[i], want[i])
		}
	}
}
