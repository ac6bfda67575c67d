package engine

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/woofbotapp/woofbotapp-sub000/internal/watchstate"
)

// PersistedState is everything Start needs to seed the in-memory data
// model from an external store: the Analyzed-Block Window's hashes
// (oldest first) and every watched transaction's last known analysis.
// Watched addresses are not persisted (spec is silent on surviving a
// restart with addresses intact; this watcher treats watch_address as
// a live, caller-driven registration re-issued on reconnect, the same
// way watch_new_transaction must be re-issued for anything the store
// doesn't return here).
type PersistedState struct {
	AnalyzedBlockHashes []chainhash.Hash
	TransactionAnalyses map[chainhash.Hash]*watchstate.TransactionAnalysis
}

// Store is the external persistence boundary (spec §9 "Global state"):
// the engine itself keeps no durable state. Load is called once at
// startup; the Save/Delete methods are called synchronously from
// within the event handlers that produced the change, so a slow or
// failing Store only delays or logs a warning for that one handler,
// never corrupts in-memory state.
type Store interface {
	Load(ctx context.Context) (PersistedState, error)
	SaveBlockHashes(ctx context.Context, hashes []chainhash.Hash) error
	SaveTransactionAnalysis(ctx context.Context, txid chainhash.Hash, analysis *watchstate.TransactionAnalysis) error
	DeleteTransactionAnalysis(ctx context.Context, txid chainhash.Hash) error
}

// MemStore is an in-memory Store, the default for tests and for
// operators who accept losing watch state across a restart.
type MemStore struct {
	mu          sync.Mutex
	blockHashes []chainhash.Hash
	analyses    map[chainhash.Hash]*watchstate.TransactionAnalysis
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{analyses: make(map[chainhash.Hash]*watchstate.TransactionAnalysis)}
}

func (m *MemStore) Load(ctx context.Context) (PersistedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	analyses := make(map[chainhash.Hash]*watchstate.TransactionAnalysis, len(m.analyses))
	for txid, analysis := range m.analyses {
		analyses[txid] = analysis.Clone()
	}
	return PersistedState{
		AnalyzedBlockHashes: append([]chainhash.Hash(nil), m.blockHashes...),
		TransactionAnalyses: analyses,
	}, nil
}

func (m *MemStore) SaveBlockHashes(ctx context.Context, hashes []chainhash.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockHashes = append([]chainhash.Hash(nil), hashes...)
	return nil
}

func (m *MemStore) SaveTransactionAnalysis(
	ctx context.Context, txid chainhash.Hash, analysis *watchstate.TransactionAnalysis,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[txid] = analysis.Clone()
	return nil
}

func (m *MemStore) DeleteTransactionAnalysis(ctx context.Context, txid chainhash.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.analyses, txid)
	return nil
}
