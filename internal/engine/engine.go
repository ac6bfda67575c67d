// Package engine is the Watcher (spec §9 "Global state"): it owns the
// single in-memory copy of watch state and the Analyzed-Block Window,
// wires every leaf package (RPC client, stream subscriber, scheduler,
// analyzer, mempool observer) together, and exposes the north-bound
// control surface of spec §6.
//
// Two locks divide the work: mu guards state/window and is held for
// the full duration of a scheduler turn's RPC-and-mutate body, so the
// RPC client's own serialization (one turn at a time) is all that's
// otherwise needed; queueMu guards only the analysisInFlight flag and
// the buffered raw-tx payload queue the stream pump uses to avoid ever
// waiting out an RPC round-trip itself (spec §5).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	goerrors "github.com/go-errors/errors"
	"github.com/woofbotapp/woofbotapp-sub000/internal/analyzer"
	"github.com/woofbotapp/woofbotapp-sub000/internal/bitcoindrpc"
	"github.com/woofbotapp/woofbotapp-sub000/internal/blockwindow"
	"github.com/woofbotapp/woofbotapp-sub000/internal/events"
	"github.com/woofbotapp/woofbotapp-sub000/internal/mempoolwatch"
	"github.com/woofbotapp/woofbotapp-sub000/internal/scheduler"
	"github.com/woofbotapp/woofbotapp-sub000/internal/watchstate"
	"github.com/woofbotapp/woofbotapp-sub000/internal/zmqstream"
)

// RPCClient is every bitcoindrpc.Client method the engine needs,
// narrowed for testability the same way analyzer.RPCClient is.
type RPCClient interface {
	analyzer.RPCClient
	GetBlockchainInfo(ctx context.Context) (*bitcoindrpc.BlockchainInfo, error)
	GetBestBlockHash(ctx context.Context) (chainhash.Hash, error)
	GetBlockHeaderInfo(ctx context.Context, hash chainhash.Hash) (*bitcoindrpc.BlockHeaderInfo, error)
	GetNotificationEndpoints(ctx context.Context) (*bitcoindrpc.NotificationEndpoints, error)
	GetRawMempool(ctx context.Context) (map[chainhash.Hash]bitcoindrpc.MempoolEntry, error)
	GetMempoolInfo(ctx context.Context) (*bitcoindrpc.MempoolInfo, error)
}

// StreamSource is the slice of *zmqstream.Subscriber the engine needs,
// narrowed so tests can substitute a fake without a real ZMQ socket.
type StreamSource interface {
	Events() <-chan zmqstream.Event
	BlockHint() <-chan zmqstream.BlockHint
	Monitor() <-chan zmqstream.MonitorEvent
	Start()
	Stop()
}

// StreamBuilder constructs a StreamSource once the engine has
// discovered (or fallen back to) the node's ZMQ endpoints.
type StreamBuilder func(cfg zmqstream.Config) StreamSource

func defaultStreamBuilder(cfg zmqstream.Config) StreamSource {
	return zmqstream.New(cfg)
}

// Config is everything New needs to construct an Engine. Start does
// the actual node/store/stream wiring; New performs no I/O.
type Config struct {
	RPC      RPCClient
	Store    Store
	Handlers events.Handlers

	StreamBuilder StreamBuilder

	// NodeHost substitutes for loopback addresses the node advertises
	// about itself (zmqstream.Config.NodeHost).
	NodeHost string

	// FallbackRawTxEndpoint/FallbackBlockEndpoint are used only when
	// the node's own getzmqnotifications call doesn't advertise that
	// topic (spec §4.2/§6).
	FallbackRawTxEndpoint string
	FallbackBlockEndpoint string

	// BlockchainInfoRetries/BlockchainInfoRetryInterval bound the
	// startup retry budget for reaching the node at all (spec §7's
	// only fatal condition). Zero means 6 attempts, 20s apart.
	BlockchainInfoRetries       int
	BlockchainInfoRetryInterval time.Duration

	// MempoolScanInterval is the periodic authoritative raw-mempool
	// weight scan cadence. Zero means 10 minutes.
	MempoolScanInterval time.Duration

	// NewBlockDebounce coalesces a burst of block-hint signals (the
	// block-hint stream and a coinbase sighting on the tx stream
	// commonly arrive together) into one check_new_block turn. Zero
	// means 3s.
	NewBlockDebounce time.Duration
}

// Engine is the Watcher. Construct with New, then Start it once; Start
// blocks doing nothing itself (everything it kicks off runs in
// background goroutines) and returns once the watcher is live.
type Engine struct {
	cfg   Config
	rpc   RPCClient
	store Store

	extHandlers     events.Handlers
	wrappedHandlers events.Handlers

	sched   *scheduler.Scheduler
	mempool *mempoolwatch.Tracker

	stream       StreamSource
	streamCancel context.CancelFunc

	// mu guards state, window, and every other field below except the
	// analysisInFlight/payloadQueue pair: it is held for the entire
	// duration of a scheduler-turn handler's RPC-and-mutate body (via
	// runExclusive), not just around the mutation, so every external
	// control-surface call and every scheduler turn see a consistent
	// state. It is deliberately never held by the stream pump's
	// buffer-or-process decision (queueMu below) — that decision must
	// stay cheap so a slow in-flight analysis can never stall the ZMQ
	// receive loop.
	mu              sync.Mutex
	params          *chaincfg.Params
	chain           bitcoindrpc.Chain
	state           *watchstate.State
	window          *blockwindow.Window
	bestBlockHeight int32
	newBlockTimer   *time.Timer

	// queueMu guards analysisInFlight and payloadQueue only, per spec
	// §5's transaction_payloads_queue: checking/buffering a raw-tx
	// payload must never wait out a scheduler turn's RPC round-trip.
	queueMu          sync.Mutex
	analysisInFlight bool
	payloadQueue     [][]byte
}

// New constructs an Engine. It performs no I/O; call Start to connect
// to the node and begin watching.
func New(cfg Config) *Engine {
	e := &Engine{
		cfg:         cfg,
		rpc:         cfg.RPC,
		store:       cfg.Store,
		extHandlers: cfg.Handlers,
		mempool:     mempoolwatch.NewTracker(),
		state:       watchstate.NewState(),
		window:      blockwindow.New(blockwindow.Size, nil),
	}
	e.wrappedHandlers = e.buildWrappedHandlers()
	e.sched = scheduler.New(scheduler.Handlers{
		Unwatch:             e.handleUnwatch,
		AnalyzeNew:          e.handleAnalyzeNew,
		Reanalyze:           e.handleReanalyze,
		CheckNewBlock:       e.handleCheckNewBlock,
		RecheckMempoolBatch: e.handleRecheckMempoolBatch,
		CheckMempoolSize:    e.handleCheckMempoolSize,
		CheckRawMempool:     e.handleCheckRawMempool,
	})
	return e
}

// buildWrappedHandlers wraps the collaborator-supplied Handlers with
// the persistence side effects spec §9 assigns to every emitted event
// that changes durable state; the collaborator's own callback always
// runs after the store write.
func (e *Engine) buildWrappedHandlers() events.Handlers {
	ext := e.extHandlers
	return events.Handlers{
		OnInitialTransactionAnalysis: func(txid chainhash.Hash, analysis *watchstate.TransactionAnalysis) {
			e.persistTransactionAnalysis(txid, analysis)
			ext.OnInitialTransactionAnalysis(txid, analysis)
		},
		OnNewTransactionAnalysis: func(ev events.NewTransactionAnalysis) {
			e.persistTransactionAnalysis(ev.Txid, ev.NewAnalysis)
			ext.OnNewTransactionAnalysis(ev)
		},
		OnBlocksSkipped: ext.OnBlocksSkipped,
		OnNewBlockAnalyzed: func(ev events.NewBlockAnalyzed) {
			e.persistBlockHashes(ev.BlockHashes)
			ext.OnNewBlockAnalyzed(ev)
		},
		OnNewAddressPayment:     ext.OnNewAddressPayment,
		OnAddressOverload:       ext.OnAddressOverload,
		OnNewMempoolClearStatus: ext.OnNewMempoolClearStatus,
	}
}

func (e *Engine) persistTransactionAnalysis(txid chainhash.Hash, analysis *watchstate.TransactionAnalysis) {
	if err := e.store.SaveTransactionAnalysis(context.Background(), txid, analysis); err != nil {
		log.Warnf("engine: persist analysis for %s: %v", txid, err)
	}
}

func (e *Engine) persistBlockHashes(hashes []chainhash.Hash) {
	if err := e.store.SaveBlockHashes(context.Background(), hashes); err != nil {
		log.Warnf("engine: persist block hashes: %v", err)
	}
}

// Start fetches the node's chain identity (retrying per
// BlockchainInfoRetries/BlockchainInfoRetryInterval — the watcher's
// only fatal startup condition, spec §7), discovers or falls back to
// its ZMQ endpoints, seeds state from Store, connects every stream,
// and arms the initial mempool sweep and block check. It returns once
// everything is running; callers should select on ctx.Done() to block
// for the watcher's lifetime and then call Stop.
func (e *Engine) Start(ctx context.Context) error {
	info, err := e.fetchBlockchainInfoWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("engine: start: %w", err)
	}

	e.mu.Lock()
	e.chain = info.Chain
	e.bestBlockHeight = info.Blocks
	e.params = paramsForChain(info.Chain)
	e.mu.Unlock()

	endpoints, err := e.rpc.GetNotificationEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("engine: start: notification endpoints: %w", err)
	}
	rawTx := firstNonEmpty(endpoints.RawTx, e.cfg.FallbackRawTxEndpoint)
	if rawTx == "" {
		return goerrors.New("engine: start: node advertises no rawtx zmq endpoint and no fallback is configured")
	}
	rawBlock := firstNonEmpty(endpoints.RawBlock, e.cfg.FallbackBlockEndpoint)

	persisted, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("engine: start: load persisted state: %w", err)
	}
	e.mu.Lock()
	e.window = blockwindow.New(blockwindow.Size, persisted.AnalyzedBlockHashes)
	for txid, analysis := range persisted.TransactionAnalyses {
		e.state.SetAnalysis(txid, analysis)
	}
	e.mu.Unlock()

	builder := e.cfg.StreamBuilder
	if builder == nil {
		builder = defaultStreamBuilder
	}
	e.stream = builder(zmqstream.Config{
		NodeHost:         e.cfg.NodeHost,
		RawTxEndpoint:    rawTx,
		RawBlockEndpoint: rawBlock,
		SequenceEndpoint: endpoints.Sequence,
	})
	e.stream.Start()

	runCtx, cancel := context.WithCancel(ctx)
	e.streamCancel = cancel

	go e.runStreamPump(runCtx)
	go e.runMempoolScanTicker(runCtx)
	go e.sched.Start(runCtx)

	e.sched.ArmCheckRawMempool()
	e.sched.ArmCheckNewBlock()

	return nil
}

// Stop disconnects the stream and stops every background goroutine
// Start launched. The scheduler's own turn loop exits when its ctx (a
// child of the ctx passed to Start) is canceled by the caller.
func (e *Engine) Stop() {
	if e.streamCancel != nil {
		e.streamCancel()
	}
	if e.stream != nil {
		e.stream.Stop()
	}
	e.mu.Lock()
	if e.newBlockTimer != nil {
		e.newBlockTimer.Stop()
	}
	e.mu.Unlock()
}

func (e *Engine) fetchBlockchainInfoWithRetry(ctx context.Context) (*bitcoindrpc.BlockchainInfo, error) {
	attempts := e.cfg.BlockchainInfoRetries
	if attempts <= 0 {
		attempts = 6
	}
	interval := e.cfg.BlockchainInfoRetryInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		info, err := e.rpc.GetBlockchainInfo(ctx)
		if err == nil {
			return info, nil
		}
		lastErr = err
		log.Warnf("engine: blockchain info attempt %d/%d failed: %v", attempt, attempts, err)
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("node unreachable after %d attempts: %w", attempts, lastErr)
}

func (e *Engine) runMempoolScanTicker(ctx context.Context) {
	interval := e.cfg.MempoolScanInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sched.ArmCheckRawMempool()
		}
	}
}

func paramsForChain(chain bitcoindrpc.Chain) *chaincfg.Params {
	switch chain {
	case bitcoindrpc.ChainTestnet:
		return &chaincfg.TestNet3Params
	case bitcoindrpc.ChainRegtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// --- Control surface (spec §6) ---

// WatchNewTransaction registers txid for watching if it isn't already,
// and schedules the priority-2 new-watch turn that runs the Transaction
// Analyzer once and emits OnInitialTransactionAnalysis with its result
// (spec §4.5); nothing is emitted here synchronously, since the
// Unpublished placeholder the state starts with is never itself a
// reportable analysis. Idempotent: re-watching an already-watched txid
// does nothing.
func (e *Engine) WatchNewTransaction(txid chainhash.Hash) {
	e.mu.Lock()
	isNew := e.state.WatchTransaction(txid)
	e.mu.Unlock()

	if !isNew {
		return
	}
	e.sched.EnqueueNewWatch(txid)
}

// UnwatchTransaction enqueues txid's removal at the scheduler's
// highest priority slot, so a pending analysis for the same txid never
// races a removal.
func (e *Engine) UnwatchTransaction(txid chainhash.Hash) {
	e.sched.EnqueueUnwatch(txid)
}

// WatchAddress registers address for watching if it isn't already
// (idempotent) and reports whether it was already flagged overloaded.
func (e *Engine) WatchAddress(address string) (alreadyOverloaded bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, alreadyOverloaded = e.state.WatchAddress(address)
	return alreadyOverloaded
}

// UnwatchAddress removes address from the watch set.
func (e *Engine) UnwatchAddress(address string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.UnwatchAddress(address)
}

// CountTasks returns the scheduler's total pending-task count.
func (e *Engine) CountTasks() int {
	return e.sched.CountTasks()
}

// GetChain returns the node's network, as discovered at Start.
func (e *Engine) GetChain() bitcoindrpc.Chain {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chain
}

// GetMempoolWeight returns the last authoritative raw-mempool scan's
// total weight.
func (e *Engine) GetMempoolWeight() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mempool.Weight()
}

// IsMempoolClear returns the mempool's last known clear/not-clear
// state, or nil before the first sample.
func (e *Engine) IsMempoolClear() *bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mempool.IsClear()
}
