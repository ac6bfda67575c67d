// Command woofbot-watcher is the watcher daemon's entry point: load
// configuration, wire logging, construct the Watcher (internal/engine)
// against a real bitcoind RPC client and ZMQ stream, and run until a
// shutdown signal arrives, per spec §6/§9.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btclog"
	"github.com/jessevdk/go-flags"
	"github.com/woofbotapp/woofbotapp-sub000/internal/bitcoindrpc"
	"github.com/woofbotapp/woofbotapp-sub000/internal/config"
	"github.com/woofbotapp/woofbotapp-sub000/internal/engine"
	"github.com/woofbotapp/woofbotapp-sub000/internal/events"
	"github.com/woofbotapp/woofbotapp-sub000/internal/logging"
	"github.com/woofbotapp/woofbotapp-sub000/internal/scheduler"
	"github.com/woofbotapp/woofbotapp-sub000/internal/watchstate"
	"github.com/woofbotapp/woofbotapp-sub000/internal/zmqstream"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	if err := setupLogging(cfg); err != nil {
		return fmt.Errorf("woofbot-watcher: %w", err)
	}
	defer logging.Close()

	rpc, err := bitcoindrpc.New(cfg.RPCConfig())
	if err != nil {
		return fmt.Errorf("woofbot-watcher: %w", err)
	}
	defer rpc.Close()

	eng := engine.New(engine.Config{
		RPC:                   rpc,
		Store:                 engine.NewMemStore(),
		Handlers:              loggingOnlyHandlers(),
		NodeHost:              cfg.NodeHost,
		FallbackRawTxEndpoint: cfg.FallbackRawTxEndpoint(),
		FallbackBlockEndpoint: cfg.FallbackBlockEndpoint(),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("woofbot-watcher: %w", err)
	}
	defer eng.Stop()

	var debugServer *http.Server
	if cfg.DebugHTTPAddr != "" {
		debugServer = startDebugServer(cfg.DebugHTTPAddr, eng)
		defer debugServer.Close()
	}

	<-ctx.Done()
	log.Infof("woofbot-watcher: shutdown signal received")
	return nil
}

func setupLogging(cfg *config.Config) error {
	if cfg.LogFile != "" {
		if err := logging.InitRotator(cfg.LogFile, cfg.MaxLogFileSize, cfg.MaxLogFiles); err != nil {
			return err
		}
	}
	logging.NewSubLogger("RPCC", bitcoindrpc.UseLogger)
	logging.NewSubLogger("ZMQS", zmqstream.UseLogger)
	logging.NewSubLogger("SCHD", scheduler.UseLogger)
	logging.NewSubLogger("WTCH", engine.UseLogger)
	logging.NewSubLogger(subsystem, func(logger btclog.Logger) { log = logger })
	logging.SetAllLevels(cfg.DebugLevel)
	return nil
}

// loggingOnlyHandlers is the default collaborator: it only logs every
// event, which is enough to run the watcher standalone. A real
// deployment wiring a downstream consumer (a message queue, a webhook
// dispatcher) would replace this with its own events.Handlers.
func loggingOnlyHandlers() events.Handlers {
	return events.Handlers{
		OnInitialTransactionAnalysis: func(txid chainhash.Hash, analysis *watchstate.TransactionAnalysis) {
			log.Infof("initial analysis for %s: %s", txid, analysis.Status)
		},
		OnNewTransactionAnalysis: func(ev events.NewTransactionAnalysis) {
			log.Infof("new analysis for %s: %s -> %s", ev.Txid, ev.OldAnalysis.Status, ev.NewAnalysis.Status)
		},
		OnBlocksSkipped: func() {
			log.Warnf("blocks skipped: analyzed-block window could not reconnect")
		},
		OnNewBlockAnalyzed: func(ev events.NewBlockAnalyzed) {
			log.Infof("analyzed %d new block(s), tip height %d", ev.NewBlocks, ev.BestBlockHeight)
		},
		OnNewAddressPayment: func(ev events.NewAddressPayment) {
			log.Infof("payment on %s: txid=%s status=%s confirmations=%d", ev.Address, ev.Txid, ev.Status, ev.Confirmations)
		},
		OnAddressOverload: func(ev events.AddressOverload) {
			log.Warnf("address overloaded, reported-payment tracking reset: %s", ev.Address)
		},
		OnNewMempoolClearStatus: func(ev events.NewMempoolClearStatus) {
			log.Infof("mempool clear status changed: %v", ev.IsClear)
		},
	}
}

func startDebugServer(addr string, eng *engine.Engine) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Chain          string `json:"chain"`
			MempoolWeight  int64  `json:"mempool_weight"`
			MempoolClear   *bool  `json:"mempool_clear"`
			PendingTaskCount int  `json:"pending_task_count"`
		}{
			Chain:            string(eng.GetChain()),
			MempoolWeight:    eng.GetMempoolWeight(),
			MempoolClear:     eng.IsMempoolClear(),
			PendingTaskCount: eng.CountTasks(),
		})
	})
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("woofbot-watcher: diagnostics server: %v", err)
		}
	}()
	return server
}
