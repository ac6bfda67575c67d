// Package zmqstream is the Stream Subscriber leaf: it connects to a
// bitcoind-style node's ZeroMQ publish endpoints and delivers framed
// messages tagged by topic, reconnecting and emitting monitoring
// events on disconnect, per spec §4.2/§5.
package zmqstream

import (
	"context"
	"strings"
	"time"

	"github.com/lightninglabs/gozmq"
	"github.com/woofbotapp/woofbotapp-sub000/internal/queue"
)

// Topic names the three ZMQ publish topics a node may advertise.
type Topic string

const (
	TopicRawTx    Topic = "rawtx"
	TopicRawBlock Topic = "rawblock"
	TopicSequence Topic = "sequence"
)

// sequenceLabelConnectedBlock is the 33rd byte (index 32) of a
// `sequence` topic payload when it announces a newly connected block;
// every other label (disconnected block, mempool add/remove) is
// discarded here per spec §4.2.
const sequenceLabelConnectedBlock = 'C'

// Event is a single message received on one of the subscribed topics.
type Event struct {
	Topic   Topic
	Payload []byte
}

// MonitorEvent surfaces connect/disconnect transitions for operators,
// per spec §5's "periodic monitor event surfaces the state".
type MonitorEvent struct {
	Topic     Topic
	Connected bool
	Err       error
}

// BlockHint signals "a new block likely exists"; it carries no
// payload because the block-stream and sequence-stream both only hint
// at existence, per spec §4.2.
type BlockHint struct{}

// Config describes the endpoints to subscribe to and the fallback
// behavior when the node doesn't advertise any block-hinting stream.
type Config struct {
	// NodeHost is the configured host the watcher uses to reach the
	// node's RPC; it substitutes for loopback addresses the node
	// advertises about itself when the node is not local (spec §4.2).
	NodeHost string

	// RawTxEndpoint is mandatory; a missing raw-tx endpoint is a
	// fatal startup condition per spec §6.
	RawTxEndpoint string

	// RawBlockEndpoint is preferred over SequenceEndpoint when both
	// are present. Either may be empty.
	RawBlockEndpoint string
	SequenceEndpoint string

	// PollingFallbackInterval is used for the best-block-hash
	// polling fallback when neither block-hinting stream is
	// available. Spec §4.2 mandates 60s.
	PollingFallbackInterval time.Duration

	// ReconnectBackoff bounds the delay between reconnect attempts
	// on a dropped ZMQ connection.
	ReconnectBackoff time.Duration

	// BufferSize and PollTimeout tune the underlying gozmq.Conn.
	BufferSize  int
	PollTimeout time.Duration
}

func (c Config) reconnectBackoff() time.Duration {
	if c.ReconnectBackoff <= 0 {
		return 5 * time.Second
	}
	return c.ReconnectBackoff
}

func (c Config) pollingFallbackInterval() time.Duration {
	if c.PollingFallbackInterval <= 0 {
		return 60 * time.Second
	}
	return c.PollingFallbackInterval
}

func (c Config) bufferSize() int {
	if c.BufferSize <= 0 {
		return 1000
	}
	return c.BufferSize
}

func (c Config) pollTimeout() time.Duration {
	if c.PollTimeout <= 0 {
		return 20 * time.Millisecond
	}
	return c.PollTimeout
}

// Subscriber owns one or two long-lived ZMQ connections (raw-tx
// always; raw-block or sequence, whichever the node advertises) and a
// polling-fallback ticker when neither block-hinting stream exists.
type Subscriber struct {
	cfg Config

	// rawTxQueue decouples the ZMQ poll loop (drainTopic, calling
	// handleRawTx synchronously for every received message) from
	// whatever is consuming Events(): its unbounded overflow buffer
	// means handleRawTx's push never blocks for long even if the
	// consumer falls behind, the same shape invoiceregistry.go uses
	// for its per-client notification queue.
	rawTxQueue *queue.ConcurrentQueue
	events     chan Event
	blockHint  chan BlockHint
	monitor    chan MonitorEvent

	cancel context.CancelFunc
}

// New constructs a Subscriber. It performs no network I/O until Start.
func New(cfg Config) *Subscriber {
	return &Subscriber{
		cfg:        cfg,
		rawTxQueue: queue.NewConcurrentQueue(cfg.bufferSize()),
		events:     make(chan Event, cfg.bufferSize()),
		blockHint:  make(chan BlockHint, 8),
		monitor:    make(chan MonitorEvent, 8),
	}
}

// Events delivers every raw-tx payload received. Raw-block messages
// are not delivered here; they only raise a BlockHint.
func (s *Subscriber) Events() <-chan Event { return s.events }

// BlockHint fires whenever the node signals a new block may exist:
// from the block-hint stream, or from the polling-fallback ticker.
func (s *Subscriber) BlockHint() <-chan BlockHint { return s.blockHint }

// Monitor surfaces connect/disconnect events for every subscribed
// topic.
func (s *Subscriber) Monitor() <-chan MonitorEvent { return s.monitor }

// Start connects the raw-tx stream and, if advertised, the raw-block
// or sequence stream (preferring raw-block); otherwise it starts the
// 60s polling fallback ticker emitting BlockHint. It returns
// immediately; connections run in background goroutines until Stop.
func (s *Subscriber) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.rawTxQueue.Start()
	go s.forwardRawTxEvents(ctx)

	go s.runTopic(ctx, TopicRawTx, s.cfg.RawTxEndpoint, s.handleRawTx)

	switch {
	case s.cfg.RawBlockEndpoint != "":
		go s.runTopic(ctx, TopicRawBlock, s.cfg.RawBlockEndpoint, s.handleRawBlock)
	case s.cfg.SequenceEndpoint != "":
		go s.runTopic(ctx, TopicSequence, s.cfg.SequenceEndpoint, s.handleSequence)
	default:
		go s.runPollingFallback(ctx)
	}
}

// Stop disconnects every stream and stops the polling fallback.
func (s *Subscriber) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.rawTxQueue.Stop()
}

func (s *Subscriber) handleRawTx(topic Topic, frames [][]byte) {
	if len(frames) < 2 {
		return
	}
	s.rawTxQueue.ChanIn() <- Event{Topic: topic, Payload: frames[1]}
}

// forwardRawTxEvents drains rawTxQueue into the typed events channel
// Events() exposes. The queue's own goroutine already absorbed any
// burst; this only ever blocks briefly on a slow consumer, never on
// the ZMQ poll loop.
func (s *Subscriber) forwardRawTxEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-s.rawTxQueue.ChanOut():
			ev, ok := v.(Event)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Subscriber) handleRawBlock(topic Topic, frames [][]byte) {
	if len(frames) < 2 {
		return
	}
	select {
	case s.blockHint <- BlockHint{}:
	default:
	}
}

func (s *Subscriber) handleSequence(topic Topic, frames [][]byte) {
	if len(frames) < 2 {
		return
	}
	payload := frames[1]
	// The sequence payload is a 32-byte hash followed by a 1-byte
	// label and, for some labels, an 8-byte in-block/mempool
	// sequence number. Byte index 32 (the 33rd byte) is the label.
	if len(payload) < 33 || payload[32] != sequenceLabelConnectedBlock {
		return
	}
	select {
	case s.blockHint <- BlockHint{}:
	default:
	}
}

func (s *Subscriber) runPollingFallback(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.pollingFallbackInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case s.blockHint <- BlockHint{}:
			default:
			}
		}
	}
}

// runTopic owns the reconnect loop for a single ZMQ topic subscription.
func (s *Subscriber) runTopic(ctx context.Context, topic Topic, rawEndpoint string, handle func(Topic, [][]byte)) {
	endpoint := RewriteLoopbackAddress(rawEndpoint, s.cfg.NodeHost)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := gozmq.Subscribe(
			endpoint, []string{string(topic)}, s.cfg.bufferSize(), s.cfg.pollTimeout(),
		)
		if err != nil {
			s.emitMonitor(topic, false, err)
			if !sleepOrDone(ctx, s.cfg.reconnectBackoff()) {
				return
			}
			continue
		}
		s.emitMonitor(topic, true, nil)

		s.drainTopic(ctx, conn, topic, handle)
		_ = conn.Close()
		s.emitMonitor(topic, false, nil)

		if !sleepOrDone(ctx, s.cfg.reconnectBackoff()) {
			return
		}
	}
}

func (s *Subscriber) drainTopic(ctx context.Context, conn *gozmq.Conn, topic Topic, handle func(Topic, [][]byte)) {
	for {
		if ctx.Err() != nil {
			return
		}
		frames, err := conn.Receive()
		if err != nil {
			log.Warnf("zmqstream: %s stream error: %v", topic, err)
			return
		}
		if len(frames) == 0 {
			continue
		}
		handle(topic, frames)
	}
}

func (s *Subscriber) emitMonitor(topic Topic, connected bool, err error) {
	select {
	case s.monitor <- MonitorEvent{Topic: topic, Connected: connected, Err: err}:
	default:
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RewriteLoopbackAddress substitutes nodeHost for a loopback or
// wildcard host named in an advertised ZMQ endpoint, so a watcher
// talking to a remote node doesn't try to dial the node's own idea of
// "localhost" (spec §4.2). advertised is expected in
// "tcp://host:port" form; non-loopback hosts and empty nodeHost pass
// through unchanged.
func RewriteLoopbackAddress(advertised, nodeHost string) string {
	if nodeHost == "" {
		return advertised
	}

	const scheme = "tcp://"
	if !strings.HasPrefix(advertised, scheme) {
		return advertised
	}
	rest := advertised[len(scheme):]

	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		return advertised
	}
	host, port := rest[:idx], rest[idx:]

	if !isLoopbackHost(host) {
		return advertised
	}
	return scheme + nodeHost + port
}

func isLoopbackHost(host string) bool {
	switch host {
	case "127.0.0.1", "localhost", "0.0.0.0", "::1":
		return true
	default:
		return false
	}
}
