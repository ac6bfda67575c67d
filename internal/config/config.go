// Package config is the watcher's configuration surface: host/port/
// credentials for the node's RPC and ZMQ endpoints plus the request
// timeout, parsed with go-flags the way cmd/lnd parses its bitcoind
// connection settings.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/woofbotapp/woofbotapp-sub000/internal/bitcoindrpc"
)

// Config is the watcher's full configuration surface (spec §6
// "Configuration"): the node's host/IP, RPC port/user/password, the
// two notification ports (used only as a fallback when the node's own
// getzmqnotifications call doesn't advertise a topic's endpoint), and
// the RPC request timeout.
type Config struct {
	NodeHost string `long:"nodehost" description:"host or IP of the bitcoind node" required:"true"`

	RPCPort     uint16 `long:"rpcport" description:"bitcoind JSON-RPC port" default:"8332"`
	RPCUser     string `long:"rpcuser" description:"bitcoind JSON-RPC username" required:"true"`
	RPCPass     string `long:"rpcpass" description:"bitcoind JSON-RPC password" required:"true"`
	RPCDisableTLS bool `long:"rpcdisabletls" description:"connect to the RPC endpoint over plain HTTP"`

	// RawTxZMQPort/BlockZMQPort are used to build a fallback
	// tcp://NodeHost:port endpoint only when getzmqnotifications
	// doesn't advertise that topic itself; 0 means no fallback.
	RawTxZMQPort uint16 `long:"rawtxzmqport" description:"fallback ZMQ port for the rawtx topic"`
	BlockZMQPort uint16 `long:"blockzmqport" description:"fallback ZMQ port for the rawblock topic"`

	RequestTimeout time.Duration `long:"requesttimeout" description:"per-RPC-call timeout" default:"90s"`

	DebugHTTPAddr string `long:"debughttpaddr" description:"optional loopback address for the read-only diagnostics HTTP endpoint (empty disables it)"`

	LogFile        string `long:"logfile" description:"log file path; empty logs to stderr only" default:"woofbot-watcher.log"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"maximum log file size in KB before rotating" default:"10240"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"number of rotated log files to keep" default:"3"`
	DebugLevel     string `long:"debuglevel" description:"logging level (trace, debug, info, warn, error, critical)" default:"info"`
}

// Load parses args (typically os.Args[1:]) into a Config.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RPCConfig adapts this configuration to internal/bitcoindrpc.Config.
func (c *Config) RPCConfig() bitcoindrpc.Config {
	return bitcoindrpc.Config{
		Host:       c.NodeHost,
		RPCPort:    strconv.Itoa(int(c.RPCPort)),
		RPCUser:    c.RPCUser,
		RPCPass:    c.RPCPass,
		DisableTLS: c.RPCDisableTLS,
		Timeout:    c.RequestTimeout,
	}
}

// FallbackRawTxEndpoint returns the configured fallback rawtx ZMQ
// endpoint, or "" if none is configured.
func (c *Config) FallbackRawTxEndpoint() string {
	if c.RawTxZMQPort == 0 {
		return ""
	}
	return fmt.Sprintf("tcp://%s:%d", c.NodeHost, c.RawTxZMQPort)
}

// FallbackBlockEndpoint returns the configured fallback block-hint ZMQ
// endpoint (used for rawblock only; the sequence endpoint comes only
// from the node), or "" if none is configured.
func (c *Config) FallbackBlockEndpoint() string {
	if c.BlockZMQPort == 0 {
		return ""
	}
	return fmt.Sprintf("tcp://%s:%d", c.NodeHost, c.BlockZMQPort)
}
