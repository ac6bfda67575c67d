package main

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

const subsystem = "WBOT"
