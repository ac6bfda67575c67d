package txdecode_test

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/woofbotapp/woofbotapp-sub000/internal/txdecode"
)

func buildP2PKHTx(t *testing.T, coinbase bool) *wire.MsgTx {
	t.Helper()
	msgTx := wire.NewMsgTx(wire.TxVersion)

	var prevHash chainhash.Hash
	if !coinbase {
		prevHash[0] = 0xaa
	}
	msgTx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 1), nil, nil))

	addr, err := btcutil.NewAddressPubKeyHash(make([]byte, 20), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("NewAddressPubKeyHash: %v", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("PayToAddrScript: %v", err)
	}
	msgTx.AddTxOut(wire.NewTxOut(5000, pkScript))

	return msgTx
}

func TestDecodeOrdinaryTransaction(t *testing.T) {
	msgTx := buildP2PKHTx(t, false)

	tx, err := txdecode.FromMsgTx(msgTx, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("FromMsgTx: %v", err)
	}

	if tx.Coinbase {
		t.Fatalf("expected non-coinbase transaction")
	}
	if len(tx.Inputs) != 1 {
		t.Fatalf("expected 1 input, got %d", len(tx.Inputs))
	}
	wantKey := msgTx.TxIn[0].PreviousOutPoint.Hash.String() + ":1"
	if got := tx.Inputs[0].Key(); got != wantKey {
		t.Fatalf("got key %q, want %q", got, wantKey)
	}
	if len(tx.Outputs) != 1 || tx.Outputs[0].ValueSats != 5000 {
		t.Fatalf("unexpected outputs: %+v", tx.Outputs)
	}
	if tx.Outputs[0].Address == "" {
		t.Fatalf("expected a derived address for a standard P2PKH output")
	}
	if tx.Outputs[0].MultiAddress {
		t.Fatalf("P2PKH output must not be reported as multi-address")
	}
}

func TestDecodeCoinbaseTransaction(t *testing.T) {
	msgTx := buildP2PKHTx(t, true)

	tx, err := txdecode.FromMsgTx(msgTx, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("FromMsgTx: %v", err)
	}
	if !tx.Coinbase {
		t.Fatalf("expected coinbase transaction")
	}
}

func TestDecodeNonStandardScriptHasNoAddress(t *testing.T) {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	var prevHash chainhash.Hash
	prevHash[0] = 0xbb
	msgTx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	msgTx.AddTxOut(wire.NewTxOut(1000, []byte{txscript.OP_RETURN, txscript.OP_0}))

	tx, err := txdecode.FromMsgTx(msgTx, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("FromMsgTx: %v", err)
	}
	if tx.Outputs[0].Address != "" {
		t.Fatalf("expected no address for an OP_RETURN output, got %q", tx.Outputs[0].Address)
	}
}
