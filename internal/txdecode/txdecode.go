// Package txdecode is the Transaction Decoder leaf: it turns raw
// transaction bytes into the shape the rest of the watcher needs —
// txid, coinbase flag, ordered input keys, ordered outputs with a
// best-effort derived address — without any RPC or watch-state
// dependency, per spec §4.3.
package txdecode

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
)

// Input is one decoded transaction input, presented as the canonical
// "prev-txid:output-index" key plus its raw parts.
type Input struct {
	PreviousTxid chainhash.Hash
	OutputIndex  uint32
}

// Key returns the canonical "hex-txid:index" form of this input.
func (i Input) Key() string {
	return i.PreviousTxid.String() + ":" + formatUint(uint64(i.OutputIndex))
}

// Output is one decoded transaction output.
type Output struct {
	ValueSats int64
	Script    []byte

	// Address is the canonical address the script pays to, or ""
	// when no address can be extracted from the script. For bare
	// multisig it is the first key's address (see MultiAddress).
	Address string

	// MultiAddress is true when the script is a standard but
	// multi-address form (bare multisig), per spec §4.8.
	MultiAddress bool
}

// Transaction is the fully decoded form of a raw transaction.
type Transaction struct {
	Txid      chainhash.Hash
	Coinbase  bool
	Inputs    []Input
	Outputs   []Output
	RawMsgTx  *wire.MsgTx
}

// Decode parses raw transaction bytes and derives addresses for each
// output script against params.
func Decode(raw []byte, params *chaincfg.Params) (*Transaction, error) {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return FromMsgTx(msgTx, params)
}

// FromMsgTx builds a Transaction from an already-decoded wire.MsgTx,
// used when the caller obtained it via RPC rather than a raw stream
// payload.
func FromMsgTx(msgTx *wire.MsgTx, params *chaincfg.Params) (*Transaction, error) {
	tx := &Transaction{
		Txid:     msgTx.TxHash(),
		RawMsgTx: msgTx,
		Inputs:   make([]Input, len(msgTx.TxIn)),
		Outputs:  make([]Output, len(msgTx.TxOut)),
	}

	if len(msgTx.TxIn) > 0 {
		tx.Coinbase = isZeroHash(msgTx.TxIn[0].PreviousOutPoint.Hash)
	}

	for i, in := range msgTx.TxIn {
		tx.Inputs[i] = Input{
			PreviousTxid: in.PreviousOutPoint.Hash,
			OutputIndex:  in.PreviousOutPoint.Index,
		}
	}

	for i, out := range msgTx.TxOut {
		output := Output{ValueSats: out.Value, Script: out.PkScript}
		class, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, params)
		if err == nil && len(addrs) > 0 {
			output.Address = addrs[0].EncodeAddress()
			output.MultiAddress = class == txscript.MultiSigTy && len(addrs) > 1
		}
		tx.Outputs[i] = output
	}

	return tx, nil
}

func isZeroHash(h chainhash.Hash) bool {
	var zero chainhash.Hash
	return h == zero
}

func formatUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// EncodeAddressOrEmpty is a small convenience for callers that hold a
// btcutil.Address rather than a decoded Output; "" for a nil address.
func EncodeAddressOrEmpty(addr btcutil.Address) string {
	if addr == nil {
		return ""
	}
	return addr.EncodeAddress()
}
