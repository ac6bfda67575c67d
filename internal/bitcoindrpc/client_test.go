package bitcoindrpc_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/woofbotapp/woofbotapp-sub000/internal/bitcoindrpc"
)

type fakeRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type fakeResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *fakeRPCError   `json:"error"`
}

type fakeRPCError struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// newFakeNode starts an httptest server that understands a fixed map
// of method -> handler, supporting both single-request and
// batch-array JSON-RPC bodies.
func newFakeNode(t *testing.T, handle func(fakeRequest) (interface{}, *fakeRPCError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := readAll(r)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}

		trimmed := strings.TrimSpace(string(body))
		if strings.HasPrefix(trimmed, "[") {
			var reqs []fakeRequest
			if err := json.Unmarshal(body, &reqs); err != nil {
				t.Fatalf("unmarshal batch: %v", err)
			}
			resps := make([]fakeResponse, len(reqs))
			for i, req := range reqs {
				result, rpcErr := handle(req)
				resps[i] = toFakeResponse(req.ID, result, rpcErr)
			}
			writeJSON(w, resps)
			return
		}

		var req fakeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("unmarshal single: %v", err)
		}
		result, rpcErr := handle(req)
		writeJSON(w, toFakeResponse(req.ID, result, rpcErr))
	}))
}

func toFakeResponse(id uint64, result interface{}, rpcErr *fakeRPCError) fakeResponse {
	resp := fakeResponse{ID: id, Error: rpcErr}
	if rpcErr == nil {
		raw, _ := json.Marshal(result)
		resp.Result = raw
	}
	return resp
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func readAll(r *http.Request) ([]byte, error) {
	return ioutil.ReadAll(r.Body)
}

func clientFor(t *testing.T, server *httptest.Server) *bitcoindrpc.Client {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	host, port, err := net_SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	client, err := bitcoindrpc.New(bitcoindrpc.Config{
		Host:       host,
		RPCPort:    port,
		RPCUser:    "user",
		RPCPass:    "pass",
		DisableTLS: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func net_SplitHostPort(hostport string) (string, string, error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return hostport, "", nil
	}
	return hostport[:idx], hostport[idx+1:], nil
}

func TestGetBestBlockHash(t *testing.T) {
	want := strings.Repeat("ab", 32)
	server := newFakeNode(t, func(req fakeRequest) (interface{}, *fakeRPCError) {
		if req.Method != "getbestblockhash" {
			t.Fatalf("unexpected method %q", req.Method)
		}
		return want, nil
	})
	defer server.Close()

	client := clientFor(t, server)
	hash, err := client.GetBestBlockHash(context.Background())
	if err != nil {
		t.Fatalf("GetBestBlockHash: %v", err)
	}
	if hash.String() != want {
		t.Fatalf("got %s, want %s", hash.String(), want)
	}
}

func TestIsInMempoolNotFound(t *testing.T) {
	server := newFakeNode(t, func(req fakeRequest) (interface{}, *fakeRPCError) {
		return nil, &fakeRPCError{Code: -5, Message: "Transaction not in mempool"}
	})
	defer server.Close()

	client := clientFor(t, server)
	txid := chainhash.Hash{}
	inMempool, err := client.IsInMempool(context.Background(), txid)
	if err != nil {
		t.Fatalf("IsInMempool returned error instead of false: %v", err)
	}
	if inMempool {
		t.Fatalf("expected not in mempool")
	}
}

func TestGetMempoolInfo(t *testing.T) {
	server := newFakeNode(t, func(req fakeRequest) (interface{}, *fakeRPCError) {
		if req.Method != "getmempoolinfo" {
			t.Fatalf("unexpected method %q", req.Method)
		}
		return map[string]interface{}{"bytes": 12345}, nil
	})
	defer server.Close()

	client := clientFor(t, server)
	info, err := client.GetMempoolInfo(context.Background())
	if err != nil {
		t.Fatalf("GetMempoolInfo: %v", err)
	}
	if info.Bytes != 12345 {
		t.Fatalf("got %d, want 12345", info.Bytes)
	}
}

// TestGetNotificationEndpoints exercises rpcclient's RawRequest escape
// hatch, used for the bitcoind-only getzmqnotifications call that has
// no typed wrapper in rpcclient.
func TestGetNotificationEndpoints(t *testing.T) {
	server := newFakeNode(t, func(req fakeRequest) (interface{}, *fakeRPCError) {
		if req.Method != "getzmqnotifications" {
			t.Fatalf("unexpected method %q", req.Method)
		}
		return []map[string]string{
			{"type": "pubrawtx", "address": "tcp://127.0.0.1:28332"},
			{"type": "pubrawblock", "address": "tcp://127.0.0.1:28333"},
		}, nil
	})
	defer server.Close()

	client := clientFor(t, server)
	endpoints, err := client.GetNotificationEndpoints(context.Background())
	if err != nil {
		t.Fatalf("GetNotificationEndpoints: %v", err)
	}
	if endpoints.RawTx != "tcp://127.0.0.1:28332" {
		t.Fatalf("unexpected RawTx endpoint %q", endpoints.RawTx)
	}
	if endpoints.RawBlock != "tcp://127.0.0.1:28333" {
		t.Fatalf("unexpected RawBlock endpoint %q", endpoints.RawBlock)
	}
	if endpoints.Sequence != "" {
		t.Fatalf("expected no sequence endpoint, got %q", endpoints.Sequence)
	}
}

func TestGetRawTransactionsBatchCorrelation(t *testing.T) {
	hashes := make([]chainhash.Hash, 3)
	for i := range hashes {
		hashes[i][0] = byte(i + 1)
	}

	server := newFakeNode(t, func(req fakeRequest) (interface{}, *fakeRPCError) {
		txid := req.Params[0].(string)
		if txid == hashes[1].String() {
			return nil, &fakeRPCError{Code: -5, Message: "No such mempool or blockchain transaction"}
		}
		return rawTxStub(), nil
	})
	defer server.Close()

	client := clientFor(t, server)
	results, errs := client.GetRawTransactionsBatch(context.Background(), hashes)
	if len(results) != 3 || len(errs) != 3 {
		t.Fatalf("expected 3 results/errs, got %d/%d", len(results), len(errs))
	}
	if errs[0] != nil || errs[2] != nil {
		t.Fatalf("expected entries 0 and 2 to succeed: %v %v", errs[0], errs[2])
	}
	if errs[1] == nil || !bitcoindrpc.IsNotFound(errs[1]) {
		t.Fatalf("expected entry 1 to be NotFound, got %v", errs[1])
	}
}

func rawTxStub() map[string]interface{} {
	confirmations := uint32(0)
	var buf bytes.Buffer
	buf.Write([]byte{0x01, 0x00, 0x00, 0x00}) // version 1
	buf.WriteByte(0x01)                       // 1 input
	buf.Write(make([]byte, 32))               // zero prevout hash
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // prevout index
	buf.WriteByte(0x00)                       // empty sig script
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // sequence
	buf.WriteByte(0x01)                       // 1 output
	buf.Write(make([]byte, 8))                // value 0
	buf.WriteByte(0x00)                        // empty pk script
	buf.Write(make([]byte, 4))                // locktime 0

	return map[string]interface{}{
		"hex":           hex.EncodeToString(buf.Bytes()),
		"confirmations": confirmations,
		"blockhash":     "",
	}
}
