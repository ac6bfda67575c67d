package zmqstream_test

import (
	"testing"

	"github.com/woofbotapp/woofbotapp-sub000/internal/zmqstream"
)

func TestRewriteLoopbackAddress(t *testing.T) {
	cases := []struct {
		name       string
		advertised string
		nodeHost   string
		want       string
	}{
		{
			name:       "loopback rewritten",
			advertised: "tcp://127.0.0.1:28332",
			nodeHost:   "node.example.com",
			want:       "tcp://node.example.com:28332",
		},
		{
			name:       "wildcard rewritten",
			advertised: "tcp://0.0.0.0:28332",
			nodeHost:   "10.0.0.5",
			want:       "tcp://10.0.0.5:28332",
		},
		{
			name:       "remote host untouched",
			advertised: "tcp://10.0.0.9:28332",
			nodeHost:   "10.0.0.5",
			want:       "tcp://10.0.0.9:28332",
		},
		{
			name:       "empty node host untouched",
			advertised: "tcp://127.0.0.1:28332",
			nodeHost:   "",
			want:       "tcp://127.0.0.1:28332",
		},
		{
			name:       "non-tcp scheme untouched",
			advertised: "ipc:///tmp/bitcoin-zmq",
			nodeHost:   "10.0.0.5",
			want:       "ipc:///tmp/bitcoin-zmq",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := zmqstream.RewriteLoopbackAddress(tc.advertised, tc.nodeHost)
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSequenceLabelFiltering(t *testing.T) {
	sub := zmqstream.New(zmqstream.Config{
		RawTxEndpoint: "tcp://127.0.0.1:1",
	})

	connected := make([]byte, 33)
	connected[32] = 'C'
	disconnected := make([]byte, 33)
	disconnected[32] = 'D'

	hint := sub.BlockHint()

	exported := zmqstream.ExportHandleSequenceForTest(sub)
	exported(zmqstream.TopicSequence, [][]byte{[]byte("sequence"), connected})
	select {
	case <-hint:
	default:
		t.Fatalf("expected a block hint for a connected-block sequence message")
	}

	exported(zmqstream.TopicSequence, [][]byte{[]byte("sequence"), disconnected})
	select {
	case <-hint:
		t.Fatalf("did not expect a block hint for a disconnected-block sequence message")
	default:
	}
}
