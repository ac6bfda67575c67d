package bitcoindrpc

import "fmt"

// Kind classifies every failure the RPC Client can surface, per
// spec §4.1/§7: NotFound is not an error condition for callers, it
// drives status selection; the rest are genuine failures.
type Kind int

const (
	// KindTransport covers dial/network/HTTP-status failures.
	// Retried by the next scheduler turn; no state mutation.
	KindTransport Kind = iota

	// KindNotFound is the RPC-level "not found" code (bitcoind's
	// -5 for unknown transaction, -1/-8 for unknown block, etc).
	KindNotFound

	// KindProtocol covers an unparsable response or a response
	// whose correlation id doesn't match any pending request.
	KindProtocol

	// KindTimeout is the per-call ≈90s deadline expiring.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindNotFound:
		return "not-found"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with one of the four classification
// kinds so callers can branch on Kind without string-matching.
type Error struct {
	Kind Kind
	Method string
	Err  error
}

func (e *Error) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("bitcoindrpc: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("bitcoindrpc: %s %s: %v", e.Method, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, method string, err error) *Error {
	return &Error{Kind: kind, Method: method, Err: err}
}

// IsNotFound reports whether err is (or wraps) a KindNotFound failure.
func IsNotFound(err error) bool {
	var rpcErr *Error
	return asError(err, &rpcErr) && rpcErr.Kind == KindNotFound
}

// asError is a tiny errors.As shim kept local so this leaf package
// doesn't need to import either stdlib errors or go-errors/errors for
// a single type switch; both satisfy the Unwrap() contract this
// relies on.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Bitcoin Core's standard RPC error codes that the client maps to
// KindNotFound; everything else with a non-nil RPCError is KindProtocol
// (the call reached the node and was answered, just not successfully in
// a way the node itself didn't already disambiguate via an empty
// result). -5 covers "invalid address or key" (unknown tx/mempool
// entry) and "block not found"; -1 is bitcoind's generic misc error,
// also used for some not-found conditions; -8 is invalid parameter.
const (
	rpcInvalidAddressOrKey = -5
	rpcInvalidParameter    = -8
	rpcMisc                = -1
)
