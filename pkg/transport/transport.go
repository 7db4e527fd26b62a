/*
Package transport owns the byte-stream connection to a tool provider. A
Transport knows how to start and stop the connection and how to move one
framed message in each direction; it knows nothing about request ids or
correlation; that is the dispatcher's job.

Framing is newline-delimited JSON: every message is a self-contained
object serialized to a single line. Receivers split strictly on newline
boundaries and skip (never crash on) lines that fail to parse.
*/
package transport

import (
	"context"
	"encoding/json"
)

// Transport kinds, also used to select failure policy: stdio failures
// are retried by the client, sse failures propagate immediately.
const (
	KindStdio = "stdio"
	KindSSE   = "sse"
)

type Transport interface {
	// Start establishes the connection (spawns the process or opens the
	// stream) and blocks up to the startup timeout for readiness.
	Start(ctx context.Context) error

	// Send writes one complete framed message. The send path is
	// serialized internally; concurrent callers never interleave
	// partial writes.
	Send(ctx context.Context, payload []byte) error

	// Messages yields parsed inbound objects. Only the dispatcher's
	// read loop consumes this channel; it closes on end-of-stream.
	Messages() <-chan json.RawMessage

	// Stop tears down the connection and releases all OS resources.
	// Safe to call multiple times.
	Stop() error

	// Kind reports which transport this is (KindStdio or KindSSE).
	Kind() string
}
