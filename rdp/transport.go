package rdp

import (
	"context"
	"errors"
)

var (
	// ErrTransport marks transfer-level failures: the peer is unreachable
	// or the query was dropped.
	ErrTransport = errors.New("transport error")

	// ErrCancelled marks a teardown-initiated abort.
	ErrCancelled = errors.New("cancelled")
)

// QueryHandler answers one incoming query. The returned bytes travel back
// to the issuer as the reply.
type QueryHandler func(ctx context.Context, src ShortID, data []byte) ([]byte, error)

// Transport is the reliable-datagram overlay surface the proxy runs on.
// The real implementation lives outside this repository; tests use the
// in-process Loopback.
type Transport interface {
	LocalID() ShortID

	// SendQuery issues one request/reply round trip to dst. ctx carries
	// the deadline; the answer is at most maxAnswerSize bytes.
	SendQuery(ctx context.Context, dst ShortID, data []byte, maxAnswerSize int) ([]byte, error)

	// SubscribeQuery routes queries whose payload starts with prefix to h.
	SubscribeQuery(prefix []byte, h QueryHandler)
	UnsubscribeQuery(prefix []byte)
}
