package httpconn

import "errors"

var (
	// ErrTimeout is the gateway-timeout error kind: a query deadline
	// expired before the upstream answered.
	ErrTimeout = errors.New("query timeout")

	// ErrNotReady means the client has no live connection.
	ErrNotReady = errors.New("client not ready")

	// ErrClosed means the connection went away under a pending query.
	ErrClosed = errors.New("connection closed")
)
