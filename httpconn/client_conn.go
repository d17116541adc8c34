package httpconn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/httpx"
)

// ConnCallback observes readiness transitions of a client connection.
type ConnCallback interface {
	OnReady()
	OnStopReady()
}

// Result carries one completed query back to the issuer. The response
// header arrives as soon as it is parsed; the body keeps streaming into
// Payload afterwards.
type Result struct {
	Resp    *httpx.Response
	Payload *httpx.Payload
	Err     error
}

type query struct {
	req      *httpx.Request
	body     *httpx.Payload
	deadline time.Time
	promise  chan Result
}

// ClientConn is one outbound HTTP connection with a single in-flight query
// and a FIFO of delayed ones.
type ClientConn struct {
	conn net.Conn
	lr   *httpx.LineReader
	bw   *bufio.Writer
	cb   ConnCallback
	log  *logrus.Entry

	mu     sync.Mutex
	queue  chan query
	closed bool

	timedOut atomic.Bool
	done     chan struct{}
}

func NewClientConn(conn net.Conn, cb ConnCallback) *ClientConn {
	c := &ClientConn{
		conn:  conn,
		lr:    httpx.NewLineReader(conn),
		bw:    bufio.NewWriterSize(conn, 16<<10),
		cb:    cb,
		log:   logrus.WithField("peer", conn.RemoteAddr()),
		queue: make(chan query, 64),
		done:  make(chan struct{}),
	}
	go c.run()
	if cb != nil {
		cb.OnReady()
	}
	return c
}

// Done is closed once the connection has fully stopped.
func (c *ClientConn) Done() <-chan struct{} {
	return c.done
}

// SendQuery enqueues one request. The returned channel receives exactly one
// Result: the parsed response header plus its body payload, or an error.
func (c *ClientConn) SendQuery(req *httpx.Request, body *httpx.Payload, deadline time.Time) <-chan Result {
	promise := make(chan Result, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		promise <- Result{Err: ErrClosed}
		return promise
	}
	select {
	case c.queue <- query{req: req, body: body, deadline: deadline, promise: promise}:
	default:
		promise <- Result{Err: fmt.Errorf("%w: query queue overflow", ErrClosed)}
	}
	return promise
}

func (c *ClientConn) Close() {
	c.conn.Close()
}

func (c *ClientConn) run() {
	var lastErr error
	for q := range c.queue {
		again, err := c.handle(q)
		if !again {
			lastErr = err
			break
		}
	}
	c.teardown(lastErr)
}

func (c *ClientConn) teardown(cause error) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.conn.Close()

	if cause == nil {
		cause = ErrClosed
	}
	// queued queries share the fate of the connection
	for {
		select {
		case q := <-c.queue:
			q.promise <- Result{Err: cause}
		default:
			if c.cb != nil {
				c.cb.OnStopReady()
			}
			close(c.done)
			return
		}
	}
}

// handle runs one exchange. It reports whether the connection survives.
func (c *ClientConn) handle(q query) (bool, error) {
	keepAlive := q.req.KeepAlive()
	forceNoPayload := q.req.NoPayloadInAnswer()

	ctx := context.Background()
	var timer *time.Timer
	if !q.deadline.IsZero() {
		d := time.Until(q.deadline)
		if d <= 0 {
			q.promise <- Result{Err: ErrTimeout}
			return false, ErrTimeout
		}
		timer = time.AfterFunc(d, func() {
			c.timedOut.Store(true)
			c.conn.Close()
		})
		defer timer.Stop()
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, q.deadline)
		defer cancel()
	}

	if err := q.req.StoreHTTP(c.bw); err != nil {
		return c.failQuery(q, err)
	}
	if err := c.writeRequestBody(ctx, q); err != nil {
		return c.failQuery(q, err)
	}

	var resp *httpx.Response
	for {
		r, err := httpx.ReadResponseHeader(c.lr, forceNoPayload, keepAlive)
		if err != nil {
			return c.failQuery(q, err)
		}
		if r.Code() == 100 {
			// absorbed; the real answer follows
			continue
		}
		resp = r
		break
	}

	closeAfterRead := !resp.KeepAlive() || !keepAlive
	payload, err := resp.CreateEmptyPayload()
	if err != nil {
		return c.failQuery(q, err)
	}
	if timer != nil {
		timer.Stop()
	}
	q.promise <- Result{Resp: resp, Payload: payload}

	if err := payload.Parse(c.lr); err != nil {
		payload.SetError()
		c.log.WithError(err).Debug("response body read failed")
		return false, c.queryError(err)
	}

	return !closeAfterRead, nil
}

func (c *ClientConn) failQuery(q query, err error) (bool, error) {
	err = c.queryError(err)
	q.promise <- Result{Err: err}
	return false, err
}

func (c *ClientConn) queryError(err error) error {
	if c.timedOut.Load() {
		return ErrTimeout
	}
	if errors.Is(err, httpx.ErrParse) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}

func (c *ClientConn) writeRequestBody(ctx context.Context, q query) error {
	storeKind := q.req.PayloadStoreKind()
	for {
		wrote, err := q.body.StoreHTTP(c.bw, writeBudget, storeKind)
		if err != nil {
			return err
		}
		if wrote {
			if err := c.bw.Flush(); err != nil {
				return err
			}
		}
		if q.body.Written() || storeKind == httpx.PayloadEmpty {
			return c.bw.Flush()
		}
		if !wrote {
			err := q.body.WaitFor(ctx, func() bool {
				return q.body.ReadyBytes() > 0 || q.body.ParseCompleted()
			})
			if err != nil {
				return err
			}
		}
	}
}
