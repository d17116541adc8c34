package httpconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/arcnode/arcproxy/httpx"
	"github.com/arcnode/arcproxy/netx"
	"github.com/arcnode/arcproxy/syncx"
)

const (
	dialTimeout    = 10 * time.Second
	probeInterval  = 2 * time.Second
	defaultConns   = 1
	defaultPerConn = 1
)

// MultiClient serves each request on its own connection to one upstream
// host. Connections are forced to keep_alive=false and self-terminate after
// the response; MaxConnections bounds concurrency. MaxRequestsPerConnect is
// accepted for symmetry but per-request connections make it an upper bound
// that always holds.
type MultiClient struct {
	host  string
	cb    ConnCallback
	sem   *semaphore.Weighted
	log   *logrus.Entry
	ready syncx.CondBool

	mu      sync.Mutex
	stopped bool
}

func NewMultiClient(host string, maxConnections, maxRequestsPerConnect int, cb ConnCallback) *MultiClient {
	if maxConnections <= 0 {
		maxConnections = defaultConns
	}
	if maxRequestsPerConnect <= 0 {
		maxRequestsPerConnect = defaultPerConn
	}
	c := &MultiClient{
		host:  host,
		cb:    cb,
		sem:   semaphore.NewWeighted(int64(maxConnections)),
		log:   logrus.WithField("upstream", host),
		ready: syncx.NewCondBool(),
	}
	go c.probe()
	return c
}

// probe establishes readiness: the host entry's grace timer waits for the
// first successful dial.
func (c *MultiClient) probe() {
	for {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, err := netx.DialTimeout("tcp", c.host, dialTimeout)
		if err == nil {
			conn.Close()
			c.setReady(true)
			return
		}
		c.log.WithError(err).Debug("probe failed")
		time.Sleep(probeInterval)
	}
}

func (c *MultiClient) setReady(ready bool) {
	if c.ready.Get() == ready {
		return
	}
	c.ready.Set(ready)
	if c.cb == nil {
		return
	}
	if ready {
		c.cb.OnReady()
	} else {
		c.cb.OnStopReady()
	}
}

func (c *MultiClient) Ready() bool {
	return c.ready.Get()
}

func (c *MultiClient) Close() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

// SendRequest opens a fresh connection, forwards the query and releases the
// connection once its worker finishes reading the response body.
func (c *MultiClient) SendRequest(ctx context.Context, req *httpx.Request, body *httpx.Payload, deadline time.Time) <-chan Result {
	promise := make(chan Result, 1)

	if err := c.sem.Acquire(ctx, 1); err != nil {
		promise <- Result{Err: fmt.Errorf("%w: %v", ErrNotReady, err)}
		return promise
	}

	raw, err := netx.DialTimeout("tcp", c.host, dialTimeout)
	if err != nil {
		c.sem.Release(1)
		c.setReady(false)
		go c.probe()
		promise <- Result{Err: fmt.Errorf("%w: %v", ErrNotReady, err)}
		return promise
	}

	// one request per connection
	req.SetKeepAlive(false)
	conn := NewClientConn(raw, nil)
	go func() {
		<-conn.Done()
		c.sem.Release(1)
	}()

	go func() {
		promise <- <-conn.SendQuery(req, body, deadline)
	}()
	return promise
}
