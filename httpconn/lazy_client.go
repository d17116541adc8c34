package httpconn

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/httpx"
	"github.com/arcnode/arcproxy/netx"
)

// Reconnect jitter bounds. Uniform spread avoids synchronized reconnect
// storms when many clients lose the same upstream.
const (
	reconnectMin = 10 * time.Second
	reconnectMax = 20 * time.Second
)

// LazyClient owns at most one outbound connection and re-dials it with a
// jittered backoff after failures. Queries issued while no connection is
// live fail fast with ErrNotReady.
type LazyClient struct {
	addr string
	cb   ConnCallback
	log  *logrus.Entry

	mu          sync.Mutex
	conn        *ClientConn
	ready       bool
	reconnectAt time.Time
	stopped     bool
	wake        chan struct{}
}

func NewLazyClient(addr string, cb ConnCallback) *LazyClient {
	c := &LazyClient{
		addr: addr,
		cb:   cb,
		log:  logrus.WithField("upstream", addr),
		wake: make(chan struct{}, 1),
	}
	go c.run()
	return c
}

func (c *LazyClient) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *LazyClient) SendRequest(req *httpx.Request, body *httpx.Payload, deadline time.Time) <-chan Result {
	c.mu.Lock()
	conn := c.conn
	ready := c.ready
	c.mu.Unlock()

	if !ready || conn == nil {
		promise := make(chan Result, 1)
		promise <- Result{Err: ErrNotReady}
		return promise
	}
	return conn.SendQuery(req, body, deadline)
}

func (c *LazyClient) Close() {
	c.mu.Lock()
	c.stopped = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *LazyClient) run() {
	for {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		wait := time.Until(c.reconnectAt)
		c.mu.Unlock()

		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-c.wake:
				continue
			}
		}

		raw, err := netx.Dial("tcp", c.addr)
		if err != nil {
			c.log.WithError(err).Info("connect failed")
			c.armReconnect()
			continue
		}

		conn := NewClientConn(raw, nil)
		c.mu.Lock()
		c.conn = conn
		c.ready = true
		c.mu.Unlock()
		if c.cb != nil {
			c.cb.OnReady()
		}

		<-conn.Done()

		c.mu.Lock()
		c.conn = nil
		c.ready = false
		c.mu.Unlock()
		if c.cb != nil {
			c.cb.OnStopReady()
		}
		c.log.Info("upstream connection lost")
		c.armReconnect()
	}
}

func (c *LazyClient) armReconnect() {
	jitter := reconnectMin + time.Duration(rand.Int63n(int64(reconnectMax-reconnectMin)))
	c.mu.Lock()
	c.reconnectAt = time.Now().Add(jitter)
	c.mu.Unlock()
}
