package proxy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/httpconn"
	"github.com/arcnode/arcproxy/httpx"
)

// HostTable keys upstream clients by normalized host:port and expires them
// on grace and idle timers. It is the forwarding core of the plain HTTP
// proxy and the ingress upstream path.
type HostTable struct {
	cfg   Config
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]*Remote
}

func NewHostTable(cfg Config) *HostTable {
	return NewHostTableWithClock(cfg, clockwork.NewRealClock())
}

func NewHostTableWithClock(cfg Config, clock clockwork.Clock) *HostTable {
	return &HostTable{
		cfg:     cfg.withDefaults(),
		clock:   clock,
		entries: make(map[string]*Remote),
	}
}

// HostKey normalizes a request's target into the table key: scheme and
// path stripped, lowercased, port defaulted to 80.
func HostKey(req *httpx.Request) string {
	host := req.Host()
	if host == "" {
		host = req.URL()
	}
	if strings.HasPrefix(host, "http://") {
		host = host[7:]
	} else if strings.HasPrefix(host, "https://") {
		host = host[8:]
	}
	if idx := strings.IndexByte(host, '/'); idx >= 0 {
		host = host[:idx]
	}
	if !strings.Contains(host, ":") {
		host += ":80"
	}
	return strings.ToLower(host)
}

// ReceiveRequest implements httpconn.Handler: requests route to the entry
// for their own target host.
func (t *HostTable) ReceiveRequest(ctx context.Context, req *httpx.Request, body *httpx.Payload) (*httpx.Response, *httpx.Payload, error) {
	return t.ReceiveFor(ctx, HostKey(req), req, body)
}

// ReceiveFor forwards one exchange through the entry for host.
func (t *HostTable) ReceiveFor(ctx context.Context, host string, req *httpx.Request, body *httpx.Payload) (*httpx.Response, *httpx.Payload, error) {
	if req.IsConnect() {
		return nil, nil, fmt.Errorf("CONNECT not supported on plain forwarding")
	}

	t.mu.Lock()
	entry, ok := t.entries[host]
	if !ok {
		entry = newRemote(t, host)
		t.entries[host] = entry
	}
	t.mu.Unlock()

	return entry.receiveRequest(ctx, req, body)
}

func (t *HostTable) dropEntry(host string, entry *Remote) {
	t.mu.Lock()
	if t.entries[host] == entry {
		delete(t.entries, host)
	}
	t.mu.Unlock()
}

func (t *HostTable) Close() {
	t.mu.Lock()
	entries := make([]*Remote, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.entries = make(map[string]*Remote)
	t.mu.Unlock()
	for _, e := range entries {
		e.stop()
	}
}

type pendingQuery struct {
	req     *httpx.Request
	body    *httpx.Payload
	promise chan httpconn.Result
}

// Remote is one host entry: a multi-connection client plus the startup
// grace window and the idle expiry of its slot in the table.
type Remote struct {
	table  *HostTable
	host   string
	client *httpconn.MultiClient
	log    *logrus.Entry

	mu      sync.Mutex
	ready   bool
	queue   []pendingQuery
	failAt  time.Time
	closeAt time.Time
	stopped bool
	wake    chan struct{}
}

func newRemote(table *HostTable, host string) *Remote {
	now := table.clock.Now()
	r := &Remote{
		table:   table,
		host:    host,
		log:     logrus.WithField("host", host),
		failAt:  now.Add(table.cfg.GraceTimeout),
		closeAt: now.Add(table.cfg.IdleTimeout),
		wake:    make(chan struct{}, 1),
	}
	r.client = httpconn.NewMultiClient(host, table.cfg.MaxConnections, table.cfg.MaxRequestsPerConnect, r)
	go r.run()
	return r
}

// OnReady releases the buffered queue to the client.
func (r *Remote) OnReady() {
	r.mu.Lock()
	r.ready = true
	r.failAt = time.Time{}
	queued := r.queue
	r.queue = nil
	r.closeAt = r.table.clock.Now().Add(r.table.cfg.IdleTimeout)
	r.mu.Unlock()

	for _, q := range queued {
		r.forward(q)
	}
}

func (r *Remote) OnStopReady() {
	r.mu.Lock()
	r.ready = false
	r.failAt = r.table.clock.Now().Add(r.table.cfg.GraceTimeout)
	r.mu.Unlock()
	r.kick()
}

func (r *Remote) kick() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Remote) receiveRequest(ctx context.Context, req *httpx.Request, body *httpx.Payload) (*httpx.Response, *httpx.Payload, error) {
	keep := req.KeepAlive()
	q := pendingQuery{req: req, body: body, promise: make(chan httpconn.Result, 1)}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, nil, httpconn.ErrNotReady
	}
	ready := r.ready
	if ready {
		r.closeAt = r.table.clock.Now().Add(r.table.cfg.IdleTimeout)
	} else {
		r.queue = append(r.queue, q)
	}
	r.mu.Unlock()

	if ready {
		r.forward(q)
	}

	select {
	case res := <-q.promise:
		if res.Err != nil {
			return nil, nil, res.Err
		}
		// the downstream connection decides keep-alive, not the upstream
		res.Resp.SetKeepAlive(keep)
		injectChunkedFraming(res.Resp, res.Payload)
		return res.Resp, res.Payload, nil
	case <-ctx.Done():
		return nil, nil, httpconn.ErrTimeout
	}
}

func (r *Remote) forward(q pendingQuery) {
	deadline := r.table.clock.Now().Add(r.table.cfg.UpstreamTimeout)
	go func() {
		q.promise <- <-r.client.SendRequest(context.Background(), q.req, q.body, deadline)
	}()
}

// injectChunkedFraming adds hop-by-hop framing when the upstream response
// has a body but neither Content-Length nor Transfer-Encoding, so the
// downstream client can delimit it.
func injectChunkedFraming(resp *httpx.Response, payload *httpx.Payload) {
	if payload.Kind() != httpx.PayloadEmpty &&
		!resp.FoundContentLength() && !resp.FoundTransferEncoding() {
		resp.AddHeader(httpx.Header{Name: "Transfer-Encoding", Value: "Chunked"})
	}
}

// run expires the entry on its grace or idle deadline.
func (r *Remote) run() {
	timer := r.table.clock.NewTimer(time.Second)
	defer timer.Stop()
	for {
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return
		}
		now := r.table.clock.Now()
		if !r.failAt.IsZero() && !now.Before(r.failAt) {
			r.mu.Unlock()
			r.log.Info("closing host entry: upstream never became ready")
			r.expire(httpconn.ErrNotReady)
			return
		}
		if !now.Before(r.closeAt) {
			r.mu.Unlock()
			r.log.Info("closing host entry: idle timeout")
			r.expire(nil)
			return
		}
		next := r.closeAt
		if !r.failAt.IsZero() && r.failAt.Before(next) {
			next = r.failAt
		}
		r.mu.Unlock()

		timer.Reset(next.Sub(now))
		select {
		case <-timer.Chan():
		case <-r.wake:
		}
	}
}

func (r *Remote) expire(cause error) {
	r.table.dropEntry(r.host, r)
	r.mu.Lock()
	queued := r.queue
	r.queue = nil
	r.stopped = true
	r.mu.Unlock()
	r.client.Close()

	if cause == nil {
		cause = httpconn.ErrNotReady
	}
	for _, q := range queued {
		q.promise <- httpconn.Result{Err: cause}
	}
}

func (r *Remote) stop() {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if !stopped {
		r.expire(httpconn.ErrClosed)
	}
	r.kick()
}
