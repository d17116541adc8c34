package proxy

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/bridge"
	"github.com/arcnode/arcproxy/dnscache"
	"github.com/arcnode/arcproxy/httpconn"
	"github.com/arcnode/arcproxy/httpx"
	"github.com/arcnode/arcproxy/ratelimit"
	"github.com/arcnode/arcproxy/rdp"
)

// Egress accepts plain HTTP clients and carries each exchange to the
// overlay node the target host resolves to. CONNECT rides the same path
// with tunnel semantics on both payloads.
type Egress struct {
	transport rdp.Transport
	resolver  *dnscache.Resolver
	limiter   *ratelimit.Limiter
	server    *httpconn.Server
	log       *logrus.Entry
}

func NewEgress(cfg Config, t rdp.Transport, resolver *dnscache.Resolver) *Egress {
	cfg = cfg.withDefaults()
	e := &Egress{
		transport: t,
		resolver:  resolver,
		limiter:   ratelimit.NewLimiter(cfg.MaxUploadRate),
		log:       logrus.WithField("proxy", "egress"),
	}
	return e
}

// Run listens on addr and serves until the listener closes.
func (e *Egress) Run(addr string) error {
	server, err := httpconn.ListenAndServe(addr, e)
	if err != nil {
		return err
	}
	e.server = server
	e.log.WithField("addr", server.Addr()).Info("egress proxy listening")
	return nil
}

// Addr is the bound listen address, useful with port 0.
func (e *Egress) Addr() net.Addr {
	return e.server.Addr()
}

func (e *Egress) Close() {
	if e.server != nil {
		e.server.Close()
	}
	e.limiter.Stop()
}

// ReceiveRequest implements httpconn.Handler.
func (e *Egress) ReceiveRequest(ctx context.Context, req *httpx.Request, body *httpx.Payload) (*httpx.Response, *httpx.Payload, error) {
	host := req.Host()
	if host == "" {
		host = req.URL()
	}

	id, err := e.resolver.Resolve(ctx, host)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve %q: %w", host, err)
	}

	e.log.WithFields(logrus.Fields{"method": req.Method(), "host": host, "peer": id}).
		Debug("forwarding over overlay")
	return bridge.SendRequest(ctx, e.transport, id, req, body, e.limiter)
}
