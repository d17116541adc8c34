package proxy

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/bridge"
	"github.com/arcnode/arcproxy/httpx"
	"github.com/arcnode/arcproxy/rdp"
)

// Ingress publishes the local node on the overlay and forwards proxied
// requests to the configured upstream server.
type Ingress struct {
	handler *bridge.Handler
	table   *HostTable
	log     *logrus.Entry
}

func NewIngress(cfg Config, t rdp.Transport, upstreamAddr string) *Ingress {
	table := NewHostTable(cfg)
	i := &Ingress{
		table: table,
		log:   logrus.WithField("proxy", "ingress"),
	}
	i.handler = bridge.NewHandler(t, &fixedUpstream{table: table, host: upstreamAddr})
	return i
}

func (i *Ingress) Run() {
	i.handler.Attach()
	i.log.Info("ingress handler attached")
}

func (i *Ingress) Close() {
	i.handler.Detach()
	i.table.Close()
}

// fixedUpstream pins every proxied request to one local upstream address,
// whatever Host the remote client asked for.
type fixedUpstream struct {
	table *HostTable
	host  string
}

func (u *fixedUpstream) ReceiveRequest(ctx context.Context, req *httpx.Request, body *httpx.Payload) (*httpx.Response, *httpx.Payload, error) {
	return u.table.ReceiveFor(ctx, u.host, req, body)
}
