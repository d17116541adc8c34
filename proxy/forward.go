package proxy

import (
	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/httpconn"
)

// Forward is the plain forwarding proxy: clients connect over TCP and
// every request goes straight to its own target host through the host
// table, no overlay involved.
type Forward struct {
	table  *HostTable
	server *httpconn.Server
	log    *logrus.Entry
}

func NewForward(cfg Config) *Forward {
	return &Forward{
		table: NewHostTable(cfg),
		log:   logrus.WithField("proxy", "forward"),
	}
}

func (f *Forward) Run(addr string) error {
	server, err := httpconn.ListenAndServe(addr, f.table)
	if err != nil {
		return err
	}
	f.server = server
	f.log.WithField("addr", server.Addr()).Info("forward proxy listening")
	return nil
}

func (f *Forward) Close() {
	if f.server != nil {
		f.server.Close()
	}
	f.table.Close()
}
