package bridge

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/httpx"
	"github.com/arcnode/arcproxy/netx"
	"github.com/arcnode/arcproxy/rdp"
)

// TCPTunnel bridges one raw TCP socket to the chunked transfer protocol:
// bytes read from the socket are served to the peer's part queries, bytes
// pulled from the peer are written back out. Both directions share one
// transfer id and tunnel-mode timeouts bound inactivity.
type TCPTunnel struct {
	conn   net.Conn
	peer   rdp.ShortID
	id     rdp.TransferID
	in     *httpx.Payload
	out    *httpx.Payload
	sender *PayloadSender
	log    *logrus.Entry
}

func StartTCPTunnel(t rdp.Transport, peer rdp.ShortID, id rdp.TransferID, conn net.Conn) *TCPTunnel {
	netx.SetNoDelay(conn)

	tun := &TCPTunnel{
		conn: conn,
		peer: peer,
		id:   id,
		in:   httpx.NewPayload(httpx.PayloadTunnel, 1, httpx.HighWatermark),
		out:  httpx.NewPayload(httpx.PayloadTunnel, 1, httpx.HighWatermark),
		log:  logrus.WithField("transfer", id),
	}
	tun.sender = NewPayloadSender(t, id, tun.in, true, nil)

	go tun.readLoop()
	go tun.writeLoop()
	go func() {
		RunPayloadReceiver(context.Background(), t, peer, id, tun.out, true)
		// receiver finished or failed; either way the write side drains
		// whatever is left and closes
	}()
	return tun
}

// readLoop feeds socket bytes into the inbound payload until EOF.
func (t *TCPTunnel) readLoop() {
	buf := make([]byte, 16<<10)
	for {
		if err := t.in.WaitFor(context.Background(), func() bool {
			return t.in.ReadyBytes() < httpx.HighWatermark
		}); err != nil {
			t.conn.Close()
			return
		}
		n, err := t.conn.Read(buf)
		if n > 0 {
			t.in.AddChunk(buf[:n])
		}
		if err != nil {
			t.in.CompleteParse()
			return
		}
	}
}

// writeLoop drains the outbound payload into the socket.
func (t *TCPTunnel) writeLoop() {
	// closing the socket makes the read loop complete the inbound payload,
	// so the sender can answer its final part before idling out
	defer t.conn.Close()
	for {
		s := t.out.GetSlice(16 << 10)
		if len(s) > 0 {
			if _, err := t.conn.Write(s); err != nil {
				t.log.WithError(err).Debug("tunnel write failed")
				t.out.SetError()
				return
			}
			continue
		}
		if t.out.IsError() {
			return
		}
		if t.out.ParseCompleted() && t.out.ReadyBytes() == 0 {
			t.log.Debug("tunnel drained")
			return
		}
		err := t.out.WaitFor(context.Background(), func() bool {
			return t.out.ReadyBytes() > 0 || t.out.ParseCompleted()
		})
		if err != nil {
			return
		}
	}
}
