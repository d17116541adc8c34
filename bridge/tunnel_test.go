package bridge

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcnode/arcproxy/httpx"
	"github.com/arcnode/arcproxy/rdp"
)

// startEcho runs a TCP server echoing every byte until the client closes.
func startEcho(t *testing.T) net.Addr {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				io.Copy(conn, conn)
				conn.Close()
			}()
		}
	}()
	return l.Addr()
}

func TestTCPTunnelEcho(t *testing.T) {
	idA, idB := randomID(), randomID()
	endA, endB := rdp.NewLoopbackPair(idA, idB)

	echoAddr := startEcho(t)
	echoConn, err := net.Dial("tcp", echoAddr.String())
	require.NoError(t, err)

	tid := rdp.NewTransferID()

	// client side of the tunnel: a sender feeding bytes toward the socket
	// and a receiver pulling the echo back
	clientIn := httpx.NewPayload(httpx.PayloadTunnel, 1, httpx.HighWatermark)
	clientOut := httpx.NewPayload(httpx.PayloadTunnel, 1, httpx.HighWatermark)
	NewPayloadSender(endA, tid, clientIn, true, nil)
	go RunPayloadReceiver(context.Background(), endA, idB, tid, clientOut, true)

	// socket side
	StartTCPTunnel(endB, idA, tid, echoConn)

	clientIn.AddChunk([]byte("ping over the tunnel"))

	var echoed []byte
	deadline := time.After(10 * time.Second)
	for len(echoed) < len("ping over the tunnel") {
		ch := clientOut.Changed()
		if s := clientOut.GetSlice(1 << 10); len(s) > 0 {
			echoed = append(echoed, s...)
			continue
		}
		require.False(t, clientOut.IsError(), "tunnel errored")
		select {
		case <-ch:
		case <-deadline:
			t.Fatal("echo never arrived")
		}
	}
	require.Equal(t, "ping over the tunnel", string(echoed))

	// closing the client side drains through and tears the tunnel down
	clientIn.CompleteParse()
	require.NoError(t, clientOut.WaitFor(testCtx(t), func() bool {
		return clientOut.ParseCompleted()
	}))
}
