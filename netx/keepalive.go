package netx

import (
	"net"
	"time"
)

// golang default keepalive is 15 sec. way too aggressive for long-lived
// tunnel connections; the inactivity timers above the socket decide liveness.
const (
	LongKeepalive = 3 * time.Minute
)

// for local conns only
func DisableKeepalive(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(false)
	}
}

// for external conns
func SetLongKeepalive(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlivePeriod(LongKeepalive)

		// if the peer is localhost, turn keepalive off entirely. no point
		if addr, ok := tcpConn.RemoteAddr().(*net.TCPAddr); ok && addr.IP.IsLoopback() {
			tcpConn.SetKeepAlive(false)
		}
	}
}

// SetNoDelay disables Nagle where the conn supports it. Tunnel traffic is
// latency sensitive and already coalesced at the chunk layer.
func SetNoDelay(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
}
