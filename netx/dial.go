package netx

import (
	"context"
	"net"
	"time"
)

// DialTCP dials with keepalive disabled. Upstream liveness is handled by the
// protocol-level idle timers, not TCP keepalive.
func DialTCP(network string, laddr, raddr *net.TCPAddr) (*net.TCPConn, error) {
	conn, err := net.DialTCP(network, laddr, raddr)
	if err != nil {
		return nil, err
	}

	conn.SetKeepAlive(false)
	return conn, nil
}

func Dial(network, address string) (net.Conn, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(false)
	}
	return conn, nil
}

func DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	d.KeepAlive = -1
	return d.DialContext(ctx, network, address)
}

// DialTimeout is Dial with an upper bound on connection establishment.
func DialTimeout(network, address string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return DialContext(ctx, network, address)
}

type TCPListener struct {
	*net.TCPListener
}

func ListenTCP(network string, laddr *net.TCPAddr) (*TCPListener, error) {
	listener, err := net.ListenTCP(network, laddr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{listener}, nil
}

func (l *TCPListener) Accept() (net.Conn, error) {
	conn, err := l.TCPListener.AcceptTCP()
	if err != nil {
		return nil, err
	}

	conn.SetKeepAlive(false)
	return conn, nil
}

func Listen(network, address string) (net.Listener, error) {
	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	if tcpListener, ok := listener.(*net.TCPListener); ok {
		return &TCPListener{tcpListener}, nil
	}
	return listener, nil
}
