package httpconn

import (
	"errors"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/netx"
)

// Server accepts inbound HTTP connections and hands each one to a
// ServerConn bound to the shared handler.
type Server struct {
	listener net.Listener
	handler  Handler
}

func NewServer(listener net.Listener, handler Handler) *Server {
	return &Server{
		listener: listener,
		handler:  handler,
	}
}

func ListenAndServe(addr string, handler Handler) (*Server, error) {
	listener, err := netx.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := NewServer(listener, handler)
	go s.Run()
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Run() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		logrus.WithField("remote", conn.RemoteAddr()).Debug("accepted http connection")
		go NewServerConn(conn, s.handler).Serve()
	}
}

func (s *Server) Close() error {
	return s.listener.Close()
}
