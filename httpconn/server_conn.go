package httpconn

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/httpx"
)

// Canned answers for local failures. The 400 closes the connection since
// request framing is lost; gateway errors keep it alive.
const (
	rawClientError = "HTTP/1.0 400 Bad Request\r\n" +
		"Connection: Close\r\n" +
		"Content-length: 0\r\n" +
		"\r\n"
	rawServerError = "HTTP/1.1 502 Bad Gateway\r\n" +
		"Connection: keep-alive\r\n" +
		"Content-length: 0\r\n" +
		"\r\n"
	rawTimeoutError = "HTTP/1.1 504 Gateway Timeout\r\n" +
		"Connection: keep-alive\r\n" +
		"Content-length: 0\r\n" +
		"\r\n"
)

// writeBudget bounds one serialization round so a fast producer cannot
// starve the flush.
const writeBudget = 16 << 10

// Handler receives one parsed request plus its (still streaming) body and
// returns the response with its body payload. It runs on a per-request
// goroutine and may block.
type Handler interface {
	ReceiveRequest(ctx context.Context, req *httpx.Request, body *httpx.Payload) (*httpx.Response, *httpx.Payload, error)
}

// ServerConn drives one inbound socket: sequential request parsing with the
// response written concurrently while the request body still streams in.
type ServerConn struct {
	conn    net.Conn
	handler Handler
	lr      *httpx.LineReader
	bw      *bufio.Writer
	log     *logrus.Entry
}

func NewServerConn(conn net.Conn, handler Handler) *ServerConn {
	return &ServerConn{
		conn:    conn,
		handler: handler,
		lr:      httpx.NewLineReader(conn),
		bw:      bufio.NewWriterSize(conn, 16<<10),
		log:     logrus.WithField("remote", conn.RemoteAddr()),
	}
}

// Serve blocks until the connection is done.
func (c *ServerConn) Serve() {
	defer c.conn.Close()

	for {
		req, err := httpx.ReadRequestHeader(c.lr)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				if errors.Is(err, httpx.ErrParse) {
					c.log.WithError(err).Info("bad request")
					c.writeRaw(rawClientError)
				} else {
					c.log.WithError(err).Debug("read failed")
				}
			}
			return
		}

		body, err := req.CreateEmptyPayload()
		if err != nil {
			c.writeRaw(rawClientError)
			return
		}

		done := make(chan answerResult, 1)
		go c.answer(req, body, done)

		perr := body.Parse(c.lr)
		if perr != nil {
			body.SetError()
			c.log.WithError(perr).Debug("request body read failed")
		}

		res := <-done
		if perr != nil || res.err != nil || res.closeAfterWrite || !req.KeepAlive() {
			return
		}
	}
}

type answerResult struct {
	closeAfterWrite bool
	err             error
}

func (c *ServerConn) answer(req *httpx.Request, body *httpx.Payload, done chan<- answerResult) {
	resp, payload, err := c.handler.ReceiveRequest(context.Background(), req, body)
	if err != nil {
		// nobody will consume the request body now; drain it so a
		// keep-alive client stays in sync
		go drainPayload(body)
		switch {
		case errors.Is(err, httpx.ErrParse):
			c.writeRaw(rawClientError)
			done <- answerResult{closeAfterWrite: true}
		case errors.Is(err, ErrTimeout):
			c.log.WithError(err).Info("upstream timeout")
			c.writeRaw(rawTimeoutError)
			done <- answerResult{}
		default:
			c.log.WithError(err).Info("upstream failed")
			c.writeRaw(rawServerError)
			done <- answerResult{}
		}
		return
	}

	if err := resp.StoreHTTP(c.bw); err != nil {
		done <- answerResult{err: err}
		return
	}
	// the header goes out at once: a tunnel client sends nothing until it
	// has seen the 200
	if err := c.bw.Flush(); err != nil {
		done <- answerResult{err: err}
		return
	}

	storeKind := resp.PayloadStoreKind()
	err = c.writePayload(payload, storeKind)

	closeAfterWrite := err != nil || !resp.KeepAlive() ||
		storeKind == httpx.PayloadEof || storeKind == httpx.PayloadTunnel
	if closeAfterWrite {
		// unblocks the reader if it still sits in the request body
		c.conn.Close()
	}
	done <- answerResult{closeAfterWrite: closeAfterWrite, err: err}
}

// writePayload pumps ready bytes to the socket until the payload is fully
// written, flushing every round so tunnel bytes flow promptly.
func (c *ServerConn) writePayload(payload *httpx.Payload, storeKind httpx.PayloadKind) error {
	for {
		wrote, err := payload.StoreHTTP(c.bw, writeBudget, storeKind)
		if err != nil {
			return err
		}
		if wrote {
			if err := c.bw.Flush(); err != nil {
				return err
			}
		}
		if payload.Written() || storeKind == httpx.PayloadEmpty {
			return c.bw.Flush()
		}
		if !wrote {
			err := payload.WaitFor(context.Background(), func() bool {
				return payload.ReadyBytes() > 0 || payload.ParseCompleted()
			})
			if err != nil {
				return err
			}
		}
	}
}

func drainPayload(p *httpx.Payload) {
	for {
		if len(p.GetSlice(writeBudget)) > 0 {
			continue
		}
		for !p.GetTrailer().Empty() {
		}
		if p.IsError() || (p.ParseCompleted() && p.ReadyBytes() == 0) {
			return
		}
		if p.WaitFor(context.Background(), func() bool {
			return p.ReadyBytes() > 0 || p.ParseCompleted()
		}) != nil {
			return
		}
	}
}

func (c *ServerConn) writeRaw(s string) {
	io.WriteString(c.bw, s)
	c.bw.Flush()
}
