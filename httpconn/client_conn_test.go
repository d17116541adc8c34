package httpconn

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcnode/arcproxy/httpx"
)

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newRequest(t *testing.T, method, url string) *httpx.Request {
	t.Helper()
	req, err := httpx.NewRequest(method, url, "HTTP/1.1")
	require.NoError(t, err)
	require.NoError(t, req.CompleteParseHeader())
	return req
}

func emptyBody(t *testing.T, req *httpx.Request) *httpx.Payload {
	t.Helper()
	p, err := req.CreateEmptyPayload()
	require.NoError(t, err)
	return p
}

// scriptServer consumes one request header and answers with the given raw
// bytes.
func scriptServer(t *testing.T, conn net.Conn, answer string, thenClose bool) {
	t.Helper()
	go func() {
		br := bufio.NewReader(conn)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			if line == "\r\n" {
				break
			}
		}
		io.WriteString(conn, answer)
		if thenClose {
			conn.Close()
		}
	}()
}

func TestClientConnSimpleQuery(t *testing.T) {
	client, server := net.Pipe()
	scriptServer(t, server,
		"HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: Close\r\n\r\nhello", true)

	cc := NewClientConn(client, nil)
	req := newRequest(t, "GET", "/")
	res := <-cc.SendQuery(req, emptyBody(t, req), time.Now().Add(5*time.Second))
	require.NoError(t, res.Err)
	require.Equal(t, uint32(200), res.Resp.Code())

	require.NoError(t, res.Payload.WaitFor(testCtx(t), func() bool {
		return res.Payload.ParseCompleted()
	}))
	require.Equal(t, "hello", string(res.Payload.GetSlice(64)))
}

func TestClientConnContinueAbsorbed(t *testing.T) {
	client, server := net.Pipe()
	scriptServer(t, server,
		"HTTP/1.0 100 Continue\r\n\r\n"+
			"HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: Close\r\n\r\n", true)

	cc := NewClientConn(client, nil)
	req := newRequest(t, "GET", "/")
	res := <-cc.SendQuery(req, emptyBody(t, req), time.Now().Add(5*time.Second))
	require.NoError(t, res.Err)
	require.Equal(t, uint32(200), res.Resp.Code())
}

func TestClientConnTimeoutFailsPending(t *testing.T) {
	client, server := net.Pipe()
	// server reads the request but never answers
	go func() {
		io.Copy(io.Discard, server)
	}()

	cc := NewClientConn(client, nil)
	req1 := newRequest(t, "GET", "/a")
	req2 := newRequest(t, "GET", "/b")
	p1 := cc.SendQuery(req1, emptyBody(t, req1), time.Now().Add(150*time.Millisecond))
	p2 := cc.SendQuery(req2, emptyBody(t, req2), time.Now().Add(10*time.Second))

	res1 := <-p1
	require.ErrorIs(t, res1.Err, ErrTimeout)
	res2 := <-p2
	require.ErrorIs(t, res2.Err, ErrTimeout)

	select {
	case <-cc.Done():
	case <-time.After(time.Second):
		t.Fatal("connection did not tear down")
	}
}

func TestClientConnHeadAnswerHasNoBody(t *testing.T) {
	client, server := net.Pipe()
	scriptServer(t, server,
		"HTTP/1.1 200 OK\r\nContent-Length: 100\r\nConnection: Close\r\n\r\n", true)

	cc := NewClientConn(client, nil)
	req := newRequest(t, "HEAD", "/")
	res := <-cc.SendQuery(req, emptyBody(t, req), time.Now().Add(5*time.Second))
	require.NoError(t, res.Err)
	require.Equal(t, httpx.PayloadEmpty, res.Payload.Kind())
	require.True(t, res.Payload.Written())
}

func TestClientConnBadResponseHeader(t *testing.T) {
	client, server := net.Pipe()
	scriptServer(t, server, "HTTP/1.1 200 OK\r\nGARBAGE\r\n\r\n", true)

	cc := NewClientConn(client, nil)
	req := newRequest(t, "GET", "/")
	res := <-cc.SendQuery(req, emptyBody(t, req), time.Now().Add(2*time.Second))
	require.ErrorIs(t, res.Err, httpx.ErrParse)
}
