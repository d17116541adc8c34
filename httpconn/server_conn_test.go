package httpconn

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcnode/arcproxy/httpx"
)

type handlerFunc func(ctx context.Context, req *httpx.Request, body *httpx.Payload) (*httpx.Response, *httpx.Payload, error)

func (f handlerFunc) ReceiveRequest(ctx context.Context, req *httpx.Request, body *httpx.Payload) (*httpx.Response, *httpx.Payload, error) {
	return f(ctx, req, body)
}

func fixedResponse(t *testing.T, code uint32, reason, body string, keepAlive bool) handlerFunc {
	return func(ctx context.Context, req *httpx.Request, reqBody *httpx.Payload) (*httpx.Response, *httpx.Payload, error) {
		resp, err := httpx.NewResponse("HTTP/1.1", code, reason, req.NoPayloadInAnswer(), keepAlive, false)
		require.NoError(t, err)
		require.NoError(t, resp.AddHeader(httpx.Header{Name: "Content-Length", Value: strconv.Itoa(len(body))}))
		require.NoError(t, resp.CompleteParseHeader())
		payload, err := resp.CreateEmptyPayload()
		require.NoError(t, err)
		if len(body) > 0 {
			payload.AddChunk([]byte(body))
		}
		payload.CompleteParse()
		return resp, payload, nil
	}
}


func serveOne(t *testing.T, handler Handler) (net.Conn, func()) {
	t.Helper()
	client, server := net.Pipe()
	sc := NewServerConn(server, handler)
	go sc.Serve()
	return client, func() { client.Close() }
}

func TestServerConnSimpleGet(t *testing.T) {
	client, cleanup := serveOne(t, fixedResponse(t, 200, "OK", "hello", false))
	defer cleanup()

	_, err := io.WriteString(client,
		"GET / HTTP/1.1\r\nHost: example.ton\r\nConnection: Close\r\n\r\n")
	require.NoError(t, err)

	out, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Equal(t,
		"HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: Close\r\n\r\nhello",
		string(out))
}

func TestServerConnBadRequest(t *testing.T) {
	client, cleanup := serveOne(t, fixedResponse(t, 200, "OK", "", false))
	defer cleanup()

	_, err := io.WriteString(client, "NOT-A-METHOD-AT-ALL\r\n\r\n")
	require.NoError(t, err)

	out, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Equal(t,
		"HTTP/1.0 400 Bad Request\r\nConnection: Close\r\nContent-length: 0\r\n\r\n",
		string(out))
}

func TestServerConnUpstreamErrors(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrTimeout, "HTTP/1.1 504 Gateway Timeout"},
		{ErrNotReady, "HTTP/1.1 502 Bad Gateway"},
	}
	for _, c := range cases {
		client, cleanup := serveOne(t, handlerFunc(
			func(ctx context.Context, req *httpx.Request, body *httpx.Payload) (*httpx.Response, *httpx.Payload, error) {
				return nil, nil, c.err
			}))

		_, err := io.WriteString(client,
			"GET / HTTP/1.1\r\nHost: x\r\n\r\n")
		require.NoError(t, err)

		br := bufio.NewReader(client)
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(line, c.want), line)
		cleanup()
	}
}

func TestServerConnKeepAlivePipelining(t *testing.T) {
	client, cleanup := serveOne(t, fixedResponse(t, 200, "OK", "ok", true))
	defer cleanup()

	br := bufio.NewReader(client)
	for i := 0; i < 3; i++ {
		_, err := io.WriteString(client, "GET / HTTP/1.1\r\nHost: a\r\n\r\n")
		require.NoError(t, err)

		status, err := br.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "HTTP/1.1 200 OK\r\n", status)
		// skip headers
		for {
			line, err := br.ReadString('\n')
			require.NoError(t, err)
			if line == "\r\n" {
				break
			}
		}
		body := make([]byte, 2)
		_, err = io.ReadFull(br, body)
		require.NoError(t, err)
		require.Equal(t, "ok", string(body))
	}
}

func TestServerConnRequestBodyStreams(t *testing.T) {
	gotBody := make(chan string, 1)
	client, cleanup := serveOne(t, handlerFunc(
		func(ctx context.Context, req *httpx.Request, body *httpx.Payload) (*httpx.Response, *httpx.Payload, error) {
			// consume the streaming request body before answering
			var data []byte
			for {
				ch := body.Changed()
				if s := body.GetSlice(1 << 16); len(s) > 0 {
					data = append(data, s...)
					continue
				}
				if body.ParseCompleted() && body.ReadyBytes() == 0 {
					break
				}
				<-ch
			}
			gotBody <- string(data)
			return fixedResponse(t, 200, "OK", "", false)(ctx, req, body)
		}))
	defer cleanup()

	_, err := io.WriteString(client,
		"POST /up HTTP/1.1\r\nHost: a\r\nContent-Length: 9\r\n\r\nfull body")
	require.NoError(t, err)

	require.Equal(t, "full body", <-gotBody)
	out, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Contains(t, string(out), "200 OK")
}
