package httpx

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func lineReaderFor(s string) *LineReader {
	return NewLineReader(strings.NewReader(s))
}

func TestReadRequestHeader(t *testing.T) {
	req, err := ReadRequestHeader(lineReaderFor(
		"GET http://Example.TON/index.html HTTP/1.1\r\n" +
			"Host: Example.TON\r\n" +
			"X-Custom: foo\r\n" +
			"Connection: Close\r\n" +
			"\r\n"))
	require.NoError(t, err)
	require.Equal(t, "GET", req.Method())
	require.Equal(t, "http://Example.TON/index.html", req.URL())
	require.Equal(t, "HTTP/1.1", req.Proto())
	require.Equal(t, "example.ton", req.Host())
	require.False(t, req.KeepAlive())
	require.True(t, req.ParseHeaderCompleted())
	require.False(t, req.NeedPayload())
	require.False(t, req.NoPayloadInAnswer())
}

func TestRequestKeepAliveDefaults(t *testing.T) {
	req, err := ReadRequestHeader(lineReaderFor("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	require.True(t, req.KeepAlive())

	req, err = ReadRequestHeader(lineReaderFor("GET / HTTP/1.0\r\n\r\n"))
	require.NoError(t, err)
	require.False(t, req.KeepAlive())

	req, err = ReadRequestHeader(lineReaderFor("GET / HTTP/1.0\r\nProxy-Connection: keep-alive\r\n\r\n"))
	require.NoError(t, err)
	require.True(t, req.KeepAlive())
}

func TestRequestRejects(t *testing.T) {
	cases := []string{
		"FROB / HTTP/1.1\r\n\r\n",
		"GET / HTTP/2.0\r\n\r\n",
		"GET / HTTP/1.1 extra\r\n\r\n",
		"GET / HTTP/1.1\r\nHost: a\r\nHost: b\r\n\r\n",
		"POST / HTTP/1.1\r\nContent-Length: 5\r\nContent-Length: 5\r\n\r\n",
		"POST / HTTP/1.1\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n",
		"POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\nContent-Length: 5\r\n\r\n",
		"GET / HTTP/1.1\r\nBroken line\r\n\r\n",
	}
	for _, c := range cases {
		_, err := ReadRequestHeader(lineReaderFor(c))
		require.ErrorIs(t, err, ErrParse, "input: %q", c)
	}
}

func TestRequestLineTooLong(t *testing.T) {
	long := "GET /" + strings.Repeat("a", 17<<10) + " HTTP/1.1\r\n\r\n"
	_, err := ReadRequestHeader(lineReaderFor(long))
	require.ErrorIs(t, err, ErrParse)
}

func TestRequestPayloadKinds(t *testing.T) {
	req, err := ReadRequestHeader(lineReaderFor("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	p, err := req.CreateEmptyPayload()
	require.NoError(t, err)
	require.Equal(t, PayloadEmpty, p.Kind())
	require.True(t, p.Written())

	req, err = ReadRequestHeader(lineReaderFor("POST / HTTP/1.1\r\nContent-Length: 11\r\n\r\n"))
	require.NoError(t, err)
	require.True(t, req.NeedPayload())
	p, err = req.CreateEmptyPayload()
	require.NoError(t, err)
	require.Equal(t, PayloadContentLength, p.Kind())

	req, err = ReadRequestHeader(lineReaderFor("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"))
	require.NoError(t, err)
	p, err = req.CreateEmptyPayload()
	require.NoError(t, err)
	require.Equal(t, PayloadChunked, p.Kind())

	req, err = ReadRequestHeader(lineReaderFor("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"))
	require.NoError(t, err)
	require.True(t, req.IsConnect())
	p, err = req.CreateEmptyPayload()
	require.NoError(t, err)
	require.Equal(t, PayloadTunnel, p.Kind())
}

func TestRequestStoreHTTP(t *testing.T) {
	req, err := ReadRequestHeader(lineReaderFor(
		"GET /x HTTP/1.1\r\nHost: a.ton\r\nConnection: keep-alive\r\n\r\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, req.StoreHTTP(&buf))
	require.Equal(t,
		"GET /x HTTP/1.1\r\nHost: a.ton\r\nConnection: Keep-Alive\r\n\r\n",
		buf.String())

	req.SetKeepAlive(false)
	buf.Reset()
	require.NoError(t, req.StoreHTTP(&buf))
	require.Contains(t, buf.String(), "Connection: Close\r\n")
}

func TestHeadNoPayloadInAnswer(t *testing.T) {
	req, err := ReadRequestHeader(lineReaderFor("HEAD / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	require.True(t, req.NoPayloadInAnswer())
}
