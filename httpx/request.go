package httpx

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

var supportedMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "CONNECT": true, "OPTIONS": true, "TRACE": true,
}

// Request is a parsed HTTP/1.x request header. The body lives in a separate
// Payload created by CreateEmptyPayload once the header is complete.
type Request struct {
	method string
	url    string
	proto  string

	host                  string
	contentLength         uint64
	foundContentLength    bool
	foundTransferEncoding bool

	parseComplete bool
	keepAlive     bool

	options []Header
}

func NewRequest(method, url, proto string) (*Request, error) {
	if proto != "HTTP/1.0" && proto != "HTTP/1.1" {
		return nil, fmt.Errorf("%w: unsupported http version %q", ErrParse, proto)
	}
	if !supportedMethods[method] {
		return nil, fmt.Errorf("%w: unsupported http method %q", ErrParse, method)
	}
	return &Request{
		method:    method,
		url:       url,
		proto:     proto,
		keepAlive: proto == "HTTP/1.1",
	}, nil
}

func (r *Request) Method() string    { return r.method }
func (r *Request) URL() string       { return r.url }
func (r *Request) Proto() string     { return r.proto }
func (r *Request) Host() string      { return r.host }
func (r *Request) KeepAlive() bool   { return r.keepAlive }
func (r *Request) Headers() []Header { return r.options }

func (r *Request) SetKeepAlive(v bool) { r.keepAlive = v }

func (r *Request) ParseHeaderCompleted() bool { return r.parseComplete }

func (r *Request) CompleteParseHeader() error {
	r.parseComplete = true
	return nil
}

// NoPayloadInAnswer reports that the response to this request must not carry
// a body regardless of its headers.
func (r *Request) NoPayloadInAnswer() bool {
	return r.method == "HEAD"
}

func (r *Request) NeedPayload() bool {
	return r.foundContentLength || r.foundTransferEncoding || r.method == "CONNECT"
}

func (r *Request) IsConnect() bool {
	return r.method == "CONNECT"
}

// AddHeader records one header. Connection and Proxy-Connection headers
// saying keep-alive or close only adjust the keep-alive bit and are
// re-synthesized at serialization time; every other header, including a
// Connection header with any other value, is kept verbatim.
func (r *Request) AddHeader(h Header) error {
	if err := h.BasicCheck(); err != nil {
		return err
	}
	name := strings.ToLower(h.Name)
	value := strings.ToLower(strings.TrimSpace(h.Value))

	switch name {
	case "content-length":
		length, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: bad Content-Length %q", ErrParse, h.Value)
		}
		if r.foundContentLength || r.foundTransferEncoding {
			return fmt.Errorf("%w: duplicate Content-Length/Transfer-Encoding", ErrParse)
		}
		r.contentLength = length
		r.foundContentLength = true
	case "transfer-encoding":
		// expect chunked, don't even check
		if r.foundContentLength || r.foundTransferEncoding {
			return fmt.Errorf("%w: duplicate Content-Length/Transfer-Encoding", ErrParse)
		}
		r.foundTransferEncoding = true
	case "host":
		if len(r.host) > 0 {
			return fmt.Errorf("%w: duplicate Host", ErrParse)
		}
		r.host = value
	case "connection", "proxy-connection":
		switch value {
		case "keep-alive":
			r.keepAlive = true
			return nil
		case "close":
			r.keepAlive = false
			return nil
		}
	}
	r.options = append(r.options, h)
	return nil
}

// CreateEmptyPayload derives the body descriptor from the parsed header.
func (r *Request) CreateEmptyPayload() (*Payload, error) {
	if !r.NeedPayload() {
		return NewEmptyPayload(), nil
	}
	switch {
	case r.method == "CONNECT":
		return NewPayload(PayloadTunnel, 1, HighWatermark), nil
	case r.foundContentLength:
		return NewContentLengthPayload(LowWatermark, HighWatermark, r.contentLength), nil
	default:
		return NewPayload(PayloadChunked, LowWatermark, HighWatermark), nil
	}
}

// PayloadStoreKind is the wire framing to use when serializing this
// request's body back to HTTP.
func (r *Request) PayloadStoreKind() PayloadKind {
	switch {
	case r.method == "CONNECT":
		return PayloadTunnel
	case r.foundTransferEncoding:
		return PayloadChunked
	case r.foundContentLength:
		return PayloadContentLength
	default:
		return PayloadEmpty
	}
}

// StoreHTTP writes the start line, the retained headers, an explicit
// Connection header synthesized from the keep-alive bit, and the blank line.
func (r *Request) StoreHTTP(w io.Writer) error {
	cw := &countingWriter{w: w}
	cw.writeString(r.method + " " + r.url + " " + r.proto + "\r\n")
	for _, h := range r.options {
		if cw.err == nil {
			cw.err = h.StoreHTTP(w)
		}
	}
	if r.keepAlive {
		cw.writeString("Connection: Keep-Alive\r\n")
	} else {
		cw.writeString("Connection: Close\r\n")
	}
	cw.writeString("\r\n")
	return cw.err
}

// ReadRequestHeader parses one request header section from the stream.
// io.EOF before the first byte means a clean end of the connection.
func ReadRequestHeader(r *LineReader) (*Request, error) {
	var req *Request
	total := 0
	for {
		line, err := r.ReadLine()
		if err != nil {
			if err == io.EOF && req != nil {
				return nil, fmt.Errorf("%w: truncated request header", ErrParse)
			}
			return nil, err
		}
		total += len(line) + 2
		if total > MaxHeaderSize {
			return nil, fmt.Errorf("%w: request header too large", ErrParse)
		}

		if req == nil {
			if len(line) == 0 {
				// tolerate a stray CRLF before the request line
				continue
			}
			fields := strings.Fields(line)
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: malformed request line %q", ErrParse, line)
			}
			req, err = NewRequest(fields[0], fields[1], fields[2])
			if err != nil {
				return nil, err
			}
		} else {
			if len(line) == 0 {
				if err := req.CompleteParseHeader(); err != nil {
					return nil, err
				}
				return req, nil
			}
			h, err := ParseHeaderLine(line)
			if err != nil {
				return nil, err
			}
			if err := req.AddHeader(h); err != nil {
				return nil, err
			}
		}
	}
}
