package httpx

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Response is a parsed or synthesized HTTP/1.x response header.
type Response struct {
	proto  string
	code   uint32
	reason string

	forceNoPayload bool
	isTunnel       bool

	contentLength         uint64
	foundContentLength    bool
	foundTransferEncoding bool

	parseComplete bool
	keepAlive     bool

	options []Header
}

func NewResponse(proto string, code uint32, reason string, forceNoPayload, keepAlive, isTunnel bool) (*Response, error) {
	if proto != "HTTP/1.0" && proto != "HTTP/1.1" {
		return nil, fmt.Errorf("%w: unsupported http version %q", ErrParse, proto)
	}
	if code < 100 || code > 999 {
		return nil, fmt.Errorf("%w: bad status code %d", ErrParse, code)
	}
	return &Response{
		proto:          proto,
		code:           code,
		reason:         reason,
		forceNoPayload: forceNoPayload,
		keepAlive:      keepAlive,
		isTunnel:       isTunnel,
	}, nil
}

func (r *Response) Proto() string     { return r.proto }
func (r *Response) Code() uint32      { return r.code }
func (r *Response) Reason() string    { return r.reason }
func (r *Response) IsTunnel() bool    { return r.isTunnel }
func (r *Response) Headers() []Header { return r.options }

func (r *Response) FoundContentLength() bool    { return r.foundContentLength }
func (r *Response) FoundTransferEncoding() bool { return r.foundTransferEncoding }

func (r *Response) KeepAlive() bool {
	return !r.forceNoPayload && r.keepAlive
}

func (r *Response) SetKeepAlive(v bool) { r.keepAlive = v }

func (r *Response) ParseHeaderCompleted() bool { return r.parseComplete }

func (r *Response) CompleteParseHeader() error {
	r.parseComplete = true
	return nil
}

func (r *Response) NeedPayload() bool {
	return !r.forceNoPayload && r.code >= 200 && r.code != 204 && r.code != 304
}

func (r *Response) AddHeader(h Header) error {
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

func (r *Response) CreateEmptyPayload() (*Payload, error) {
	if !r.NeedPayload() {
		return NewEmptyPayload(), nil
	}
	switch {
	case r.isTunnel:
		return NewPayload(PayloadTunnel, 1, HighWatermark), nil
	case r.foundContentLength:
		return NewContentLengthPayload(LowWatermark, HighWatermark, r.contentLength), nil
	case r.foundTransferEncoding:
		return NewPayload(PayloadChunked, LowWatermark, HighWatermark), nil
	default:
		return NewPayload(PayloadEof, LowWatermark, HighWatermark), nil
	}
}

func (r *Response) PayloadStoreKind() PayloadKind {
	switch {
	case !r.NeedPayload():
		return PayloadEmpty
	case r.isTunnel:
		return PayloadTunnel
	case r.foundContentLength:
		return PayloadContentLength
	case r.foundTransferEncoding:
		return PayloadChunked
	default:
		return PayloadEof
	}
}

// StoreHTTP writes the status line, the retained headers, the synthesized
// Connection header (omitted for a CONNECT tunnel 200), and the blank line.
func (r *Response) StoreHTTP(w io.Writer) error {
	cw := &countingWriter{w: w}
	cw.writeString(r.proto + " " + strconv.FormatUint(uint64(r.code), 10) + " " + r.reason + "\r\n")
	for _, h := range r.options {
		if cw.err == nil {
			cw.err = h.StoreHTTP(w)
		}
	}
	if !r.isTunnel {
		if r.keepAlive {
			cw.writeString("Connection: Keep-Alive\r\n")
		} else {
			cw.writeString("Connection: Close\r\n")
		}
	}
	cw.writeString("\r\n")
	return cw.err
}

// ReadResponseHeader parses one response header section. forceNoPayload and
// keepAlive seed the response with what the issuing request implies (a HEAD
// answer has no body; keep-alive starts from the request's own setting, and
// a Connection header in the response overrides it).
func ReadResponseHeader(r *LineReader, forceNoPayload, keepAlive bool) (*Response, error) {
	var resp *Response
	total := 0
	for {
		line, err := r.ReadLine()
		if err != nil {
			if err == io.EOF && resp != nil {
				return nil, fmt.Errorf("%w: truncated response header", ErrParse)
			}
			return nil, err
		}
		total += len(line) + 2
		if total > MaxHeaderSize {
			return nil, fmt.Errorf("%w: response header too large", ErrParse)
		}

		if resp == nil {
			parts := strings.SplitN(line, " ", 3)
			if len(parts) != 3 {
				return nil, fmt.Errorf("%w: malformed status line %q", ErrParse, line)
			}
			code, err := strconv.ParseUint(parts[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: bad status code %q", ErrParse, parts[1])
			}
			resp, err = NewResponse(parts[0], uint32(code), parts[2], forceNoPayload, keepAlive, false)
			if err != nil {
				return nil, err
			}
		} else {
			if len(line) == 0 {
				if err := resp.CompleteParseHeader(); err != nil {
					return nil, err
				}
				return resp, nil
			}
			h, err := ParseHeaderLine(line)
			if err != nil {
				return nil, err
			}
			if err := resp.AddHeader(h); err != nil {
				return nil, err
			}
		}
	}
}
