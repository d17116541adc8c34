package rdp

import (
	"encoding/binary"
	"fmt"

	"github.com/arcnode/arcproxy/httpx"
)

// TL-style framing: little-endian u32 constructor tags, length-prefixed
// byte strings padded to 4 bytes. The constructor values come from the
// external overlay schema.
const (
	TagHTTPRequest        uint32 = 0x5b90a374
	TagHTTPResponse       uint32 = 0x8bbe1f1c
	TagHTTPHeader         uint32 = 0x19361b0b
	TagGetNextPayloadPart uint32 = 0x27c2e8c2
	TagPayloadPart        uint32 = 0x3c8d90a5

	tagBoolTrue  uint32 = 0x997275b5
	tagBoolFalse uint32 = 0xbc799737
)

type tlWriter struct {
	buf []byte
}

func (w *tlWriter) writeUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *tlWriter) writeInt32(v int32) {
	w.writeUint32(uint32(v))
}

func (w *tlWriter) writeBool(v bool) {
	if v {
		w.writeUint32(tagBoolTrue)
	} else {
		w.writeUint32(tagBoolFalse)
	}
}

func (w *tlWriter) writeBits256(b [32]byte) {
	w.buf = append(w.buf, b[:]...)
}

func (w *tlWriter) writeBytes(b []byte) {
	n := len(b)
	if n < 254 {
		w.buf = append(w.buf, byte(n))
	} else {
		w.buf = append(w.buf, 254, byte(n), byte(n>>8), byte(n>>16))
	}
	w.buf = append(w.buf, b...)
	for len(w.buf)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *tlWriter) writeString(s string) {
	w.writeBytes([]byte(s))
}

func (w *tlWriter) writeHeaders(headers []httpx.Header) {
	w.writeUint32(uint32(len(headers)))
	for _, h := range headers {
		w.writeUint32(TagHTTPHeader)
		w.writeString(h.Name)
		w.writeString(h.Value)
	}
}

type tlReader struct {
	buf []byte
	err error
}

func (r *tlReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: "+format, append([]any{ErrTransport}, args...)...)
	}
}

func (r *tlReader) readUint32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 4 {
		r.fail("truncated u32")
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v
}

func (r *tlReader) readInt32() int32 {
	return int32(r.readUint32())
}

func (r *tlReader) readBool() bool {
	switch r.readUint32() {
	case tagBoolTrue:
		return true
	case tagBoolFalse:
		return false
	default:
		r.fail("bad bool tag")
		return false
	}
}

func (r *tlReader) readBits256() (b [32]byte) {
	if r.err != nil {
		return
	}
	if len(r.buf) < 32 {
		r.fail("truncated bits256")
		return
	}
	copy(b[:], r.buf)
	r.buf = r.buf[32:]
	return
}

func (r *tlReader) readBytes() []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < 1 {
		r.fail("truncated bytes")
		return nil
	}
	var n, pad int
	if r.buf[0] < 254 {
		n = int(r.buf[0])
		pad = 1
	} else {
		if len(r.buf) < 4 {
			r.fail("truncated bytes length")
			return nil
		}
		n = int(r.buf[1]) | int(r.buf[2])<<8 | int(r.buf[3])<<16
		pad = 4
	}
	total := pad + n
	for total%4 != 0 {
		total++
	}
	if len(r.buf) < total {
		r.fail("truncated bytes body")
		return nil
	}
	b := r.buf[pad : pad+n]
	r.buf = r.buf[total:]
	return b
}

func (r *tlReader) readString() string {
	return string(r.readBytes())
}

func (r *tlReader) readHeaders() []httpx.Header {
	n := r.readUint32()
	if r.err != nil || n > 1024 {
		r.fail("bad header count %d", n)
		return nil
	}
	headers := make([]httpx.Header, 0, n)
	for i := uint32(0); i < n; i++ {
		if tag := r.readUint32(); tag != TagHTTPHeader {
			r.fail("bad header tag %#x", tag)
			return nil
		}
		h := httpx.Header{Name: r.readString(), Value: r.readString()}
		headers = append(headers, h)
	}
	return headers
}

// HTTPRequestMsg carries a serialized request header plus the transfer id
// its body will stream under.
type HTTPRequestMsg struct {
	ID      TransferID
	Method  string
	URL     string
	Proto   string
	Headers []httpx.Header
}

func (m *HTTPRequestMsg) Serialize() []byte {
	w := &tlWriter{}
	w.writeUint32(TagHTTPRequest)
	w.writeBits256(m.ID)
	w.writeString(m.Method)
	w.writeString(m.URL)
	w.writeString(m.Proto)
	w.writeHeaders(m.Headers)
	return w.buf
}

func ParseHTTPRequestMsg(data []byte) (*HTTPRequestMsg, error) {
	r := &tlReader{buf: data}
	if tag := r.readUint32(); tag != TagHTTPRequest && r.err == nil {
		return nil, fmt.Errorf("%w: bad http_request tag %#x", ErrTransport, tag)
	}
	m := &HTTPRequestMsg{
		ID:      r.readBits256(),
		Method:  r.readString(),
		URL:     r.readString(),
		Proto:   r.readString(),
		Headers: r.readHeaders(),
	}
	return m, r.err
}

type HTTPResponseMsg struct {
	Proto     string
	Code      uint32
	Reason    string
	Headers   []httpx.Header
	NoPayload bool
}

func (m *HTTPResponseMsg) Serialize() []byte {
	w := &tlWriter{}
	w.writeUint32(TagHTTPResponse)
	w.writeString(m.Proto)
	w.writeUint32(m.Code)
	w.writeString(m.Reason)
	w.writeHeaders(m.Headers)
	w.writeBool(m.NoPayload)
	return w.buf
}

func ParseHTTPResponseMsg(data []byte) (*HTTPResponseMsg, error) {
	r := &tlReader{buf: data}
	if tag := r.readUint32(); tag != TagHTTPResponse && r.err == nil {
		return nil, fmt.Errorf("%w: bad http_response tag %#x", ErrTransport, tag)
	}
	m := &HTTPResponseMsg{
		Proto:   r.readString(),
		Code:    r.readUint32(),
		Reason:  r.readString(),
		Headers: r.readHeaders(),
	}
	m.NoPayload = r.readBool()
	return m, r.err
}

type GetNextPayloadPart struct {
	ID           TransferID
	Seqno        int32
	MaxChunkSize int32
}

func (m *GetNextPayloadPart) Serialize() []byte {
	w := &tlWriter{}
	w.writeUint32(TagGetNextPayloadPart)
	w.writeBits256(m.ID)
	w.writeInt32(m.Seqno)
	w.writeInt32(m.MaxChunkSize)
	return w.buf
}

func ParseGetNextPayloadPart(data []byte) (*GetNextPayloadPart, error) {
	r := &tlReader{buf: data}
	if tag := r.readUint32(); tag != TagGetNextPayloadPart && r.err == nil {
		return nil, fmt.Errorf("%w: bad getNextPayloadPart tag %#x", ErrTransport, tag)
	}
	m := &GetNextPayloadPart{
		ID:           r.readBits256(),
		Seqno:        r.readInt32(),
		MaxChunkSize: r.readInt32(),
	}
	return m, r.err
}

type PayloadPart struct {
	Data     []byte
	Trailers []httpx.Header
	Last     bool
}

func (m *PayloadPart) Serialize() []byte {
	w := &tlWriter{}
	w.writeUint32(TagPayloadPart)
	w.writeBytes(m.Data)
	w.writeHeaders(m.Trailers)
	w.writeBool(m.Last)
	return w.buf
}

func ParsePayloadPart(data []byte) (*PayloadPart, error) {
	r := &tlReader{buf: data}
	if tag := r.readUint32(); tag != TagPayloadPart && r.err == nil {
		return nil, fmt.Errorf("%w: bad payloadPart tag %#x", ErrTransport, tag)
	}
	m := &PayloadPart{
		Data:     r.readBytes(),
		Trailers: r.readHeaders(),
	}
	m.Last = r.readBool()
	return m, r.err
}

// GetNextPartPrefix is the subscription key for one transfer's part
// queries: {opcode || transfer_id}.
func GetNextPartPrefix(id TransferID) []byte {
	w := &tlWriter{}
	w.writeUint32(TagGetNextPayloadPart)
	w.writeBits256(id)
	return w.buf
}

// HTTPRequestPrefix is the subscription key for inbound proxied requests.
func HTTPRequestPrefix() []byte {
	w := &tlWriter{}
	w.writeUint32(TagHTTPRequest)
	return w.buf
}
