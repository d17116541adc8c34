package httpx

import (
	"fmt"
	"io"
	"strings"
)

// Header is a single HTTP header line. Lookups compare names
// case-insensitively, but the original spelling is preserved on the wire.
type Header struct {
	Name  string
	Value string
}

// Size is the wire footprint used for watermark accounting: name, value and
// the ": " separator. (The CRLF is charged to the serializer.)
func (h Header) Size() int {
	return len(h.Name) + len(h.Value) + 2
}

func (h Header) Empty() bool {
	return len(h.Name) == 0
}

// BasicCheck rejects names and values that could break line framing.
func (h Header) BasicCheck() error {
	if strings.ContainsAny(h.Name, " \t\r\n:") {
		return fmt.Errorf("%w: bad character in header name %q", ErrParse, h.Name)
	}
	if strings.ContainsAny(h.Value, "\r\n") {
		return fmt.Errorf("%w: bad character in header value for %q", ErrParse, h.Name)
	}
	return nil
}

func (h Header) StoreHTTP(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s: %s\r\n", h.Name, h.Value)
	return err
}

// ParseHeaderLine splits a header line at the first ':' and trims the value.
func ParseHeaderLine(line string) (Header, error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return Header{}, fmt.Errorf("%w: header line without ':': %q", ErrParse, line)
	}
	h := Header{
		Name:  line[:idx],
		Value: strings.TrimSpace(line[idx+1:]),
	}
	if err := h.BasicCheck(); err != nil {
		return Header{}, err
	}
	return h, nil
}
