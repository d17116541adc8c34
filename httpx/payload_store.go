package httpx

import (
	"fmt"
	"io"
)

type countingWriter struct {
	w   io.Writer
	err error
}

func (c *countingWriter) write(p []byte) {
	if c.err != nil {
		return
	}
	_, c.err = c.w.Write(p)
}

func (c *countingWriter) writeString(s string) {
	if c.err != nil {
		return
	}
	_, c.err = io.WriteString(c.w, s)
}

// StoreHTTP serializes up to maxSize ready bytes to w using the given wire
// framing. Chunked framing emits hex-size-prefixed chunks, the zero chunk,
// trailers and the final blank line; everything else is raw bytes. It
// reports whether any progress was made.
func (p *Payload) StoreHTTP(w io.Writer, maxSize int, storeKind PayloadKind) (bool, error) {
	if storeKind == PayloadEmpty {
		return false, nil
	}
	cw := &countingWriter{w: w}

	p.mu.Lock()
	defer p.mu.Unlock()

	wrote := false
	for maxSize > 0 {
		st := p.State()
		s := p.getSliceLocked(maxSize)
		if len(s) == 0 {
			if st != StateReadingTrailer && st != StateCompleted {
				return wrote, cw.err
			}
			break
		}
		maxSize -= len(s)
		if storeKind == PayloadChunked {
			cw.writeString(fmt.Sprintf("%x\r\n", len(s)))
			cw.write(s)
			cw.writeString("\r\n")
		} else {
			cw.write(s)
		}
		wrote = true
	}

	st := p.State()
	if !p.queueEmptyLocked() || (st != StateReadingTrailer && st != StateCompleted) {
		return wrote, cw.err
	}
	if !p.writtenZeroChunk {
		if storeKind == PayloadChunked {
			cw.writeString("0\r\n")
			wrote = true
		}
		p.writtenZeroChunk = true
	}
	if storeKind != PayloadChunked {
		p.writtenTrailer = true
		return wrote, cw.err
	}

	for {
		st = p.State()
		h := p.getTrailerLocked()
		if h.Empty() {
			if st != StateCompleted {
				return wrote, cw.err
			}
			break
		}
		if cw.err == nil {
			cw.err = h.StoreHTTP(cw.w)
		}
		wrote = true
	}

	if !p.writtenTrailer {
		cw.writeString("\r\n")
		p.writtenTrailer = true
		wrote = true
	}
	return wrote, cw.err
}

// StoreTL drains up to maxSize body bytes plus any complete trailers into
// one transfer part. last is true once everything produced has been taken.
func (p *Payload) StoreTL(maxSize int) (data []byte, trailers []Header, last bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	budget := p.readyBytes - p.trailerSizeRemainingLocked()
	if budget > maxSize {
		budget = maxSize
	}
	for budget > 0 {
		s := p.getSliceLocked(budget)
		if len(s) == 0 {
			break
		}
		data = append(data, s...)
		budget -= len(s)
	}

	st := p.State()
	if st == StateReadingTrailer || st == StateCompleted {
		for {
			h := p.getTrailerLocked()
			if h.Empty() {
				break
			}
			trailers = append(trailers, h)
		}
	}

	if p.ParseCompleted() && p.queueEmptyLocked() && len(p.trailers) == 0 {
		p.writtenZeroChunk = true
		p.writtenTrailer = true
	}
	return data, trailers, p.writtenLocked()
}

func (p *Payload) trailerSizeRemainingLocked() int {
	s := 0
	for _, h := range p.trailers {
		s += h.Size()
	}
	return s
}
