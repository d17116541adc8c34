package httpx

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Parse drives the payload state machine over the socket, blocking the
// reading goroutine. Producer backpressure: reading pauses while the ready
// bytes sit above the high watermark and resumes once the consumer drains
// below the low watermark.
func (p *Payload) Parse(r *LineReader) error {
	for {
		if p.IsError() {
			return ErrPayloadError
		}
		if err := p.waitWritable(); err != nil {
			return err
		}

		switch p.State() {
		case StateCompleted:
			return nil

		case StateReadingChunkHeader:
			line, err := r.ReadLine()
			if err != nil {
				return chunkReadErr(err)
			}
			if len(line) == 0 {
				return fmt.Errorf("%w: expected chunk, found empty line", ErrParse)
			}
			sizeField := line
			if idx := strings.IndexAny(sizeField, " ;"); idx >= 0 {
				sizeField = sizeField[:idx]
			}
			size, err := strconv.ParseUint(sizeField, 16, 62)
			if err != nil {
				return fmt.Errorf("%w: bad chunk size %q", ErrParse, sizeField)
			}
			p.mu.Lock()
			if size == 0 {
				p.state.Store(int32(StateReadingTrailer))
			} else {
				p.curChunkSize = size
				p.state.Store(int32(StateReadingChunkData))
			}
			p.mu.Unlock()

		case StateReadingChunkData:
			if done, err := p.readChunkData(r); done || err != nil {
				return err
			}

		case StateReadingTrailer:
			line, err := r.ReadLine()
			if err != nil {
				return chunkReadErr(err)
			}
			if len(line) == 0 {
				p.CompleteParse()
				return nil
			}
			h, err := ParseHeaderLine(line)
			if err != nil {
				return err
			}
			p.AddTrailer(h)
			if p.TrailerSize() > MaxHeaderSize {
				return fmt.Errorf("%w: too big trailer part", ErrParse)
			}

		case StateReadingCrlf:
			var crlf [2]byte
			if err := r.ReadFull(crlf[:]); err != nil {
				return chunkReadErr(err)
			}
			if crlf[0] != '\r' || crlf[1] != '\n' {
				return fmt.Errorf("%w: expected CRLF after chunk", ErrParse)
			}
			p.state.Store(int32(StateReadingChunkHeader))
		}
	}
}

func (p *Payload) readChunkData(r *LineReader) (done bool, err error) {
	p.mu.Lock()
	if p.curChunkSize == 0 {
		switch p.kind {
		case PayloadEof, PayloadTunnel:
			p.curChunkSize = 1 << 60
		case PayloadChunked:
			p.state.Store(int32(StateReadingCrlf))
			p.mu.Unlock()
			return false, nil
		case PayloadContentLength:
			p.state.Store(int32(StateCompleted))
			p.runCallbacksLocked()
			p.mu.Unlock()
			return true, nil
		}
	}
	s := p.getWriteSliceLocked()
	p.mu.Unlock()

	n, err := r.Read(s)
	if n > 0 {
		p.ConfirmWrite(n)
	}
	if err != nil {
		if err == io.EOF {
			// EOF terminates only Eof and Tunnel bodies
			if p.kind == PayloadEof || p.kind == PayloadTunnel {
				p.CompleteParse()
				return true, nil
			}
			return false, fmt.Errorf("%w: unexpected EOF in body", ErrParse)
		}
		return false, err
	}
	return false, nil
}

func chunkReadErr(err error) error {
	if err == io.EOF {
		return fmt.Errorf("%w: unexpected EOF in body", ErrParse)
	}
	return err
}

// waitWritable blocks the producer while the consumer is behind: once the
// ready bytes exceed the high watermark it waits until they drop to the low
// watermark.
func (p *Payload) waitWritable() error {
	limit := p.highWatermark
	for {
		ch := p.Changed()
		if p.IsError() {
			return ErrPayloadError
		}
		if p.ReadyBytes() <= limit || p.ParseCompleted() {
			return nil
		}
		limit = p.lowWatermark
		<-ch
	}
}

// WaitFor blocks until cond holds, the payload errors, or ctx expires.
// cond is evaluated with the payload's own accessors.
func (p *Payload) WaitFor(ctx context.Context, cond func() bool) error {
	for {
		ch := p.Changed()
		if cond() {
			return nil
		}
		if p.IsError() {
			return ErrPayloadError
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
