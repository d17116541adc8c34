package httpx

import (
	"sync"
	"sync/atomic"
)

type PayloadKind int

const (
	PayloadEmpty PayloadKind = iota
	PayloadEof
	PayloadChunked
	PayloadContentLength
	PayloadTunnel
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadEmpty:
		return "empty"
	case PayloadEof:
		return "eof"
	case PayloadChunked:
		return "chunked"
	case PayloadContentLength:
		return "content-length"
	case PayloadTunnel:
		return "tunnel"
	}
	return "unknown"
}

type ParseState int32

const (
	StateReadingChunkHeader ParseState = iota
	StateReadingChunkData
	StateReadingTrailer
	StateReadingCrlf
	StateCompleted
)

const (
	MaxHeaderSize    = 16 << 10
	MaxOneHeaderSize = 16 << 10
	MaxPayloadSize   = 1 << 20

	LowWatermark  = 16 << 10
	HighWatermark = 128 << 10

	payloadChunkSize = 16 << 10
)

// PayloadCallback observes ready-byte changes and completion. Callbacks run
// under the payload lock on every mutation; implementations do their own
// edge detection and must not call back into the payload.
type PayloadCallback interface {
	OnReadyBytes(ready int)
	OnCompleted()
}

// Payload is the body of one HTTP message: a producer/consumer byte queue
// with trailers. One goroutine produces (the socket reader or the transfer
// receiver), another consumes (the socket writer or the transfer sender).
// All mutation is serialized by mu; state is readable without the lock.
type Payload struct {
	kind          PayloadKind
	lowWatermark  int
	highWatermark int
	chunkSize     int

	state   atomic.Int32
	errored atomic.Bool

	mu               sync.Mutex
	chunks           [][]byte // filled bytes only; last may still grow
	lastChunkFree    int
	headOff          int // consumed prefix of chunks[0]
	trailers         []Header
	trailerSize      int
	readyBytes       int
	curChunkSize     uint64
	writtenZeroChunk bool
	writtenTrailer   bool
	callbacks        []PayloadCallback
	changed          chan struct{}
}

// NewPayload creates a payload of the given kind. ContentLength payloads
// must be created with NewContentLengthPayload.
func NewPayload(kind PayloadKind, lowWatermark, highWatermark int) *Payload {
	p := &Payload{
		kind:          kind,
		lowWatermark:  lowWatermark,
		highWatermark: highWatermark,
		chunkSize:     payloadChunkSize,
		changed:       make(chan struct{}),
	}
	switch kind {
	case PayloadEmpty:
		p.state.Store(int32(StateCompleted))
		p.writtenZeroChunk = true
		p.writtenTrailer = true
	case PayloadEof, PayloadTunnel:
		p.state.Store(int32(StateReadingChunkData))
	case PayloadChunked:
		p.state.Store(int32(StateReadingChunkHeader))
	case PayloadContentLength:
		panic("content-length payload needs a size")
	}
	return p
}

func NewContentLengthPayload(lowWatermark, highWatermark int, size uint64) *Payload {
	p := &Payload{
		kind:          PayloadContentLength,
		lowWatermark:  lowWatermark,
		highWatermark: highWatermark,
		chunkSize:     payloadChunkSize,
		curChunkSize:  size,
		changed:       make(chan struct{}),
	}
	p.state.Store(int32(StateReadingChunkData))
	return p
}

func NewEmptyPayload() *Payload {
	return NewPayload(PayloadEmpty, LowWatermark, HighWatermark)
}

func (p *Payload) Kind() PayloadKind {
	return p.kind
}

func (p *Payload) State() ParseState {
	return ParseState(p.state.Load())
}

func (p *Payload) ParseCompleted() bool {
	return p.State() == StateCompleted
}

func (p *Payload) IsError() bool {
	return p.errored.Load()
}

// SetError makes the payload sticky-errored: both endpoints drain and stop.
func (p *Payload) SetError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errored.Store(true)
	p.broadcastLocked()
}

func (p *Payload) ReadyBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyBytes
}

func (p *Payload) LowWatermarkReached() bool {
	return p.ReadyBytes() <= p.lowWatermark
}

func (p *Payload) HighWatermarkReached() bool {
	return p.ReadyBytes() > p.highWatermark
}

// Written reports that every produced byte and trailer has been serialized.
func (p *Payload) Written() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writtenLocked()
}

func (p *Payload) writtenLocked() bool {
	return p.readyBytes == 0 && p.ParseCompleted() && p.writtenZeroChunk && p.writtenTrailer
}

func (p *Payload) AddCallback(cb PayloadCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

// Changed returns a channel closed on the next payload mutation. Take a
// fresh channel after every wakeup.
func (p *Payload) Changed() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changed
}

func (p *Payload) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Payload) runCallbacksLocked() {
	completed := p.ParseCompleted()
	for _, cb := range p.callbacks {
		if completed {
			cb.OnCompleted()
		} else {
			cb.OnReadyBytes(p.readyBytes)
		}
	}
	p.broadcastLocked()
}

// CompleteParse marks the producer side done. For Eof and Tunnel payloads
// this is the only completion signal.
func (p *Payload) CompleteParse() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ParseCompleted() {
		return
	}
	p.state.Store(int32(StateCompleted))
	p.runCallbacksLocked()
}

// getWriteSliceLocked returns writable space in the tail chunk, bounded by
// the bytes remaining in the current body chunk.
func (p *Payload) getWriteSliceLocked() []byte {
	if p.lastChunkFree == 0 {
		b := make([]byte, 0, p.chunkSize)
		p.chunks = append(p.chunks, b)
		p.lastChunkFree = p.chunkSize
	}
	last := p.chunks[len(p.chunks)-1]
	s := last[len(last):cap(last)]
	if p.curChunkSize > 0 && uint64(len(s)) > p.curChunkSize {
		s = s[:p.curChunkSize]
	}
	return s
}

// GetWriteSlice exposes producer buffer space for zero-copy reads.
func (p *Payload) GetWriteSlice() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getWriteSliceLocked()
}

// ConfirmWrite commits n bytes previously obtained via GetWriteSlice.
func (p *Payload) ConfirmWrite(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmWriteLocked(n)
}

func (p *Payload) confirmWriteLocked(n int) {
	i := len(p.chunks) - 1
	last := p.chunks[i]
	p.chunks[i] = last[:len(last)+n]
	p.lastChunkFree -= n
	p.curChunkSize -= uint64(n)
	p.readyBytes += n
	p.runCallbacksLocked()
}

// AddChunk copies produced bytes in. Used when the body arrives over the
// transfer protocol rather than a socket.
func (p *Payload) AddChunk(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(data) > 0 {
		if p.curChunkSize == 0 {
			p.curChunkSize = uint64(len(data))
		}
		s := p.getWriteSliceLocked()
		n := copy(s, data)
		data = data[n:]
		p.confirmWriteLocked(n)
	}
}

// AddTrailer appends a trailer header collected after the zero chunk.
func (p *Payload) AddTrailer(h Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readyBytes += h.Size()
	p.trailerSize += h.Size()
	p.trailers = append(p.trailers, h)
	p.runCallbacksLocked()
}

func (p *Payload) TrailerSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trailerSize
}

// GetSlice pops up to maxSize ready bytes from the head of the queue.
func (p *Payload) GetSlice(maxSize int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getSliceLocked(maxSize)
}

func (p *Payload) getSliceLocked(maxSize int) []byte {
	for len(p.chunks) > 0 {
		head := p.chunks[0][p.headOff:]
		if len(head) == 0 {
			if len(p.chunks) == 1 && p.lastChunkFree > 0 {
				// tail chunk still being filled
				return nil
			}
			p.chunks = p.chunks[1:]
			p.headOff = 0
			continue
		}
		if len(head) > maxSize {
			head = head[:maxSize]
		}
		p.headOff += len(head)
		p.readyBytes -= len(head)
		p.runCallbacksLocked()
		return head
	}
	return nil
}

// GetTrailer pops one trailer header; the sentinel empty header means none.
func (p *Payload) GetTrailer() Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getTrailerLocked()
}

func (p *Payload) getTrailerLocked() Header {
	if len(p.trailers) == 0 {
		return Header{}
	}
	h := p.trailers[0]
	p.trailers = p.trailers[1:]
	p.readyBytes -= h.Size()
	p.runCallbacksLocked()
	return h
}

func (p *Payload) queueEmptyLocked() bool {
	total := 0
	for i, c := range p.chunks {
		n := len(c)
		if i == 0 {
			n -= p.headOff
		}
		total += n
	}
	return total == 0
}
