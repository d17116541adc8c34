package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/httpx"
	"github.com/arcnode/arcproxy/ratelimit"
	"github.com/arcnode/arcproxy/rdp"
)

const (
	// senderChunkCap clamps the peer-requested max_chunk_size: one answered
	// part never carries more than this, whatever the receiver asked for.
	senderChunkCap = 32 << 10

	// answer immediately once this many bytes are ready (or the parse is
	// complete)
	senderWatermark = httpx.LowWatermark

	senderPendingTimeout  = 10 * time.Second
	senderIdleTimeout     = 30 * time.Second
	tunnelPendingTimeout  = 50 * time.Second
	tunnelIdleTimeout     = 60 * time.Second
	tunnelCoalesceDelay   = time.Millisecond
	senderStartupTimeout = 10 * time.Second
)

type partQuery struct {
	q     *rdp.GetNextPayloadPart
	reply chan partAnswer
}

type partAnswer struct {
	data []byte
	err  error
}

// PayloadSender owns the authoritative copy of one streaming body and
// answers the peer's get_next_part queries for it, in strict seqno order
// with at most one query outstanding.
type PayloadSender struct {
	transport rdp.Transport
	id        rdp.TransferID
	payload   *httpx.Payload
	isTunnel  bool
	limiter   *ratelimit.Limiter
	log       *logrus.Entry

	mailbox chan partQuery

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

func NewPayloadSender(t rdp.Transport, id rdp.TransferID, payload *httpx.Payload, isTunnel bool, limiter *ratelimit.Limiter) *PayloadSender {
	s := &PayloadSender{
		transport: t,
		id:        id,
		payload:   payload,
		isTunnel:  isTunnel,
		limiter:   limiter,
		log:       logrus.WithField("transfer", id),
		mailbox:   make(chan partQuery, 1),
		stopCh:    make(chan struct{}),
	}
	t.SubscribeQuery(rdp.GetNextPartPrefix(id), s.handleQuery)
	go s.run()
	return s
}

// Stop tears the sender down and releases its subscription.
func (s *PayloadSender) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.transport.UnsubscribeQuery(rdp.GetNextPartPrefix(s.id))
	close(s.stopCh)
}

// handleQuery runs on the transport's dispatch goroutine and hands the
// query to the actor, enforcing the single-outstanding-query rule.
func (s *PayloadSender) handleQuery(ctx context.Context, src rdp.ShortID, data []byte) ([]byte, error) {
	q, err := rdp.ParseGetNextPayloadPart(data)
	if err != nil {
		return nil, err
	}
	if q.ID != s.id {
		return nil, fmt.Errorf("%w: transfer id mismatch", ErrTransfer)
	}

	pq := partQuery{q: q, reply: make(chan partAnswer, 1)}
	select {
	case s.mailbox <- pq:
	default:
		s.log.Info("duplicate outstanding query, closing transfer")
		s.Stop()
		return nil, fmt.Errorf("%w: duplicate query", ErrTransfer)
	}

	select {
	case a := <-pq.reply:
		return a.data, a.err
	case <-s.stopCh:
		// the final answer may have raced the stop
		select {
		case a := <-pq.reply:
			return a.data, a.err
		default:
			return nil, fmt.Errorf("%w: transfer closed", ErrTransfer)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", rdp.ErrCancelled, ctx.Err())
	}
}

func (s *PayloadSender) run() {
	seqno := int32(0)
	idle := time.NewTimer(s.pickTimeout(senderStartupTimeout, tunnelIdleTimeout))
	defer idle.Stop()

	for {
		select {
		case <-s.stopCh:
			return

		case <-idle.C:
			s.log.Debug("payload sender idle timeout")
			s.Stop()
			return

		case pq := <-s.mailbox:
			if pq.q.Seqno != seqno {
				s.log.WithFields(logrus.Fields{"got": pq.q.Seqno, "want": seqno}).
					Info("seqno mismatch, closing transfer")
				pq.reply <- partAnswer{err: fmt.Errorf("%w: seqno mismatch", ErrTransfer)}
				s.Stop()
				return
			}

			data, err := s.buildAnswer(pq.q)
			pq.reply <- partAnswer{data: data, err: err}
			if err != nil {
				s.Stop()
				return
			}
			seqno++

			if s.payload.Written() {
				s.Stop()
				return
			}
			idle.Reset(s.pickTimeout(senderIdleTimeout, tunnelIdleTimeout))
		}
	}
}

func (s *PayloadSender) pickTimeout(plain, tunnel time.Duration) time.Duration {
	if s.isTunnel {
		return tunnel
	}
	return plain
}

// buildAnswer waits until the payload has enough to say, then serializes
// one part. A tunnel coalesces for a moment so single bytes do not each pay
// a round trip.
func (s *PayloadSender) buildAnswer(q *rdp.GetNextPayloadPart) ([]byte, error) {
	maxChunk := int(q.MaxChunkSize)
	if maxChunk <= 0 || maxChunk > senderChunkCap {
		maxChunk = senderChunkCap
	}

	deadline := time.NewTimer(s.pickTimeout(senderPendingTimeout, tunnelPendingTimeout))
	defer deadline.Stop()

wait:
	for {
		if s.payload.IsError() {
			return nil, fmt.Errorf("%w: payload errored", ErrTransfer)
		}
		ch := s.payload.Changed()
		ready := s.payload.ReadyBytes()
		if s.payload.ParseCompleted() || ready >= senderWatermark {
			break
		}
		if s.isTunnel && ready > 0 {
			// coalesce briefly, then answer with what is there
			select {
			case <-time.After(tunnelCoalesceDelay):
			case <-s.stopCh:
				return nil, fmt.Errorf("%w: sender stopped", ErrTransfer)
			}
			break
		}
		select {
		case <-ch:
		case <-deadline.C:
			if s.isTunnel {
				break wait
			}
			return nil, fmt.Errorf("%w: payload stalled", ErrTransfer)
		case <-s.stopCh:
			return nil, fmt.Errorf("%w: sender stopped", ErrTransfer)
		}
	}

	data, trailers, last := s.payload.StoreTL(maxChunk)

	if s.limiter != nil && len(data) > 0 {
		if err := <-s.limiter.Enqueue(float64(len(data)), time.Time{}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransfer, err)
		}
	}

	part := &rdp.PayloadPart{Data: data, Trailers: trailers, Last: last}
	s.log.WithFields(logrus.Fields{"bytes": len(data), "last": last}).Debug("answering payload part")
	return part.Serialize(), nil
}
