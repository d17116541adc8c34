package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/httpx"
	"github.com/arcnode/arcproxy/rdp"
)

const (
	receiverWatermark = 32 << 10
	receiverChunkSize = 128 << 10
	maxPartAnswerSize = (1 << 18) + 1024

	receiverQueryTimeout = 15 * time.Second
	tunnelQueryTimeout   = 60 * time.Second
)

// RunPayloadReceiver pulls one body from the peer into payload, issuing
// get_next_part queries with strictly increasing seqnos until the last
// part. Any failure marks the payload errored so both endpoints stop.
func RunPayloadReceiver(ctx context.Context, t rdp.Transport, dst rdp.ShortID, id rdp.TransferID, payload *httpx.Payload, isTunnel bool) error {
	log := logrus.WithField("transfer", id)
	queryTimeout := receiverQueryTimeout
	if isTunnel {
		queryTimeout = tunnelQueryTimeout
	}

	seqno := int32(0)
	for {
		if payload.IsError() {
			return fmt.Errorf("%w: payload errored", ErrTransfer)
		}
		// backpressure: do not pull further ahead than the consumer drains
		err := payload.WaitFor(ctx, func() bool {
			return payload.ReadyBytes() < receiverWatermark
		})
		if err != nil {
			payload.SetError()
			return err
		}

		q := &rdp.GetNextPayloadPart{ID: id, Seqno: seqno, MaxChunkSize: receiverChunkSize}
		qctx, cancel := context.WithTimeout(ctx, queryTimeout)
		ans, err := t.SendQuery(qctx, dst, q.Serialize(), maxPartAnswerSize)
		cancel()
		if err != nil {
			log.WithError(err).Info("payload part query failed")
			payload.SetError()
			return fmt.Errorf("%w: %v", ErrTransfer, err)
		}

		part, err := rdp.ParsePayloadPart(ans)
		if err != nil {
			payload.SetError()
			return err
		}

		if len(part.Data) > 0 {
			payload.AddChunk(part.Data)
		}
		for _, h := range part.Trailers {
			if err := h.BasicCheck(); err != nil {
				payload.SetError()
				return err
			}
			payload.AddTrailer(h)
		}
		seqno++

		if part.Last {
			payload.CompleteParse()
			log.Debug("payload transfer complete")
			return nil
		}
	}
}
