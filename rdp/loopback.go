package rdp

import (
	"context"
	"fmt"
)

// LoopbackEnd is an in-process Transport: queries sent here run the peer
// end's mux directly. It exists for tests and single-process wiring.
type LoopbackEnd struct {
	id   ShortID
	mux  *Mux
	peer *LoopbackEnd
}

// NewLoopbackPair links two transport ends.
func NewLoopbackPair(idA, idB ShortID) (*LoopbackEnd, *LoopbackEnd) {
	a := &LoopbackEnd{id: idA, mux: NewMux()}
	b := &LoopbackEnd{id: idB, mux: NewMux()}
	a.peer = b
	b.peer = a
	return a, b
}

func (e *LoopbackEnd) LocalID() ShortID {
	return e.id
}

func (e *LoopbackEnd) Mux() *Mux {
	return e.mux
}

func (e *LoopbackEnd) SendQuery(ctx context.Context, dst ShortID, data []byte, maxAnswerSize int) ([]byte, error) {
	if dst != e.peer.id {
		return nil, fmt.Errorf("%w: unknown destination %s", ErrTransport, dst)
	}

	type answer struct {
		data []byte
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		data, err := e.peer.mux.Dispatch(ctx, e.id, data)
		ch <- answer{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case a := <-ch:
		if a.err != nil {
			return nil, a.err
		}
		if maxAnswerSize > 0 && len(a.data) > maxAnswerSize {
			return nil, fmt.Errorf("%w: answer too large (%d bytes)", ErrTransport, len(a.data))
		}
		return a.data, nil
	}
}

func (e *LoopbackEnd) SubscribeQuery(prefix []byte, h QueryHandler) {
	e.mux.Subscribe(prefix, h)
}

func (e *LoopbackEnd) UnsubscribeQuery(prefix []byte) {
	e.mux.Unsubscribe(prefix)
}
