package rdp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMuxLongestPrefix(t *testing.T) {
	m := NewMux()
	id := NewTransferID()

	m.Subscribe(HTTPRequestPrefix(), func(ctx context.Context, src ShortID, data []byte) ([]byte, error) {
		return []byte("generic"), nil
	})
	m.Subscribe(GetNextPartPrefix(id), func(ctx context.Context, src ShortID, data []byte) ([]byte, error) {
		return []byte("specific"), nil
	})

	q := &GetNextPayloadPart{ID: id, Seqno: 0, MaxChunkSize: 1024}
	ans, err := m.Dispatch(context.Background(), ShortID{}, q.Serialize())
	require.NoError(t, err)
	require.Equal(t, "specific", string(ans))

	req := &HTTPRequestMsg{ID: id, Method: "GET", URL: "/", Proto: "HTTP/1.1"}
	ans, err = m.Dispatch(context.Background(), ShortID{}, req.Serialize())
	require.NoError(t, err)
	require.Equal(t, "generic", string(ans))

	m.Unsubscribe(GetNextPartPrefix(id))
	_, err = m.Dispatch(context.Background(), ShortID{}, q.Serialize())
	require.ErrorIs(t, err, ErrTransport)
}

func TestMuxNoHandler(t *testing.T) {
	m := NewMux()
	_, err := m.Dispatch(context.Background(), ShortID{}, []byte("junk"))
	require.ErrorIs(t, err, ErrTransport)
}

func TestLoopback(t *testing.T) {
	idA, idB := randomShortID(), randomShortID()
	a, b := NewLoopbackPair(idA, idB)

	b.SubscribeQuery([]byte("ping"), func(ctx context.Context, src ShortID, data []byte) ([]byte, error) {
		require.Equal(t, idA, src)
		return []byte("pong"), nil
	})

	ans, err := a.SendQuery(context.Background(), idB, []byte("ping!"), 1024)
	require.NoError(t, err)
	require.Equal(t, "pong", string(ans))

	// unknown destination
	_, err = a.SendQuery(context.Background(), idA, []byte("ping!"), 1024)
	require.ErrorIs(t, err, ErrTransport)

	// deadline respected when the handler stalls
	b.SubscribeQuery([]byte("slow"), func(ctx context.Context, src ShortID, data []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.SendQuery(ctx, idB, []byte("slow"), 1024)
	require.ErrorIs(t, err, ErrCancelled)
}

func randomShortID() ShortID {
	tid := NewTransferID()
	return ShortID(tid)
}
