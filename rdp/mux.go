package rdp

import (
	"context"
	"fmt"
	"sync"

	radix "github.com/armon/go-radix"
)

// Mux dispatches incoming queries by the longest matching byte prefix
// (typically {opcode} or {opcode || transfer_id}). Producers install an
// entry on spawn and remove it on teardown.
type Mux struct {
	mu   sync.Mutex
	tree *radix.Tree
}

func NewMux() *Mux {
	return &Mux{tree: radix.New()}
}

func (m *Mux) Subscribe(prefix []byte, h QueryHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Insert(string(prefix), h)
}

func (m *Mux) Unsubscribe(prefix []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Delete(string(prefix))
}

// Dispatch routes one query to the handler with the longest matching
// prefix.
func (m *Mux) Dispatch(ctx context.Context, src ShortID, data []byte) ([]byte, error) {
	m.mu.Lock()
	_, v, ok := m.tree.LongestPrefix(string(data))
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no handler for query", ErrTransport)
	}
	return v.(QueryHandler)(ctx, src, data)
}
