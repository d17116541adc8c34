package dnscache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/arcnode/arcproxy/rdp"
)

type fakeNameService struct {
	mu    sync.Mutex
	calls int
	hosts map[string]rdp.ShortID
}

func (f *fakeNameService) Resolve(ctx context.Context, host string) (rdp.ShortID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	id, ok := f.hosts[host]
	if !ok {
		return rdp.ShortID{}, fmt.Errorf("unknown host %q", host)
	}
	return id, nil
}

func (f *fakeNameService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestResolverTTL(t *testing.T) {
	id := rdp.ShortID{1, 2, 3}
	svc := &fakeNameService{hosts: map[string]rdp.ShortID{"example.ton": id}}
	clock := clockwork.NewFakeClock()
	r := NewResolverWithClock(svc, clock)
	ctx := context.Background()

	got, err := r.Resolve(ctx, "example.ton")
	require.NoError(t, err)
	require.Equal(t, id, got)
	require.Equal(t, 1, svc.callCount())

	clock.Advance(200 * time.Second)
	got, err = r.Resolve(ctx, "example.ton")
	require.NoError(t, err)
	require.Equal(t, id, got)
	require.Equal(t, 1, svc.callCount(), "within TTL answers come from cache")

	clock.Advance(200 * time.Second)
	_, err = r.Resolve(ctx, "example.ton")
	require.NoError(t, err)
	require.Equal(t, 2, svc.callCount(), "expired entries hit the name service again")
}

func TestResolverLiteralHost(t *testing.T) {
	svc := &fakeNameService{}
	r := NewResolver(svc)

	id := rdp.ShortID{0xab, 0xcd}
	host := id.String() + ".adnl"
	got, err := r.Resolve(context.Background(), host)
	require.NoError(t, err)
	require.Equal(t, id, got)
	require.Equal(t, 0, svc.callCount(), "literal ids bypass the name service")
}

func TestResolverNormalization(t *testing.T) {
	id := rdp.ShortID{9}
	svc := &fakeNameService{hosts: map[string]rdp.ShortID{"example.ton": id}}
	r := NewResolver(svc)

	for _, host := range []string{
		"EXAMPLE.TON",
		"http://example.ton/path/x",
		"https://example.ton:8080/",
		"example.ton:80",
	} {
		got, err := r.Resolve(context.Background(), host)
		require.NoError(t, err, host)
		require.Equal(t, id, got, host)
	}
	require.Equal(t, 1, svc.callCount(), "all spellings share one cache entry")
}

func TestNormalizeHostIdempotent(t *testing.T) {
	inputs := []string{
		"Example.TON",
		"http://example.ton/a/b",
		"https://EXAMPLE.ton:443/c",
		"plain-host",
		"host:8080",
	}
	for _, in := range inputs {
		once := NormalizeHost(in)
		require.Equal(t, once, NormalizeHost(once), in)
		require.False(t, strings.Contains(once, "/"))
	}
}

func TestResolverFailure(t *testing.T) {
	svc := &fakeNameService{}
	r := NewResolver(svc)
	_, err := r.Resolve(context.Background(), "nowhere.ton")
	require.Error(t, err)
}
