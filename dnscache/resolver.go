package dnscache

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/rdp"
)

const (
	// cached name-service answers stay valid this long
	TTL = 300 * time.Second

	cacheSize = 4096

	// overlay hosts whose label is a literal short id resolve without the
	// name service
	overlayTLD = ".adnl"
)

// NameService is the external resolver collaborator.
type NameService interface {
	Resolve(ctx context.Context, host string) (rdp.ShortID, error)
}

type cacheEntry struct {
	id        rdp.ShortID
	createdAt time.Time
}

// Resolver maps hostnames to overlay short ids with a TTL cache in front of
// the external name service.
type Resolver struct {
	svc   NameService
	clock clockwork.Clock

	mu    sync.Mutex
	cache *lru.Cache[string, cacheEntry]
}

func NewResolver(svc NameService) *Resolver {
	return NewResolverWithClock(svc, clockwork.NewRealClock())
}

func NewResolverWithClock(svc NameService, clock clockwork.Clock) *Resolver {
	cache, err := lru.New[string, cacheEntry](cacheSize)
	if err != nil {
		panic(err)
	}
	return &Resolver{
		svc:   svc,
		clock: clock,
		cache: cache,
	}
}

// NormalizeHost lowercases the host and strips scheme, path and port.
// It is idempotent.
func NormalizeHost(host string) string {
	host = strings.ToLower(host)
	if strings.HasPrefix(host, "http://") {
		host = host[7:]
	} else if strings.HasPrefix(host, "https://") {
		host = host[8:]
	}
	if idx := strings.IndexByte(host, '/'); idx >= 0 {
		host = host[:idx]
	}
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return host
}

func (r *Resolver) Resolve(ctx context.Context, host string) (rdp.ShortID, error) {
	host = NormalizeHost(host)

	if label, ok := strings.CutSuffix(host, overlayTLD); ok {
		if id, err := rdp.ParseShortID(label); err == nil {
			return id, nil
		}
		// not a literal id; fall through to the name service
	}

	r.mu.Lock()
	if e, ok := r.cache.Get(host); ok && r.clock.Since(e.createdAt) < TTL {
		r.mu.Unlock()
		return e.id, nil
	}
	r.mu.Unlock()

	id, err := r.svc.Resolve(ctx, host)
	if err != nil {
		return rdp.ShortID{}, err
	}
	logrus.WithFields(logrus.Fields{"host": host, "id": id}).Debug("resolved host")

	r.mu.Lock()
	r.cache.Add(host, cacheEntry{id: id, createdAt: r.clock.Now()})
	r.mu.Unlock()
	return id, nil
}
