package proxy

import "time"

// Config carries the proxy tunables. Zero values take the defaults below.
type Config struct {
	// ListenAddr is the TCP address the egress side accepts clients on.
	ListenAddr string

	// GraceTimeout drops a host entry whose client never became ready.
	GraceTimeout time.Duration

	// IdleTimeout drops a host entry with no forwarded requests.
	IdleTimeout time.Duration

	// UpstreamTimeout bounds one proxied exchange.
	UpstreamTimeout time.Duration

	// Connection caps per host entry.
	MaxConnections        int
	MaxRequestsPerConnect int

	// MaxUploadRate limits outbound transfer bytes per second.
	// Negative disables limiting.
	MaxUploadRate float64
}

const (
	DefaultGraceTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultUpstreamTimeout = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.GraceTimeout == 0 {
		c.GraceTimeout = DefaultGraceTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 64
	}
	if c.MaxRequestsPerConnect == 0 {
		c.MaxRequestsPerConnect = 1
	}
	if c.MaxUploadRate == 0 {
		c.MaxUploadRate = -1
	}
	return c
}
