package kestrel

import "time"

// Config holds every tunable the embedding host can set before
// building a Proxy. Zero-valued string, integer and duration fields
// are replaced by DefaultConfig's values at Build time; the bool
// fields are used exactly as given.
type Config struct {
	BindAddr            string
	CertCacheCapacity   int
	CertCacheTTL        time.Duration
	Intercept           bool
	HTTP2Outbound       bool
	SSEChannelDepth     int
	EventChannelDepth   int
	MetricsInterval     time.Duration
}

// DefaultConfig returns the configuration used for any field left at
// its zero value.
func DefaultConfig() Config {
	return Config{
		BindAddr:          "127.0.0.1:8080",
		CertCacheCapacity: 1000,
		CertCacheTTL:      365 * 24 * time.Hour / 2,
		Intercept:         true,
		HTTP2Outbound:     false,
		SSEChannelDepth:   4,
		EventChannelDepth: 64,
		MetricsInterval:   5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BindAddr == "" {
		c.BindAddr = d.BindAddr
	}
	if c.CertCacheCapacity <= 0 {
		c.CertCacheCapacity = d.CertCacheCapacity
	}
	if c.CertCacheTTL <= 0 {
		c.CertCacheTTL = d.CertCacheTTL
	}
	if c.SSEChannelDepth <= 0 {
		c.SSEChannelDepth = d.SSEChannelDepth
	}
	if c.EventChannelDepth <= 0 {
		c.EventChannelDepth = d.EventChannelDepth
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = d.MetricsInterval
	}
	return c
}
