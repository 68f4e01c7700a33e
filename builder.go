package kestrel

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/kestrelmitm/kestrel/internal/certauth"
	"github.com/kestrelmitm/kestrel/internal/exchange"
)

// Builder assembles a Proxy from a Config plus optional hooks. The
// zero-value Builder is usable; NewBuilder simply makes the intent
// explicit at call sites.
type Builder struct {
	cfg       Config
	handler   Handler
	wsHandler WSHandler
	rules     []SessionRule
}

// NewBuilder returns a Builder seeded with DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

func (b *Builder) WithHandler(h Handler) *Builder {
	b.handler = h
	return b
}

func (b *Builder) WithWSHandler(h WSHandler) *Builder {
	b.wsHandler = h
	return b
}

func (b *Builder) WithRules(rules []SessionRule) *Builder {
	b.rules = rules
	return b
}

// Build constructs a Proxy ready to Start. It mints the root CA at
// this point, so Build can fail on key generation or self-signing
// errors.
func (b *Builder) Build() (*Proxy, error) {
	cfg := b.cfg.withDefaults()

	ca, err := certauth.New(cfg.CertCacheCapacity, cfg.CertCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("kestrel: build CA: %w", err)
	}

	handler := b.handler
	if handler == nil {
		handler = DefaultHandler
	}
	wsHandler := b.wsHandler
	if wsHandler == nil {
		wsHandler = DefaultWSHandler
	}

	rules := exchange.NewRuleSet()
	rules.Update(b.rules)

	p := &Proxy{
		cfg:       cfg,
		ca:        ca,
		handler:   handler,
		wsHandler: wsHandler,
		rules:     rules,
		bus:       newEventBus(cfg.EventChannelDepth),
		stats:  newMetrics(),
	}
	p.sm = newStateMachine(func(from, to ProxyState) {
		p.bus.Emit(NewStateChangedEvent(from, to))
	})

	// Upstream verification is intentionally permissive: this proxy
	// terminates the client leg with a locally minted cert, so the
	// origin leg's certificate chain tells the client nothing it
	// didn't already trust by trusting the root CA in the first place.
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}

	p.engine = exchange.NewEngine(client, rules, cfg.SSEChannelDepth, func(pair ExchangePair) {
		p.bus.EmitBlocking(NewExchangeCompletedEvent(pair))
	})
	p.engine.OnSessionMatch = p.stats.recordSessionMatch
	p.engine.OnCurlFallback = p.stats.recordCurlFallback

	p.collector = newMetricsCollector(p.stats, cfg.MetricsInterval, p.bus.Emit)

	return p, nil
}
