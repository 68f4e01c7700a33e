package kestrel

import (
	"context"
	"fmt"

	"github.com/kestrelmitm/kestrel/internal/certauth"
	"github.com/kestrelmitm/kestrel/internal/exchange"
	"github.com/kestrelmitm/kestrel/internal/mitm"
)

// Proxy is the embeddable MITM proxy: one bound listener, one
// certificate authority, one request/response engine, one session
// rule set, and one event bus, all wired together by Builder.Build.
type Proxy struct {
	cfg       Config
	ca        *certauth.CA
	handler   Handler
	wsHandler WSHandler
	rules     *exchange.RuleSet
	engine    *exchange.Engine
	sm        *stateMachine
	stats     *metrics
	collector *metricsCollector
	bus       *eventBus

	dispatcher *mitm.Dispatcher
}

// Start transitions the proxy to Active and begins accepting
// connections. It blocks until the listener stops (Shutdown was
// called, or the listener failed), mirroring net/http.Server.Serve.
func (p *Proxy) Start() error {
	if err := p.sm.Transition(StateStarting); err != nil {
		return err
	}

	p.dispatcher = &mitm.Dispatcher{
		Addr:          p.cfg.BindAddr,
		CA:            p.ca,
		Engine:        p.engine,
		Handler:       p.handler,
		WSHandler:     p.wsHandler,
		HTTP2Outbound: p.cfg.HTTP2Outbound,
		Callbacks: mitm.Callbacks{
			ConnectionOpened: func(id, remote, protocol string) {
				p.stats.connectionOpened()
				p.bus.Emit(NewConnectionOpenedEvent(id, remote, protocol))
			},
			ConnectionClosed: func(id string, sent, received uint64) {
				p.stats.connectionClosed()
				p.stats.recordBytesSent(sent)
				p.stats.recordBytesReceived(received)
				p.bus.Emit(NewConnectionClosedEvent(id, sent, received))
			},
			HandshakeFailed: func(authority, backend, code string) {
				p.bus.Emit(NewTLSHandshakeFailedEvent(authority, backend, code))
			},
			Error: func(code, message string, fatal bool) {
				p.bus.Emit(NewProxyErrorEvent(code, message, fatal))
				if fatal {
					p.sm.Transition(StateError)
				}
			},
		},
	}

	p.collector.Start()
	if err := p.sm.Transition(StateActive); err != nil {
		return err
	}

	err := p.dispatcher.ListenAndServe()
	if err != nil && p.sm.State() != StateClosing {
		p.sm.Transition(StateError)
		return fmt.Errorf("kestrel: listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting new connections and stops the metrics
// collector and event bus.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if err := p.sm.Transition(StateClosing); err != nil {
		return err
	}
	defer p.sm.Transition(StateClosed)

	p.collector.Stop()
	err := p.dispatcher.Shutdown(ctx)
	p.bus.Close()
	return err
}

// State returns the proxy's current lifecycle state.
func (p *Proxy) State() ProxyState { return p.sm.State() }

// Metrics returns a point-in-time metrics snapshot.
func (p *Proxy) Metrics() MetricsValues { return p.stats.snapshot() }

// Subscribe returns a channel of future Events and a cancel function.
func (p *Proxy) Subscribe() (<-chan Event, func()) { return p.bus.Subscribe() }

// RootCertDER returns the DER-encoded root CA certificate, suitable
// for the client trust-store download endpoint.
func (p *Proxy) RootCertDER() []byte { return p.ca.RootCertDER() }

// UpdateRules atomically replaces the active session rule set.
func (p *Proxy) UpdateRules(rules []SessionRule) { p.rules.Update(rules) }

// Rules returns a copy of the active session rule set.
func (p *Proxy) Rules() []SessionRule {
	active := p.rules.Rules()
	out := make([]SessionRule, len(active))
	copy(out, active)
	return out
}

// BoundAddr returns the actual listen address, resolved once Start
// has begun listening.
func (p *Proxy) BoundAddr() string {
	if p.dispatcher == nil {
		return p.cfg.BindAddr
	}
	return p.dispatcher.BoundAddr()
}
