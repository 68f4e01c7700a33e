package kestrel

import "time"

// Event is the base interface for all proxy-emitted events. Embedding
// hosts receive events through Subscribe, never by polling.
type Event interface {
	EventType() string
	EventTime() int64
}

type baseEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (e baseEvent) EventType() string { return e.Type }
func (e baseEvent) EventTime() int64  { return e.Timestamp }

// Event: proxy.stateChanged
type StateChangedEvent struct {
	baseEvent
	From ProxyState `json:"from"`
	To   ProxyState `json:"to"`
}

func NewStateChangedEvent(from, to ProxyState) Event {
	return StateChangedEvent{
		baseEvent: baseEvent{Type: "proxy.stateChanged", Timestamp: time.Now().UnixMilli()},
		From:      from,
		To:        to,
	}
}

// Event: connection.opened
// Fires when a client TCP connection is accepted and dispatched.
type ConnectionOpenedEvent struct {
	baseEvent
	ConnectionID string `json:"connectionId"`
	RemoteAddr   string `json:"remoteAddr"`
	Protocol     string `json:"protocol"` // "tls" | "plaintext" | "tunnel"
}

func NewConnectionOpenedEvent(id, remote, protocol string) Event {
	return ConnectionOpenedEvent{
		baseEvent:    baseEvent{Type: "connection.opened", Timestamp: time.Now().UnixMilli()},
		ConnectionID: id,
		RemoteAddr:   remote,
		Protocol:     protocol,
	}
}

// Event: connection.closed
type ConnectionClosedEvent struct {
	baseEvent
	ConnectionID  string `json:"connectionId"`
	BytesSent     uint64 `json:"bytesSent"`
	BytesReceived uint64 `json:"bytesReceived"`
}

func NewConnectionClosedEvent(id string, sent, received uint64) Event {
	return ConnectionClosedEvent{
		baseEvent:     baseEvent{Type: "connection.closed", Timestamp: time.Now().UnixMilli()},
		ConnectionID:  id,
		BytesSent:     sent,
		BytesReceived: received,
	}
}

// Event: exchange.completed
// Fires after a full request/response pair has been observed, carrying
// the ExchangePair for host inspection/logging.
type ExchangeCompletedEvent struct {
	baseEvent
	Pair ExchangePair `json:"pair"`
}

func NewExchangeCompletedEvent(pair ExchangePair) Event {
	return ExchangeCompletedEvent{
		baseEvent: baseEvent{Type: "exchange.completed", Timestamp: time.Now().UnixMilli()},
		Pair:      pair,
	}
}

// Event: tls.handshakeFailed
type TLSHandshakeFailedEvent struct {
	baseEvent
	Authority string `json:"authority"`
	Backend   string `json:"backend"` // "modern" | "legacy"
	Code      string `json:"code"`
}

func NewTLSHandshakeFailedEvent(authority, backend, code string) Event {
	return TLSHandshakeFailedEvent{
		baseEvent: baseEvent{Type: "tls.handshakeFailed", Timestamp: time.Now().UnixMilli()},
		Authority: authority,
		Backend:   backend,
		Code:      code,
	}
}

// Event: proxy.error
type ProxyErrorEvent struct {
	baseEvent
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

func NewProxyErrorEvent(code, message string, fatal bool) Event {
	return ProxyErrorEvent{
		baseEvent: baseEvent{Type: "proxy.error", Timestamp: time.Now().UnixMilli()},
		Code:      code,
		Message:   message,
		Fatal:     fatal,
	}
}

// Event: metrics.snapshot
type MetricsSnapshotEvent struct {
	baseEvent
	Uptime            int64  `json:"uptimeMs"`
	ActiveConnections int64  `json:"activeConnections"`
	TotalConnections  int64  `json:"totalConnections"`
	BytesSent         uint64 `json:"bytesSent"`
	BytesReceived     uint64 `json:"bytesReceived"`
	SessionMatches    int64  `json:"sessionMatches"`
	CurlFallbacks     int64  `json:"curlFallbacks"`
}

func NewMetricsSnapshotEvent(s MetricsValues) Event {
	return MetricsSnapshotEvent{
		baseEvent:         baseEvent{Type: "metrics.snapshot", Timestamp: time.Now().UnixMilli()},
		Uptime:            s.Uptime,
		ActiveConnections: s.ActiveConnections,
		TotalConnections:  s.TotalConnections,
		BytesSent:         s.BytesSent,
		BytesReceived:     s.BytesReceived,
		SessionMatches:    s.SessionMatches,
		CurlFallbacks:     s.CurlFallbacks,
	}
}

// Error codes surfaced on ProxyErrorEvent / TLSHandshakeFailedEvent.
const (
	ErrProbeShort        = "ERR_PROBE_SHORT"
	ErrTLSHandshake      = "ERR_TLS_HANDSHAKE"
	ErrPKCS12Identity    = "ERR_PKCS12_IDENTITY"
	ErrUpstreamConnect   = "ERR_UPSTREAM_CONNECT"
	ErrUpstreamEOF       = "ERR_UPSTREAM_EOF"
	ErrBodyRead          = "ERR_BODY_READ"
	ErrSessionConfig     = "ERR_SESSION_CONFIG"
	ErrWebSocketFrame    = "ERR_WEBSOCKET_FRAME"
	ErrShutdown          = "ERR_SHUTDOWN"
)
