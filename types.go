package kestrel

import (
	"github.com/kestrelmitm/kestrel/internal/exchange"
	"github.com/kestrelmitm/kestrel/internal/wstunnel"
)

// These aliases re-export internal/exchange's request/response/session
// types at the root so embedding hosts never need to import an
// internal package directly. internal/exchange cannot import this
// package back (that would cycle), so the types live there and are
// aliased, not duplicated, here.
type (
	Handler         = exchange.Handler
	RequestRecord   = exchange.RequestRecord
	ResponseRecord  = exchange.ResponseRecord
	ExchangePair    = exchange.ExchangePair
	SessionRule     = exchange.SessionRule
	SessionResponse = exchange.SessionResponse
	DataType        = exchange.DataType

	WSHandler   = wstunnel.Handler
	WSFrame     = wstunnel.Frame
	WSDirection = wstunnel.Direction
)

// DefaultHandler is the zero-value Handler: pass-through request,
// pass-through response, 502 on error, always intercept.
var DefaultHandler Handler = exchange.Default

// DefaultWSHandler is the zero-value WSHandler: every frame is
// forwarded unmodified.
var DefaultWSHandler WSHandler = wstunnel.Default

// SockJSUnwrap wraps a WSHandler so SockJS-framed messages are
// unwrapped before reaching it and re-wrapped on the way out.
func SockJSUnwrap(h WSHandler) WSHandler { return wstunnel.SockJSUnwrap(h) }
