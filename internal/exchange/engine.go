package exchange

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// Handler is the host's hook set into the request/response lifecycle.
// Every method has a documented default; a nil Handler is treated as
// all-defaults by Engine.
type Handler interface {
	// HandleRequest may return a modified request to continue upstream,
	// or a short-circuit response to return directly to the client
	// without ever dialing upstream. Exactly one of the two is used:
	// if shortCircuit is non-nil, out is ignored.
	HandleRequest(ctx context.Context, req *http.Request) (out *http.Request, shortCircuit *http.Response)
	// HandleResponse may rewrite the response before it is written back
	// to the client.
	HandleResponse(ctx context.Context, resp *http.Response) *http.Response
	// HandleError converts an upstream-dispatch error into the response
	// written back to the client.
	HandleError(ctx context.Context, err error) *http.Response
	// ShouldIntercept decides whether a CONNECT target is intercepted at
	// all; returning false drops straight to raw tunnel mode.
	ShouldIntercept(ctx context.Context, req *http.Request) bool
}

// passthroughHandler implements the documented zero-value behavior:
// pass-through request, pass-through response, 502 on error, always
// intercept.
type passthroughHandler struct{}

func (passthroughHandler) HandleRequest(_ context.Context, req *http.Request) (*http.Request, *http.Response) {
	return req, nil
}
func (passthroughHandler) HandleResponse(_ context.Context, resp *http.Response) *http.Response {
	return resp
}
func (passthroughHandler) HandleError(_ context.Context, err error) *http.Response {
	return &http.Response{
		StatusCode: http.StatusBadGateway,
		Proto:      "HTTP/1.1",
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       newBodyReadCloser([]byte(err.Error())),
	}
}
func (passthroughHandler) ShouldIntercept(context.Context, *http.Request) bool { return true }

// Default is the zero-value Handler every Engine falls back to.
var Default Handler = passthroughHandler{}

// Engine drives the request/response lifecycle: normalization,
// session matching, upstream dispatch, SSE streaming, and error
// recovery.
type Engine struct {
	Client          *http.Client
	Rules           *RuleSet
	SSEChannelDepth int
	Emit            func(ExchangePair)
	OnSessionMatch  func()
	OnCurlFallback  func()
}

// NewEngine constructs an Engine with a default SSE channel depth (4)
// when depth is 0.
func NewEngine(client *http.Client, rules *RuleSet, depth int, emit func(ExchangePair)) *Engine {
	if depth <= 0 {
		depth = 4
	}
	return &Engine{
		Client:          client,
		Rules:           rules,
		SSEChannelDepth: depth,
		Emit:            emit,
		OnSessionMatch:  func() {},
		OnCurlFallback:  func() {},
	}
}

// Normalize removes the Host header (the client library re-derives
// it) and coalesces a multi-value Cookie header into one, joined by
// "; ". The upstream leg is always forced to HTTP/1.1.
func Normalize(req *http.Request) {
	req.Header.Del("Host")
	if cookies := req.Header.Values("Cookie"); len(cookies) > 1 {
		joined := strings.Join(cookies, "; ")
		req.Header.Set("Cookie", joined)
	}
	req.Proto = "HTTP/1.1"
	req.ProtoMajor = 1
	req.ProtoMinor = 1
}

// Handle runs one request through the full lifecycle and writes the
// result to w. h may be nil, meaning Default.
func (e *Engine) Handle(ctx context.Context, w http.ResponseWriter, req *http.Request, h Handler) {
	if h == nil {
		h = Default
	}
	Normalize(req)

	reqBody, _ := io.ReadAll(req.Body)
	req.Body.Close()
	req.Body = newBodyReadCloser(reqBody)
	reqRecord := newRequestRecord(req, reqBody, time.Now().UnixNano())

	modified, shortCircuit := h.HandleRequest(ctx, req)
	if shortCircuit != nil {
		e.finish(ctx, w, reqRecord, shortCircuit, h)
		return
	}
	req = modified

	if rule, ok := e.Rules.Match(req.Method, req.URL.String()); ok {
		e.OnSessionMatch()
		status, headers, body := Synthesize(rule)
		resp := &http.Response{
			StatusCode: status,
			Proto:      "HTTP/1.1",
			Header:     make(http.Header),
			Body:       newBodyReadCloser(body),
		}
		for k, v := range headers {
			resp.Header.Set(k, v)
		}
		e.finish(ctx, w, reqRecord, resp, h)
		return
	}

	req.RequestURI = ""
	resp, err := e.Client.Do(req)
	if err != nil {
		resp = e.recover(ctx, err, req, h)
		if resp == nil {
			writeResponse(w, h.HandleError(ctx, err))
			return
		}
	}

	chunked := resp.Header.Get("Transfer-Encoding") == "chunked" ||
		(len(resp.TransferEncoding) > 0 && resp.TransferEncoding[0] == "chunked")
	if isSSE(resp) || chunked {
		e.streamSSE(ctx, w, reqRecord, resp, h)
		return
	}

	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = newBodyReadCloser(body)
	respRecord := newResponseRecord(resp, body, time.Now().UnixNano())

	resp = h.HandleResponse(ctx, resp)
	writeResponse(w, resp)

	e.Emit(ExchangePair{Request: reqRecord, Response: respRecord})
}

func (e *Engine) finish(ctx context.Context, w http.ResponseWriter, reqRecord *RequestRecord, resp *http.Response, h Handler) {
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = newBodyReadCloser(body)
	respRecord := newResponseRecord(resp, body, time.Now().UnixNano())

	resp = h.HandleResponse(ctx, resp)
	writeResponse(w, resp)
	e.Emit(ExchangePair{Request: reqRecord, Response: respRecord})
}

// recover implements the §4.J / §7 error-recovery taxonomy. It
// returns a response to keep processing (e.g. a curl-fallback
// response standing in for the real upstream response), or nil to
// signal the caller should fall back to h.HandleError.
func (e *Engine) recover(ctx context.Context, err error, req *http.Request, h Handler) *http.Response {
	switch ClassifyUpstreamError(err) {
	case KindUpstreamEOF:
		return &http.Response{
			StatusCode: http.StatusOK,
			Proto:      "HTTP/1.1",
			Header:     make(http.Header),
			Body:       newBodyReadCloser(nil),
		}
	case KindTLSHandshake:
		if resp, curlErr := CurlFallback(ctx, req.Method, req.URL.String(), req.Header); curlErr == nil {
			e.OnCurlFallback()
			return resp
		}
		return nil
	default:
		return nil
	}
}

func isSSE(resp *http.Response) bool {
	return strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/event-stream")
}

func writeResponse(w http.ResponseWriter, resp *http.Response) {
	header := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != nil {
		io.Copy(w, resp.Body)
		resp.Body.Close()
	}
}
