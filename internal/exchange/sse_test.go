package exchange

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStreamSSEForwardsExactBytesAndSetsHeaders(t *testing.T) {
	payload := "event: message\ndata: one\n\nevent: message\ndata: two\n\n"
	resp := &http.Response{
		StatusCode: 200,
		Header: http.Header{
			"Content-Type":   []string{"text/event-stream"},
			"Content-Length": []string{"999"},
		},
		Body: io.NopCloser(strings.NewReader(payload)),
	}

	engine := NewEngine(&http.Client{}, NewRuleSet(), 4, func(ExchangePair) {})
	reqRecord := &RequestRecord{Method: "GET", URI: "/events"}

	rec := httptest.NewRecorder()
	engine.streamSSE(context.Background(), rec, reqRecord, resp, passthroughHandler{})

	if rec.Body.String() != payload {
		t.Errorf("forwarded body = %q, want exactly %q", rec.Body.String(), payload)
	}
	if rec.Header().Get("Content-Length") != "" {
		t.Errorf("Content-Length should be stripped for a streamed response")
	}
	if rec.Header().Get("Transfer-Encoding") != "chunked" {
		t.Errorf("Transfer-Encoding = %q, want chunked", rec.Header().Get("Transfer-Encoding"))
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Errorf("X-Accel-Buffering = %q, want no", rec.Header().Get("X-Accel-Buffering"))
	}
}

func TestStreamSSEEmitsExchangePairAfterCompletion(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       io.NopCloser(strings.NewReader("data: hi\n\n")),
	}

	var emitted ExchangePair
	engine := NewEngine(&http.Client{}, NewRuleSet(), 4, func(p ExchangePair) { emitted = p })
	reqRecord := &RequestRecord{Method: "GET", URI: "/events"}

	rec := httptest.NewRecorder()
	engine.streamSSE(context.Background(), rec, reqRecord, resp, passthroughHandler{})

	if emitted.Request != reqRecord {
		t.Errorf("expected the same RequestRecord to be emitted")
	}
	if emitted.Response == nil || string(emitted.Response.Body) != "data: hi\n\n" {
		t.Errorf("ResponseRecord.Body = %q", emitted.Response.Body)
	}
}
