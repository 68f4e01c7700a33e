// Package exchange implements the request/response lifecycle engine:
// normalization, session matching, upstream dispatch, SSE streaming,
// and error recovery.
package exchange

import (
	"net/http"

	"github.com/kestrelmitm/kestrel/internal/detect"
)

// DataType re-exports the content-type detector's enum so callers of
// this package never need to import internal/detect directly.
type DataType = detect.DataType

// RequestRecord is an immutable snapshot of one client request,
// captured before upstream dispatch.
type RequestRecord struct {
	Method     string
	URI        string
	Proto      string
	Header     http.Header
	Body       []byte
	CapturedAt int64 // nanoseconds since epoch
	Type       DataType
	BodyJSON   interface{} // populated only when Type == detect.JSON
}

// ResponseRecord is symmetric to RequestRecord for the response side,
// created once the body has been fully collected (synchronously for
// buffered bodies, or after the streaming drain completes for SSE).
type ResponseRecord struct {
	StatusCode int
	Proto      string
	Header     http.Header
	Body       []byte
	CapturedAt int64
	Type       DataType
	BodyJSON   interface{}
}

// ExchangePair is the tuple emitted to the host on every completed
// exchange. Engine fills both halves on every pair it emits; a request
// that ends in Handler.HandleError emits no pair at all.
type ExchangePair struct {
	Request  *RequestRecord
	Response *ResponseRecord
}

func newRequestRecord(r *http.Request, body []byte, capturedAt int64) *RequestRecord {
	dt := detect.Detect(r.Header, body)
	rec := &RequestRecord{
		Method:     r.Method,
		URI:        r.URL.String(),
		Proto:      r.Proto,
		Header:     r.Header.Clone(),
		Body:       body,
		CapturedAt: capturedAt,
		Type:       dt,
	}
	if dt == detect.JSON {
		rec.BodyJSON = parseJSONBestEffort(body)
	}
	return rec
}

func newResponseRecord(resp *http.Response, body []byte, capturedAt int64) *ResponseRecord {
	dt := detect.Detect(resp.Header, body)
	rec := &ResponseRecord{
		StatusCode: resp.StatusCode,
		Proto:      resp.Proto,
		Header:     resp.Header.Clone(),
		Body:       body,
		CapturedAt: capturedAt,
		Type:       dt,
	}
	if dt == detect.JSON {
		rec.BodyJSON = parseJSONBestEffort(body)
	}
	return rec
}
