package exchange

import (
	"bytes"
	"encoding/json"
	"io"
)

// newBodyReadCloser wraps a fully-buffered body so it can be hung off
// an *http.Response without the caller needing a live connection.
func newBodyReadCloser(body []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(body))
}

// parseJSONBestEffort decodes body as JSON, returning nil on any
// failure. Used only when the detector has already classified the
// body as JSON; a parse failure here means the detector's substring
// match on Content-Type outran the actual payload, which is treated as
// a display-only degradation, never a propagated error.
func parseJSONBestEffort(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}
	return v
}
