package exchange

import (
	"bytes"
	"context"
	"net/http"
	"time"
)

// streamSSE handles the non-buffering response path: the upstream body
// is forwarded to the client chunk-by-chunk as it arrives, while a
// background tee accumulates the same bytes so a ResponseRecord can
// still be emitted once the stream ends. Forwarded bytes are always a
// prefix of, and identical to, the upstream bytes. The tee never
// delays or reorders what reaches the client.
func (e *Engine) streamSSE(ctx context.Context, w http.ResponseWriter, reqRecord *RequestRecord, resp *http.Response, h Handler) {
	header := w.Header()
	for k, vv := range resp.Header {
		if k == "Content-Length" {
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	header.Del("Content-Length")
	header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	header.Set("Connection", "keep-alive")
	header.Set("Transfer-Encoding", "chunked")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)

	frames := make(chan []byte, e.SSEChannelDepth)
	accumulated := make(chan []byte, 1)

	go func() {
		defer close(frames)
		var acc bytes.Buffer
		buf := make([]byte, 32*1024)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				acc.Write(chunk)
				select {
				case frames <- chunk:
				case <-ctx.Done():
					accumulated <- acc.Bytes()
					return
				}
			}
			if err != nil {
				accumulated <- acc.Bytes()
				return
			}
		}
	}()

	for chunk := range frames {
		w.Write(chunk)
		if flusher != nil {
			flusher.Flush()
		}
	}
	resp.Body.Close()

	body := <-accumulated
	respRecord := newResponseRecord(resp, body, time.Now().UnixNano())
	// Streamed bytes are already on the wire; the hook still fires for
	// observation/logging parity with the buffered path, but its return
	// value cannot rewrite what the client already received.
	h.HandleResponse(ctx, resp)
	e.Emit(ExchangePair{Request: reqRecord, Response: respRecord})
}
