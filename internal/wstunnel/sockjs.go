package wstunnel

import (
	"context"
	"encoding/json"
	"net/http"
)

// SockJSUnwrap wraps a Handler so that messages framed in SockJS's
// single-character-prefix protocol are unwrapped to their payload
// before reaching h, and the payloads h forwards are re-wrapped in the
// shape the frame arrived in (an array frame holding every forwarded
// message, or a bare a"X" frame) on the way back out. Heartbeat
// ("h"), open ("o"), and close ("c") frames pass straight through
// without invoking h at all.
func SockJSUnwrap(h Handler) Handler {
	if h == nil {
		h = Default
	}
	return &sockjsHandler{inner: h}
}

type sockjsHandler struct {
	inner Handler
}

func (s *sockjsHandler) HandleOpen(ctx context.Context, r *http.Request) {
	s.inner.HandleOpen(ctx, r)
}

func (s *sockjsHandler) HandleClose(ctx context.Context) {
	s.inner.HandleClose(ctx)
}

func (s *sockjsHandler) HandleMessage(ctx context.Context, frame Frame) ([]byte, bool) {
	if len(frame.Data) == 0 {
		return s.inner.HandleMessage(ctx, frame)
	}

	switch frame.Data[0] {
	case 'h', 'o', 'c':
		return frame.Data, true
	case 'a':
		if messages, ok := decodeArrayFrame(frame.Data[1:]); ok {
			return s.forwardMessages(ctx, frame, messages, true)
		}
		if msg, ok := decodeBareFrame(frame.Data[1:]); ok {
			return s.forwardMessages(ctx, frame, []string{msg}, false)
		}
		return s.inner.HandleMessage(ctx, frame)
	default:
		return s.inner.HandleMessage(ctx, frame)
	}
}

// decodeArrayFrame decodes the `a["X","Y"]` / `a[X,Y]` forms.
func decodeArrayFrame(payload []byte) ([]string, bool) {
	var messages []string
	if err := json.Unmarshal(payload, &messages); err != nil || len(messages) == 0 {
		return nil, false
	}
	return messages, true
}

// decodeBareFrame decodes the bracket-less `a"X"` form: a single JSON
// string with no surrounding array.
func decodeBareFrame(payload []byte) (string, bool) {
	var msg string
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", false
	}
	return msg, true
}

// forwardMessages runs each unwrapped message through s.inner and
// re-wraps whatever was forwarded, as an array frame if asArray is
// set (the `a[...]` forms) or as a bare frame otherwise (the `a"X"`
// form).
func (s *sockjsHandler) forwardMessages(ctx context.Context, frame Frame, messages []string, asArray bool) ([]byte, bool) {
	var forwarded bool
	rewrapped := make([]string, 0, len(messages))
	for _, m := range messages {
		out, forward := s.inner.HandleMessage(ctx, Frame{Direction: frame.Direction, MessageType: frame.MessageType, Data: []byte(m)})
		if forward {
			rewrapped = append(rewrapped, string(out))
			forwarded = true
		}
	}
	if !forwarded {
		return nil, false
	}

	if !asArray {
		encoded, err := json.Marshal(rewrapped[0])
		if err != nil {
			return frame.Data, true
		}
		return append([]byte{'a'}, encoded...), true
	}

	encoded, err := json.Marshal(rewrapped)
	if err != nil {
		return frame.Data, true
	}
	return append([]byte{'a'}, encoded...), true
}
