// Package wstunnel implements component I: a WebSocket tunnel that
// terminates the client's upgrade, dials the same upgrade against the
// origin, and pumps frames bidirectionally through an observation
// hook, the way internal/exchange.Engine observes plain HTTP.
package wstunnel

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// maxFrameBytes/maxMessageBytes bound the WebSocket legs the tunnel
// terminates and re-originates. gorilla/websocket doesn't expose a
// distinct per-frame cap the way tungstenite's WebSocketConfig does;
// the closest analog is the I/O buffer size handed to the Upgrader and
// Dialer, which bounds how much of one frame is read in a single
// underlying read. Conn.SetReadLimit enforces the message-level cap
// directly.
const (
	maxFrameBytes   = 16 << 20
	maxMessageBytes = 64 << 20
)

const writeWait = 5 * time.Second

// Frame is one WebSocket message captured for observation.
type Frame struct {
	Direction  Direction
	MessageType int
	Data        []byte
}

// Direction distinguishes client-to-origin from origin-to-client.
type Direction int

const (
	ClientToOrigin Direction = iota
	OriginToClient
)

func (d Direction) String() string {
	if d == ClientToOrigin {
		return "client->origin"
	}
	return "origin->client"
}

// Handler is the host's hook into the tunnel. HandleMessage may
// rewrite or drop a frame; returning (nil, false) drops it. A nil
// Handler is treated as pass-through.
type Handler interface {
	HandleMessage(ctx context.Context, frame Frame) (out []byte, forward bool)
	HandleOpen(ctx context.Context, r *http.Request)
	HandleClose(ctx context.Context)
}

type passthroughHandler struct{}

func (passthroughHandler) HandleMessage(_ context.Context, frame Frame) ([]byte, bool) {
	return frame.Data, true
}
func (passthroughHandler) HandleOpen(context.Context, *http.Request) {}
func (passthroughHandler) HandleClose(context.Context)               {}

// Default is the zero-value Handler every tunnel falls back to.
var Default Handler = passthroughHandler{}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  maxFrameBytes,
	WriteBufferSize: maxFrameBytes,
}

var dialer = &websocket.Dialer{
	ReadBufferSize:  maxFrameBytes,
	WriteBufferSize: maxFrameBytes,
}

// IsUpgrade reports whether r is a WebSocket upgrade request, per the
// standard Connection/Upgrade header pair.
func IsUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// firstSubprotocol returns the first entry of a comma-separated
// Sec-WebSocket-Protocol header value, trimmed of surrounding space.
func firstSubprotocol(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// Serve upgrades the client connection, dials the same upgrade
// against r.URL's origin, and pumps frames both ways through h until
// either side closes.
func Serve(w http.ResponseWriter, r *http.Request, h Handler) {
	if h == nil {
		h = Default
	}

	var responseHeader http.Header
	if proto := r.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		responseHeader = http.Header{"Sec-WebSocket-Protocol": {firstSubprotocol(proto)}}
	}

	clientConn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		return
	}
	defer clientConn.Close()
	clientConn.SetReadLimit(maxMessageBytes)

	originURL := *r.URL
	if originURL.Scheme == "https" {
		originURL.Scheme = "wss"
	} else {
		originURL.Scheme = "ws"
	}

	originHeader := make(http.Header)
	for k, v := range r.Header {
		switch strings.ToLower(k) {
		case "upgrade", "connection", "sec-websocket-key", "sec-websocket-version", "sec-websocket-extensions":
			continue
		default:
			originHeader[k] = v
		}
	}

	originConn, resp, err := dialer.DialContext(r.Context(), originURL.String(), originHeader)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		clientConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "origin dial failed"))
		return
	}
	defer originConn.Close()
	originConn.SetReadLimit(maxMessageBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.HandleOpen(ctx, r)
	defer h.HandleClose(ctx)

	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			clientConn.Close()
			originConn.Close()
			cancel()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go pump(ctx, clientConn, originConn, ClientToOrigin, h, closeBoth, &wg)
	go pump(ctx, originConn, clientConn, OriginToClient, h, closeBoth, &wg)
	wg.Wait()
}

// pump reads messages from src and, after the handler has had a
// chance to observe/rewrite/drop each one, writes the result to dst.
// A "reserved bits are non-zero" read error is skipped rather than
// treated as fatal (a handful of proxied frames with a non-compliant
// reserved bit shouldn't tear down an otherwise healthy tunnel); any
// other read error sends an empty Close frame to dst before the pump
// exits.
func pump(ctx context.Context, src, dst *websocket.Conn, dir Direction, h Handler, onDone func(), wg *sync.WaitGroup) {
	defer wg.Done()
	defer onDone()

	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			if isReservedBitsError(err) {
				continue
			}
			dst.SetWriteDeadline(time.Now().Add(writeWait))
			dst.WriteMessage(websocket.CloseMessage, nil)
			return
		}

		out, forward := h.HandleMessage(ctx, Frame{Direction: dir, MessageType: msgType, Data: data})
		if !forward {
			continue
		}
		if err := dst.WriteMessage(msgType, out); err != nil {
			return
		}
	}
}

func isReservedBitsError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "reserved bits")
}
