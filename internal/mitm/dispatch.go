// Package mitm implements the connection dispatcher and the hybrid
// TLS acceptor: everything between "client opened a CONNECT tunnel"
// and "an HTTP request is ready for the exchange engine".
package mitm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/kestrelmitm/kestrel/internal/certauth"
	"github.com/kestrelmitm/kestrel/internal/exchange"
	"github.com/kestrelmitm/kestrel/internal/rewind"
	"github.com/kestrelmitm/kestrel/internal/wstunnel"
)

// shutdownGrace caps how long Shutdown waits for in-flight connections.
const shutdownGrace = 5 * time.Second

// handshakeFailureCode extracts the classified §7 sub-kind from a
// handshake error for the HandshakeFailed event, falling back to the
// raw error text for anything Accept didn't wrap.
func handshakeFailureCode(err error) string {
	var hsErr *exchange.HandshakeError
	if errors.As(err, &hsErr) {
		return string(hsErr.SubKind)
	}
	return err.Error()
}

// Callbacks lets the embedding root package observe dispatcher
// lifecycle events without internal/mitm importing it back (which
// would create an import cycle).
type Callbacks struct {
	ConnectionOpened func(id, remoteAddr, protocol string)
	ConnectionClosed func(id string, sent, received uint64)
	HandshakeFailed  func(authority, backend, code string)
	Error            func(code, message string, fatal bool)
}

// Dispatcher accepts client TCP connections, serves plain HTTP
// directly, and for CONNECT tunnels probes the first bytes to decide
// between plaintext/WebSocket, TLS, and opaque tunnel handling.
type Dispatcher struct {
	Addr          string
	CA            *certauth.CA
	Engine        *exchange.Engine
	Handler       exchange.Handler
	WSHandler     wstunnel.Handler
	HTTP2Outbound bool
	Callbacks     Callbacks

	listener net.Listener
	server   *http.Server
}

// ListenAndServe starts accepting connections; it blocks until the
// listener is closed by Shutdown.
func (d *Dispatcher) ListenAndServe() error {
	ln, err := net.Listen("tcp", d.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.Addr, err)
	}
	d.listener = ln

	d.server = &http.Server{
		Handler: http.HandlerFunc(d.serveHTTP),
	}
	return d.server.Serve(ln)
}

// Shutdown stops accepting new connections and gives in-flight
// connections up to 5 seconds (or the provided context's deadline, if
// sooner) to finish, then closes the ones still open. Hijacked CONNECT
// connections are not tracked by the server, so they are neither
// waited for nor closed here.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if d.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	if err := d.server.Shutdown(ctx); err != nil {
		d.server.Close()
		return err
	}
	return nil
}

// BoundAddr returns the actual bound listen address, resolved after
// ListenAndServe has started (useful when Addr requested port 0).
func (d *Dispatcher) BoundAddr() string {
	if d.listener != nil {
		return d.listener.Addr().String()
	}
	return d.Addr
}

func (d *Dispatcher) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		d.handleConnect(w, r)
		return
	}
	d.Engine.Handle(r.Context(), w, r, d.Handler)
}

// handleConnect hijacks the raw client connection, reads the protocol
// probe prefix, and dispatches per §4.F.
func (d *Dispatcher) handleConnect(w http.ResponseWriter, r *http.Request) {
	connID := uuid.NewString()
	authority := r.Host

	if d.Handler != nil && !d.Handler.ShouldIntercept(r.Context(), r) {
		d.tunnelDirect(w, authority, connID)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	if _, err := io.WriteString(clientConn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		clientConn.Close()
		return
	}

	d.Callbacks.ConnectionOpened(connID, r.RemoteAddr, "probe")
	go d.servePostConnect(clientConn, authority, connID)
}

// servePostConnect reads the protocol probe and classifies the
// connection, per the §4.F algorithm.
func (d *Dispatcher) servePostConnect(clientConn net.Conn, authority, connID string) {
	defer clientConn.Close()

	counted := newCountingConn(clientConn)
	defer func() {
		sent, received := counted.counts()
		d.Callbacks.ConnectionClosed(connID, sent, received)
	}()

	probe := make([]byte, 11)
	n, _ := io.ReadFull(counted, probe)
	probe = probe[:n]
	wrapped := rewind.New(counted, probe)

	switch {
	case len(probe) >= 4 && string(probe[:4]) == "GET ":
		d.servePlaintext(wrapped, authority, connID, "http")
	case len(probe) >= 2 && probe[0] == 0x16 && probe[1] == 0x03:
		d.serveTLS(wrapped, probe, authority, connID)
	default:
		d.tunnelBytes(wrapped, authority, connID)
	}
}

func (d *Dispatcher) servePlaintext(conn net.Conn, authority, connID, scheme string) {
	ln := newSingleConnListener(conn)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.URL.Scheme = scheme
			r.URL.Host = authority
			if wstunnel.IsUpgrade(r) {
				wstunnel.Serve(w, r, d.WSHandler)
				return
			}
			d.Engine.Handle(r.Context(), w, r, d.Handler)
		}),
	}
	srv.Serve(ln)
}

func (d *Dispatcher) serveTLS(conn net.Conn, probe []byte, authority, connID string) {
	tlsConn, backend, err := Accept(conn, probe, authority, d.CA, d.HTTP2Outbound)
	if err != nil {
		d.Callbacks.HandshakeFailed(authority, backend, handshakeFailureCode(err))
		return
	}
	defer tlsConn.Close()

	ln := newSingleConnListener(tlsConn)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.URL.Scheme = "https"
			r.URL.Host = authority
			if wstunnel.IsUpgrade(r) {
				wstunnel.Serve(w, r, d.WSHandler)
				return
			}
			d.Engine.Handle(r.Context(), w, r, d.Handler)
		}),
	}
	if d.HTTP2Outbound {
		http2.ConfigureServer(srv, &http2.Server{})
	}
	srv.Serve(ln)
}

// tunnelBytes opens a raw TCP connection to authority and pumps bytes
// bidirectionally with no inspection ("tunnel mode").
func (d *Dispatcher) tunnelBytes(clientConn net.Conn, authority, connID string) {
	upstream, err := net.Dial("tcp", authority)
	if err != nil {
		d.Callbacks.Error("ERR_UPSTREAM_CONNECT", fmt.Sprintf("tunnel dial %s: %v", authority, err), false)
		return
	}
	defer upstream.Close()

	done := make(chan struct{})
	go func() {
		io.Copy(upstream, clientConn)
		close(done)
	}()
	io.Copy(clientConn, upstream)
	<-done
}

// tunnelDirect is used when the host declined interception before the
// CONNECT was even hijacked by this dispatcher's probe path: still
// honors the 200-then-pump contract.
func (d *Dispatcher) tunnelDirect(w http.ResponseWriter, authority, connID string) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer clientConn.Close()

	upstream, err := net.Dial("tcp", authority)
	if err != nil {
		io.WriteString(clientConn, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	defer upstream.Close()

	io.WriteString(clientConn, "HTTP/1.1 200 Connection Established\r\n\r\n")

	done := make(chan struct{})
	go func() {
		io.Copy(upstream, clientConn)
		close(done)
	}()
	io.Copy(clientConn, upstream)
	<-done
}

// singleConnListener adapts one already-accepted net.Conn (the
// post-probe, possibly-TLS-terminated stream) into a net.Listener so
// it can be served by a stock *http.Server instead of a hand-rolled
// request parser.
type singleConnListener struct {
	conn net.Conn
	used bool
	closed chan struct{}
}

func newSingleConnListener(conn net.Conn) *singleConnListener {
	return &singleConnListener{conn: conn, closed: make(chan struct{})}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	if l.used {
		<-l.closed
		return nil, io.EOF
	}
	l.used = true
	return l.conn, nil
}

func (l *singleConnListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }

// countingConn wraps the hijacked client net.Conn to track bytes
// written to the client (sent) and bytes read from the client
// (received) for the connection-closed metric.
type countingConn struct {
	net.Conn
	sent     atomic.Uint64
	received atomic.Uint64
}

func newCountingConn(conn net.Conn) *countingConn {
	return &countingConn{Conn: conn}
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.received.Add(uint64(n))
	return n, err
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.sent.Add(uint64(n))
	return n, err
}

func (c *countingConn) counts() (sent, received uint64) {
	return c.sent.Load(), c.received.Load()
}
