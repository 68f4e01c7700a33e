// Package api provides an HTTP and WebSocket control plane for a
// kestrel.Proxy: status, root CA download, session rule CRUD, and an
// exchange event stream, for a reference embedding host (cmd/kestreld)
// or any GUI built against it.
package api

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kestrelmitm/kestrel"
)

// Server exposes a kestrel.Proxy over HTTP/WebSocket.
type Server struct {
	proxy    *kestrel.Proxy
	addr     string
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
}

// New constructs a Server bound to addr once Start is called.
func New(proxy *kestrel.Proxy, addr string) *Server {
	return &Server{
		proxy: proxy,
		addr:  addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/api/v1/rules", s.handleRules)
	mux.HandleFunc("/api/v1/ca.crt", s.handleRootCert)
	mux.HandleFunc("/api/v1/events", s.handleEvents)

	s.server = &http.Server{Handler: mux}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	go s.server.Serve(ln)
	return nil
}

// Stop gracefully shuts the control plane server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the actual bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := struct {
		State string `json:"state"`
		Addr  string `json:"addr"`
	}{
		State: string(s.proxy.State()),
		Addr:  s.proxy.BoundAddr(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.proxy.Metrics())
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.proxy.Rules())
	case http.MethodPost:
		var rules []kestrel.SessionRule
		if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.proxy.UpdateRules(rules)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRootCert serves the root CA certificate as PEM, the format a
// browser or OS trust-store importer expects.
func (s *Server) handleRootCert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	block := &pem.Block{Type: "CERTIFICATE", Bytes: s.proxy.RootCertDER()}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", `attachment; filename="kestrel-root-ca.pem"`)
	pem.Encode(w, block)
}

// handleEvents streams proxy events to a WebSocket client as they
// occur, one JSON object per event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.proxy.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	go drainPings(ctx, conn)

	for ev := range events {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// drainPings reads and discards client frames so control frames
// (ping, close) are processed and a client-initiated close is noticed
// promptly.
func drainPings(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
