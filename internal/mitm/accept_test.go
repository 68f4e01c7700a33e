package mitm

import (
	"crypto/tls"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/kestrelmitm/kestrel/internal/certauth"
	"github.com/kestrelmitm/kestrel/internal/exchange"
)

func tls12Probe() []byte {
	return []byte{0x16, 0x03, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x02}
}

func tls10Probe() []byte {
	return []byte{0x16, 0x03, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x00}
}

func TestAcceptModernBackendHandshakes(t *testing.T) {
	ca, err := certauth.New(0, 0)
	if err != nil {
		t.Fatalf("certauth.New: %v", err)
	}

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() {
		cfg := &tls.Config{InsecureSkipVerify: true}
		c := tls.Client(client, cfg)
		c.SetDeadline(time.Now().Add(5 * time.Second))
		errCh <- c.Handshake()
	}()

	server.SetDeadline(time.Now().Add(5 * time.Second))
	conn, backend, err := Accept(server, tls12Probe(), "example.com:443", ca, false)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if backend != "modern" {
		t.Errorf("backend = %q, want modern", backend)
	}
	defer conn.Close()

	if err := <-errCh; err != nil {
		t.Fatalf("client handshake: %v", err)
	}
}

func TestAcceptLegacyBackendHandshakes(t *testing.T) {
	ca, err := certauth.New(0, 0)
	if err != nil {
		t.Fatalf("certauth.New: %v", err)
	}

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() {
		cfg := &tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS10,
			MaxVersion:         tls.VersionTLS12,
			CipherSuites:       legacyCipherSuites,
		}
		c := tls.Client(client, cfg)
		c.SetDeadline(time.Now().Add(5 * time.Second))
		errCh <- c.Handshake()
	}()

	server.SetDeadline(time.Now().Add(5 * time.Second))
	conn, backend, err := Accept(server, tls10Probe(), "old.example.com:443", ca, false)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if backend != "legacy" {
		t.Errorf("backend = %q, want legacy", backend)
	}
	defer conn.Close()

	if err := <-errCh; err != nil {
		t.Fatalf("client handshake: %v", err)
	}
}

// An undetermined probe (too short, or a version byte that doesn't map
// to a known TLS version) is routed to the legacy backend rather than
// rejected outright, same as an explicit TLS 1.0/1.1 probe would be.
func TestAcceptRoutesUndeterminedProbeToLegacyBackend(t *testing.T) {
	ca, err := certauth.New(0, 0)
	if err != nil {
		t.Fatalf("certauth.New: %v", err)
	}

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() {
		cfg := &tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS10,
			MaxVersion:         tls.VersionTLS12,
			CipherSuites:       legacyCipherSuites,
		}
		c := tls.Client(client, cfg)
		c.SetDeadline(time.Now().Add(5 * time.Second))
		errCh <- c.Handshake()
	}()

	server.SetDeadline(time.Now().Add(5 * time.Second))
	conn, backend, err := Accept(server, []byte{0x16, 0x03}, "undetermined.example.com:443", ca, false)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if backend != "legacy" {
		t.Errorf("backend = %q, want legacy", backend)
	}
	defer conn.Close()

	if err := <-errCh; err != nil {
		t.Fatalf("client handshake: %v", err)
	}
}

func TestAcceptModernHandshakeFailureIsClassified(t *testing.T) {
	ca, err := certauth.New(0, 0)
	if err != nil {
		t.Fatalf("certauth.New: %v", err)
	}

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte("not a real client hello"))
	}()

	server.SetDeadline(time.Now().Add(2 * time.Second))
	_, backend, err := Accept(server, tls12Probe(), "example.com:443", ca, false)
	if err == nil {
		t.Fatalf("expected a handshake error for garbage ClientHello bytes")
	}
	if backend != "modern" {
		t.Errorf("backend = %q, want modern", backend)
	}

	var hsErr *exchange.HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("error = %v, want an *exchange.HandshakeError", err)
	}
	if hsErr.SubKind == "" {
		t.Errorf("expected a non-empty classified sub-kind")
	}
}
