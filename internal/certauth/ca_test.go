package certauth

import (
	"crypto/x509"
	"testing"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

func TestNewProducesSelfSignedRoot(t *testing.T) {
	ca, err := New(0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	root, err := x509.ParseCertificate(ca.RootCertDER())
	if err != nil {
		t.Fatalf("parse root: %v", err)
	}
	if !root.IsCA {
		t.Errorf("root certificate should be a CA")
	}
	if err := root.CheckSignatureFrom(root); err != nil {
		t.Errorf("root should be self-signed: %v", err)
	}
}

func TestGenServerConfigMintsLeafSignedByRoot(t *testing.T) {
	ca, err := New(10, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	root, err := x509.ParseCertificate(ca.RootCertDER())
	if err != nil {
		t.Fatalf("parse root: %v", err)
	}

	cfg, err := ca.GenServerConfig("example.com:443", false)
	if err != nil {
		t.Fatalf("GenServerConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected exactly one certificate")
	}
	leaf := cfg.Certificates[0].Leaf
	if err := leaf.CheckSignatureFrom(root); err != nil {
		t.Errorf("leaf should be signed by root: %v", err)
	}

	var sawHost, sawWildcard bool
	for _, name := range leaf.DNSNames {
		if name == "example.com" {
			sawHost = true
		}
		if name == "*.example.com" {
			sawWildcard = true
		}
	}
	if !sawHost || !sawWildcard {
		t.Errorf("DNSNames = %v, want example.com and *.example.com", leaf.DNSNames)
	}

	if cfg.NextProtos[0] != "http/1.1" || len(cfg.NextProtos) != 1 {
		t.Errorf("NextProtos = %v, want [http/1.1] without http2Outbound", cfg.NextProtos)
	}
}

func TestGenServerConfigIPLiteralHostGetsBothSANTypes(t *testing.T) {
	ca, err := New(10, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg, err := ca.GenServerConfig("203.0.113.10:443", false)
	if err != nil {
		t.Fatalf("GenServerConfig: %v", err)
	}
	leaf := cfg.Certificates[0].Leaf

	if len(leaf.IPAddresses) != 1 || leaf.IPAddresses[0].String() != "203.0.113.10" {
		t.Errorf("IPAddresses = %v, want [203.0.113.10]", leaf.IPAddresses)
	}

	var sawDNSName bool
	for _, name := range leaf.DNSNames {
		if name == "203.0.113.10" {
			sawDNSName = true
		}
	}
	if !sawDNSName {
		t.Errorf("DNSNames = %v, want 203.0.113.10 alongside the IPAddresses entry", leaf.DNSNames)
	}
}

func TestGenServerConfigHTTP2OutboundAddsALPN(t *testing.T) {
	ca, err := New(10, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg, err := ca.GenServerConfig("example.org", true)
	if err != nil {
		t.Fatalf("GenServerConfig: %v", err)
	}
	if len(cfg.NextProtos) != 2 || cfg.NextProtos[0] != "h2" {
		t.Errorf("NextProtos = %v, want [h2 http/1.1]", cfg.NextProtos)
	}
}

func TestMintOrLookupCachesSameAuthority(t *testing.T) {
	ca, err := New(10, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first, err := ca.mintOrLookup("cache.example.com")
	if err != nil {
		t.Fatalf("mintOrLookup: %v", err)
	}
	second, err := ca.mintOrLookup("cache.example.com")
	if err != nil {
		t.Fatalf("mintOrLookup: %v", err)
	}
	if first.cert.SerialNumber.Cmp(second.cert.SerialNumber) != 0 {
		t.Errorf("expected the same cached leaf, got different serials")
	}
}

func TestGenPKCS12IdentityDecodes(t *testing.T) {
	ca, err := New(10, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pfx, err := ca.GenPKCS12Identity("pkcs.example.com")
	if err != nil {
		t.Fatalf("GenPKCS12Identity: %v", err)
	}
	_, cert, err := pkcs12.Decode(pfx, "")
	if err != nil {
		t.Fatalf("pkcs12.Decode: %v", err)
	}
	if cert.Subject.CommonName != "pkcs.example.com" {
		t.Errorf("CommonName = %q, want pkcs.example.com", cert.Subject.CommonName)
	}
}
