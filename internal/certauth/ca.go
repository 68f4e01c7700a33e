// Package certauth owns the proxy's root certificate authority, mints
// per-authority leaf certificates on demand, and caches them.
package certauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

const (
	leafValidity  = 365 * 24 * time.Hour
	leafBackdate  = 60 * time.Second
	defaultCap    = 1000
)

// CA is the root certificate authority: a long-lived, self-signed
// keypair that signs every leaf this proxy mints. Immutable after
// construction; shared by every connection.
type CA struct {
	rootCert    *x509.Certificate
	rootDER     []byte
	rootKey     *ecdsa.PrivateKey

	cache    *lru.LRU[string, *leafEntry]
	minting  sync.Map // authority string -> *sync.Mutex, serializes concurrent mints per key
}

// leafEntry is a minted server certificate + private key for one
// origin authority string.
type leafEntry struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	der  []byte
}

// New creates a CA with a freshly generated root keypair and a leaf
// cache of the given capacity and TTL. Both default (0) to a
// recommended 1000 entries / half the leaf validity period.
func New(cacheCapacity int, cacheTTL time.Duration) (*CA, error) {
	if cacheCapacity <= 0 {
		cacheCapacity = defaultCap
	}
	if cacheTTL <= 0 {
		cacheTTL = leafValidity / 2
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate root key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, fmt.Errorf("generate root serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"Kestrel MITM Proxy"}, CommonName: "Kestrel Root CA"},
		NotBefore:             now.Add(-leafBackdate),
		NotAfter:              now.Add(10 * leafValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create root certificate: %w", err)
	}
	root, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse root certificate: %w", err)
	}

	return &CA{
		rootCert: root,
		rootDER:  der,
		rootKey:  key,
		cache:    lru.NewLRU[string, *leafEntry](cacheCapacity, nil, cacheTTL),
	}, nil
}

// RootCertDER returns the DER encoding of the root certificate, for
// installation into client trust stores.
func (ca *CA) RootCertDER() []byte {
	return ca.rootDER
}

// GenServerConfig returns a *tls.Config that will present a leaf
// certificate valid for authority (a host[:port] string). http2Outbound
// selects the ALPN list offered to the client.
func (ca *CA) GenServerConfig(authority string, http2Outbound bool) (*tls.Config, error) {
	entry, err := ca.mintOrLookup(authority)
	if err != nil {
		return nil, err
	}

	alpn := []string{"http/1.1"}
	if http2Outbound {
		alpn = []string{"h2", "http/1.1"}
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{entry.der},
			PrivateKey:  entry.key,
			Leaf:        entry.cert,
		}},
		NextProtos: alpn,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// GenPKCS12Identity exports the same leaf as a PKCS#12 blob, for the
// legacy TLS backend. Output always begins with the ASN.1 SEQUENCE tag
// (0x30 0x82 or 0x30 0x81).
func (ca *CA) GenPKCS12Identity(authority string) ([]byte, error) {
	entry, err := ca.mintOrLookup(authority)
	if err != nil {
		return nil, err
	}
	return pkcs12.Encode(rand.Reader, entry.key, entry.cert, nil, "")
}

func (ca *CA) mintOrLookup(authority string) (*leafEntry, error) {
	if e, ok := ca.cache.Get(authority); ok {
		return e, nil
	}

	lockI, _ := ca.minting.LoadOrStore(authority, &sync.Mutex{})
	lock := lockI.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()
	defer ca.minting.Delete(authority)

	if e, ok := ca.cache.Get(authority); ok {
		return e, nil
	}

	entry, err := ca.mint(authority)
	if err != nil {
		return nil, fmt.Errorf("mint leaf for %s: %w", authority, err)
	}
	ca.cache.Add(authority, entry)
	return entry, nil
}

func (ca *CA) mint(authority string) (*leafEntry, error) {
	host := authority
	if h, _, err := net.SplitHostPort(authority); err == nil {
		host = h
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    now.Add(-leafBackdate),
		NotAfter:     now.Add(leafValidity),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	for _, san := range sansFor(host) {
		if ip := net.ParseIP(san); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			// An IP literal is also a valid DNS SAN entry in its string
			// form, and some legacy clients check DNSNames rather than
			// IPAddresses against the dialed host.
			tmpl.DNSNames = append(tmpl.DNSNames, san)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, strings.ToLower(san))
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.rootCert, &key.PublicKey, ca.rootKey)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	return &leafEntry{cert: cert, key: key, der: der}, nil
}

func sansFor(host string) []string {
	sans := []string{host}
	if !strings.HasPrefix(host, "*.") {
		sans = append(sans, "*."+host)
	}
	if host == "localhost" {
		sans = append(sans, "127.0.0.1")
	}
	return sans
}
