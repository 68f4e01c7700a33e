package mitm

import (
	"crypto/tls"
	"fmt"
	"net"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/kestrelmitm/kestrel/internal/certauth"
	"github.com/kestrelmitm/kestrel/internal/exchange"
	"github.com/kestrelmitm/kestrel/internal/tlsprobe"
)

// legacyCipherSuites is the set of TLS 1.0/1.1-era cipher suites
// crypto/tls still implements but no longer offers by default; the
// legacy backend opts back into them explicitly so older clients that
// never speak TLS 1.2+ can still complete a handshake. The minted leaf
// key is ECDSA, so the ECDHE_ECDSA suites are the ones a handshake can
// actually settle on; the RSA suites only apply to an RSA leaf.
var legacyCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
	tls.TLS_RSA_WITH_AES_128_CBC_SHA,
	tls.TLS_RSA_WITH_AES_256_CBC_SHA,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA,
}

// Accept performs component D's hybrid handshake: classify the
// client's TLS version from the dispatcher's already-read protocol
// probe, then hand the connection (which still replays that probe via
// rewind.Conn) to whichever backend can actually negotiate with it.
// An undetermined version (too short a probe, or a ClientHello-shaped
// prefix whose version byte doesn't map to a known one) is treated the
// same as TLS 1.0/1.1 and routed to the legacy backend, since that's
// the backend that accepts the widest range of old or malformed
// clients. The returned net.Conn is the post-handshake plaintext
// stream; the returned backend name is "modern" or "legacy", used for
// logging and the handshake-failed event when err != nil.
func Accept(conn net.Conn, probe []byte, authority string, ca *certauth.CA, http2Outbound bool) (net.Conn, string, error) {
	version, ok := tlsprobe.Detect(probe)
	if !ok {
		return acceptLegacy(conn, authority, ca, "unknown")
	}

	if tlsprobe.IsLegacySupported(version) && !tlsprobe.IsModernSupported(version) {
		return acceptLegacy(conn, authority, ca, version.String())
	}
	return acceptModern(conn, authority, ca, http2Outbound, version.String())
}

func acceptModern(conn net.Conn, authority string, ca *certauth.CA, http2Outbound bool, version string) (net.Conn, string, error) {
	cfg, err := ca.GenServerConfig(authority, http2Outbound)
	if err != nil {
		return nil, "modern", handshakeErr(authority, "modern", version, fmt.Errorf("mint server config: %w", err))
	}
	tlsConn := tls.Server(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, "modern", handshakeErr(authority, "modern", version, fmt.Errorf("modern handshake: %w", err))
	}
	return tlsConn, "modern", nil
}

// acceptLegacy terminates TLS using a PKCS#12 identity bundle and an
// explicit legacy cipher suite list, for clients that only speak
// TLS 1.0/1.1 and refuse everything crypto/tls offers by default. If
// the PKCS#12 identity fails to build, it is regenerated once and
// retried before giving up.
func acceptLegacy(conn net.Conn, authority string, ca *certauth.CA, version string) (net.Conn, string, error) {
	pfx, err := ca.GenPKCS12Identity(authority)
	if err != nil {
		pfx, err = ca.GenPKCS12Identity(authority)
		if err != nil {
			return nil, "legacy", handshakeErr(authority, "legacy", version, fmt.Errorf("mint pkcs12 identity (after retry): %w", err))
		}
	}
	key, cert, err := pkcs12.Decode(pfx, "")
	if err != nil {
		return nil, "legacy", handshakeErr(authority, "legacy", version, fmt.Errorf("decode pkcs12 identity: %w", err))
	}

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS10,
		MaxVersion:   tls.VersionTLS12,
		CipherSuites: legacyCipherSuites,
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{cert.Raw},
			PrivateKey:  key,
			Leaf:        cert,
		}},
	}
	tlsConn := tls.Server(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, "legacy", handshakeErr(authority, "legacy", version, fmt.Errorf("legacy handshake: %w", err))
	}
	return tlsConn, "legacy", nil
}

// handshakeErr wraps cause in an *exchange.HandshakeError, classifying
// it into the §7 sub-kind taxonomy so the dispatcher's handshake-failed
// event carries a stable code instead of a raw, locale- and
// version-dependent error string.
func handshakeErr(authority, backend, version string, cause error) error {
	return &exchange.HandshakeError{
		Authority: authority,
		Version:   version,
		Backend:   backend,
		SubKind:   exchange.ClassifyHandshakeError(cause),
		Cause:     cause,
	}
}
