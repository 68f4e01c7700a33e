// Package tlsprobe inspects the first bytes of a TLS ClientHello to
// determine the negotiated protocol version before a full handshake is
// attempted.
package tlsprobe

// Version is a detected ClientHello protocol version.
type Version int

const (
	Unknown Version = iota
	TLS10
	TLS11
	TLS12
	TLS13
)

func (v Version) String() string {
	switch v {
	case TLS10:
		return "TLS1.0"
	case TLS11:
		return "TLS1.1"
	case TLS12:
		return "TLS1.2"
	case TLS13:
		return "TLS1.3"
	default:
		return "unknown"
	}
}

// Detect inspects prefix (the first bytes read off a freshly accepted
// connection) and returns the ClientHello's declared version. It
// requires at least 11 bytes, a record type of Handshake (0x16) at
// offset 0, and a ClientHello handshake type (0x01) at offset 5. The
// client-version field at offset 9..11 is mapped 0x0300..0x0303 to
// TLS10..TLS13.
func Detect(prefix []byte) (Version, bool) {
	if len(prefix) < 11 {
		return Unknown, false
	}
	if prefix[0] != 0x16 {
		return Unknown, false
	}
	if prefix[5] != 0x01 {
		return Unknown, false
	}
	if prefix[9] != 0x03 {
		return Unknown, false
	}
	switch prefix[10] {
	case 0x00:
		return TLS10, true
	case 0x01:
		return TLS11, true
	case 0x02:
		return TLS12, true
	case 0x03:
		return TLS13, true
	default:
		return Unknown, false
	}
}

// IsModernSupported reports whether v can be served by the modern
// (crypto/tls) backend.
func IsModernSupported(v Version) bool {
	return v == TLS12 || v == TLS13
}

// IsLegacySupported reports whether v can be served by the legacy
// (PKCS#12-identity) backend.
func IsLegacySupported(v Version) bool {
	return v == TLS10 || v == TLS11 || v == TLS12 || v == TLS13
}
