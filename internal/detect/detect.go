// Package detect classifies a byte buffer plus HTTP headers into a
// small enum of media kinds, decompressing gzip/brotli bodies when the
// headers call for it.
package detect

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// DataType is a tagged enum over the media kinds the engine cares
// about when deciding how to display or re-serialize a body.
type DataType string

const (
	JSON       DataType = "JSON"
	XML        DataType = "XML"
	HTML       DataType = "HTML"
	Text       DataType = "Text"
	CSS        DataType = "CSS"
	JavaScript DataType = "JavaScript"
	Image      DataType = "Image"
	Video      DataType = "Video"
	Audio      DataType = "Audio"
	Document   DataType = "Document"
	Archive    DataType = "Archive"
	Binary     DataType = "Binary"
	Empty      DataType = "Empty"
	Unknown    DataType = "Unknown"
)

var mimeByType = map[DataType]string{
	JSON:       "application/json",
	XML:        "application/xml",
	HTML:       "text/html",
	Text:       "text/plain",
	CSS:        "text/css",
	JavaScript: "application/javascript",
	Image:      "image/*",
	Video:      "video/*",
	Audio:      "audio/*",
	Document:   "application/pdf",
	Archive:    "application/zip",
	Binary:     "application/octet-stream",
	Empty:      "text/plain",
	Unknown:    "application/octet-stream",
}

var languageByType = map[DataType]string{
	JSON:       "json",
	XML:        "xml",
	HTML:       "html",
	Text:       "plaintext",
	CSS:        "css",
	JavaScript: "javascript",
	Image:      "plaintext",
	Video:      "plaintext",
	Audio:      "plaintext",
	Document:   "plaintext",
	Archive:    "plaintext",
	Binary:     "plaintext",
	Empty:      "plaintext",
	Unknown:    "plaintext",
}

// MIME returns the canonical MIME string for d.
func (d DataType) MIME() string {
	if m, ok := mimeByType[d]; ok {
		return m
	}
	return mimeByType[Unknown]
}

// EditorLanguage returns the syntax-highlighting tag a host UI would
// pick for d.
func (d DataType) EditorLanguage() string {
	if l, ok := languageByType[d]; ok {
		return l
	}
	return "plaintext"
}

// Detect classifies body given headers, following the precedence order:
// content-encoding (decompress and recurse), content-type substring
// match, magic bytes, then a UTF-8/binary fallback.
func Detect(headers http.Header, body []byte) DataType {
	if enc := strings.ToLower(headers.Get("Content-Encoding")); enc != "" {
		if strings.Contains(enc, "gzip") {
			if decoded, ok := tryGunzip(body); ok {
				return Detect(http.Header{}, decoded)
			}
			return Archive
		}
		if strings.Contains(enc, "br") {
			if decoded, ok := tryUnbrotli(body); ok {
				return Detect(http.Header{}, decoded)
			}
			return Binary
		}
	}

	if ct := strings.ToLower(headers.Get("Content-Type")); ct != "" {
		switch {
		case strings.Contains(ct, "json"):
			return JSON
		case strings.Contains(ct, "xml"):
			return XML
		case strings.Contains(ct, "html"):
			return HTML
		case strings.Contains(ct, "css"):
			return CSS
		case strings.Contains(ct, "javascript"), strings.Contains(ct, "typescript"):
			return JavaScript
		case strings.Contains(ct, "image/"):
			return Image
		case strings.Contains(ct, "video/"):
			return Video
		case strings.Contains(ct, "audio/"):
			return Audio
		case strings.Contains(ct, "pdf"):
			return Document
		case strings.Contains(ct, "zip"), strings.Contains(ct, "gzip"):
			return Archive
		case strings.Contains(ct, "text"):
			return Text
		}
	}

	if t, ok := byMagicBytes(body); ok {
		return t
	}

	if len(body) == 0 {
		return Empty
	}
	if utf8.Valid(body) {
		return Text
	}
	return Binary
}

func byMagicBytes(b []byte) (DataType, bool) {
	if len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b {
		if decoded, ok := tryGunzip(b); ok {
			return Detect(http.Header{}, decoded), true
		}
		return Archive, true
	}
	lead := b
	if len(lead) > 256 {
		lead = lead[:256]
	}
	if bytes.Contains(bytes.ToLower(lead), []byte("<svg")) {
		return Image, true
	}
	if len(b) >= 8 && bytes.Equal(b[:8], []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}) {
		return Image, true
	}
	if len(b) >= 3 && b[0] == 0xff && b[1] == 0xd8 && b[2] == 0xff {
		return Image, true
	}
	if len(b) >= 6 && (bytes.Equal(b[:6], []byte("GIF87a")) || bytes.Equal(b[:6], []byte("GIF89a"))) {
		return Image, true
	}
	if len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP")) {
		return Image, true
	}
	if len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")) {
		return Audio, true
	}
	if len(b) >= 8 && (bytes.Equal(b[4:8], []byte("ftyp")) || bytes.Equal(b[4:8], []byte("moov"))) {
		return Video, true
	}
	if len(b) >= 4 && bytes.Equal(b[:4], []byte{0x1A, 0x45, 0xDF, 0xA3}) {
		return Video, true
	}
	if len(b) >= 3 && (bytes.Equal(b[:3], []byte("ID3")) || (b[0] == 0xff && b[1] == 0xfb)) {
		return Audio, true
	}
	if len(b) >= 4 && bytes.Equal(b[:4], []byte("%PDF")) {
		return Document, true
	}
	if len(b) >= 4 && bytes.Equal(b[:4], []byte{'P', 'K', 0x03, 0x04}) {
		return Archive, true
	}
	return "", false
}

func tryGunzip(b []byte) ([]byte, bool) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, false
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, false
	}
	return out, true
}

func tryUnbrotli(b []byte) ([]byte, bool) {
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(b)))
	if err != nil {
		return nil, false
	}
	return out, true
}
