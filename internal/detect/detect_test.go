package detect

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"testing"
)

func headers(kv ...string) http.Header {
	h := make(http.Header)
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestDetectContentTypePrecedence(t *testing.T) {
	cases := []struct {
		name string
		ct   string
		want DataType
	}{
		{"json", "application/json; charset=utf-8", JSON},
		{"xml", "application/xml", XML},
		{"html", "text/html; charset=utf-8", HTML},
		{"css", "text/css", CSS},
		{"js", "application/javascript", JavaScript},
		{"image", "image/png", Image},
		{"video", "video/mp4", Video},
		{"audio", "audio/mpeg", Audio},
		{"pdf", "application/pdf", Document},
		{"zip", "application/zip", Archive},
		{"plain-text", "text/plain", Text},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Detect(headers("Content-Type", c.ct), []byte("irrelevant body, content-type wins"))
			if got != c.want {
				t.Fatalf("Detect() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestDetectMagicBytesWithNoContentType(t *testing.T) {
	cases := []struct {
		name string
		body []byte
		want DataType
	}{
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0}, Image},
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0, 0}, Image},
		{"gif87", []byte("GIF87a...."), Image},
		{"pdf", []byte("%PDF-1.4 ..."), Document},
		{"zip", []byte{'P', 'K', 0x03, 0x04, 0, 0}, Archive},
		{"svg", []byte("<svg xmlns=\"http://www.w3.org/2000/svg\"></svg>"), Image},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Detect(http.Header{}, c.body)
			if got != c.want {
				t.Fatalf("Detect() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestDetectFallbackUTF8AndBinary(t *testing.T) {
	if got := Detect(http.Header{}, nil); got != Empty {
		t.Fatalf("empty body: got %v, want Empty", got)
	}
	if got := Detect(http.Header{}, []byte("plain ascii text")); got != Text {
		t.Fatalf("ascii body: got %v, want Text", got)
	}
	if got := Detect(http.Header{}, []byte{0xff, 0xfe, 0x00, 0x01}); got != Binary {
		t.Fatalf("invalid utf8 body: got %v, want Binary", got)
	}
}

func TestDetectGzipDecodesThenRecurses(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write([]byte(`{"hello":"world"}`))
	w.Close()

	// The decoded body is re-detected with an empty header map, and JSON
	// text has no magic bytes, so it lands on the UTF-8 fallback.
	got := Detect(headers("Content-Encoding", "gzip"), buf.Bytes())
	if got != Text {
		t.Fatalf("Detect() on gzip+json body without Content-Type = %v, want Text", got)
	}
}

func TestDetectGzipMagicBytesWithoutHeader(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write([]byte("plain text payload"))
	w.Close()

	got := Detect(http.Header{}, buf.Bytes())
	if got != Text {
		t.Fatalf("Detect() on raw gzip magic bytes = %v, want Text", got)
	}
}

func TestMIMEAndEditorLanguage(t *testing.T) {
	if JSON.MIME() != "application/json" {
		t.Errorf("JSON.MIME() = %q", JSON.MIME())
	}
	if JSON.EditorLanguage() != "json" {
		t.Errorf("JSON.EditorLanguage() = %q", JSON.EditorLanguage())
	}
	if DataType("bogus").MIME() != Unknown.MIME() {
		t.Errorf("unknown DataType should fall back to Unknown's MIME")
	}
}
