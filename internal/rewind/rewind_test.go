package rewind

import (
	"bytes"
	"io"
	"net"
	"testing"
)

type fakeConn struct {
	net.Conn
	r *bytes.Reader
}

func (f *fakeConn) Read(p []byte) (int, error) { return f.r.Read(p) }

func TestReadReplaysInitialThenUnderlying(t *testing.T) {
	underlying := &fakeConn{r: bytes.NewReader([]byte("REST"))}
	conn := New(underlying, []byte("HEAD"))

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "HEADREST" {
		t.Fatalf("got %q, want %q", got, "HEADREST")
	}
}

func TestReadWithEmptyInitial(t *testing.T) {
	underlying := &fakeConn{r: bytes.NewReader([]byte("ALL"))}
	conn := New(underlying, nil)

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "ALL" {
		t.Fatalf("got %q, want %q", got, "ALL")
	}
}

func TestReadSmallBuffersAcrossBoundary(t *testing.T) {
	underlying := &fakeConn{r: bytes.NewReader([]byte("XYZ"))}
	conn := New(underlying, []byte("AB"))

	buf := make([]byte, 1)
	var out []byte
	for {
		n, err := conn.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if string(out) != "ABXYZ" {
		t.Fatalf("got %q, want %q", out, "ABXYZ")
	}
}
