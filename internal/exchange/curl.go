package exchange

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	curlMaxTime        = 10 * time.Second
	curlConnectTimeout = 5 * time.Second
)

// CurlFallback re-issues a captured request via an out-of-process curl
// invocation, used only when the upstream TLS handshake itself failed
// (spec §4.J restricts the fallback to that one case so the error
// taxonomy's other distinctions stay meaningful). It returns a decoded
// *http.Response on success, or an error describing curl's failure.
func CurlFallback(ctx context.Context, method, url string, header http.Header) (*http.Response, error) {
	args := []string{
		"-s", "-i",
		"-X", method,
		"--max-time", fmt.Sprintf("%d", int(curlMaxTime.Seconds())),
		"--connect-timeout", fmt.Sprintf("%d", int(curlConnectTimeout.Seconds())),
		"--insecure",
	}
	for name, values := range header {
		if strings.EqualFold(name, "Host") {
			continue
		}
		for _, v := range values {
			args = append(args, "-H", name+": "+v)
		}
	}
	args = append(args, url)

	cctx, cancel := context.WithTimeout(ctx, curlMaxTime+curlConnectTimeout)
	defer cancel()

	out, err := exec.CommandContext(cctx, "curl", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("curl fallback: %w", err)
	}
	return parseCurlOutput(out)
}

// parseCurlOutput decodes curl -i output: a status line, headers up to
// a blank line (Content-Length is dropped since the remainder is the
// exact body length), then the body. The header/body boundary is
// located directly in the raw bytes rather than re-derived from
// scanned line lengths, since a line scanner strips the CRLF it
// consumed and re-adding a fixed per-line count is easy to get wrong.
func parseCurlOutput(out []byte) (*http.Response, error) {
	sep := []byte("\r\n\r\n")
	headerEnd := bytes.Index(out, sep)
	if headerEnd < 0 {
		sep = []byte("\n\n")
		headerEnd = bytes.Index(out, sep)
	}
	if headerEnd < 0 {
		return nil, fmt.Errorf("curl fallback: no header/body boundary found")
	}

	headerBlock := out[:headerEnd]
	body := out[headerEnd+len(sep):]

	lines := bytes.Split(headerBlock, []byte("\n"))
	if len(lines) == 0 {
		return nil, fmt.Errorf("curl fallback: empty output")
	}
	statusLine := strings.TrimRight(string(lines[0]), "\r")
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("curl fallback: malformed status line %q", statusLine)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("curl fallback: bad status code %q", parts[1])
	}

	header := make(http.Header)
	for _, raw := range lines[1:] {
		line := strings.TrimRight(string(raw), "\r")
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		name := strings.TrimSpace(kv[0])
		if strings.EqualFold(name, "Content-Length") {
			continue
		}
		header.Add(name, strings.TrimSpace(kv[1]))
	}

	return &http.Response{
		StatusCode: status,
		Proto:      "HTTP/1.1",
		Header:     header,
		Body:       newBodyReadCloser(body),
	}, nil
}
