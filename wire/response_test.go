package wire

import (
	"strings"
	"testing"
)

func TestLocalResponse_Bytes(t *testing.T) {
	resp := NewLocalResponse(403, []byte("blocked"), "")
	out := string(resp.Bytes())

	if !strings.HasPrefix(out, "HTTP/1.1 403 Forbidden\r\n") {
		t.Errorf("status line wrong: %q", out)
	}
	for _, want := range []string{
		"Content-Type: text/plain; charset=utf-8\r\n",
		"Server: lswasm\r\n",
		"Connection: close\r\n",
		"Content-Length: 7\r\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing header %q in %q", want, out)
		}
	}
	if !strings.HasSuffix(out, "\r\n\r\nblocked") {
		t.Errorf("body not verbatim at end: %q", out)
	}
}

func TestLocalResponse_Details(t *testing.T) {
	resp := NewLocalResponse(200, nil, "OK from filter")
	out := string(resp.Bytes())
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK from filter\r\n") {
		t.Errorf("details should become the reason phrase: %q", out)
	}
}

func TestDiagnosticResponse(t *testing.T) {
	req := &Request{Method: "GET", Path: "/hello", Proto: "HTTP/1.1"}
	resp := NewDiagnosticResponse(req, []string{"sample"})

	if resp.Status != 200 {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	body := string(resp.Body)
	for _, want := range []string{"GET", "/hello", "HTTP/1.1", "sample"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q: %q", want, body)
		}
	}
}
