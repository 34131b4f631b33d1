package wire

import (
	"bytes"
	"testing"

	"github.com/lswasm/lswasm/errors"
)

func TestParse_Simple(t *testing.T) {
	req, err := Parse([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Method != "GET" || req.Path != "/hello" || req.Proto != "HTTP/1.1" {
		t.Errorf("request line parsed as %q %q %q", req.Method, req.Path, req.Proto)
	}
	if got := req.Headers.Get("host"); got != "x" {
		t.Errorf("Host header = %q, want x", got)
	}
	if req.Body != nil {
		t.Errorf("unexpected body %q", req.Body)
	}
}

func TestParse_HeaderCaseAndLastWins(t *testing.T) {
	raw := "POST / HTTP/1.1\r\n" +
		"X-Tag: first\r\n" +
		"x-tag: second\r\n" +
		"Content-Length: 4\r\n" +
		"\r\nbody"
	req, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := req.Headers.Get("X-TAG"); got != "second" {
		t.Errorf("last occurrence should win, got %q", got)
	}
	if !bytes.Equal(req.Body, []byte("body")) {
		t.Errorf("body = %q, want body", req.Body)
	}
}

func TestParse_BodyExactlyContentLength(t *testing.T) {
	raw := "POST /u HTTP/1.1\r\nContent-Length: 3\r\n\r\nabcdef"
	req, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(req.Body) != "abc" {
		t.Errorf("body = %q, want abc", req.Body)
	}
}

func TestParse_Malformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing path", "GET\r\n\r\n"},
		{"empty request line", "\r\nHost: x\r\n\r\n"},
		{"bad content length", "GET / HTTP/1.1\r\nContent-Length: x\r\n\r\n"},
		{"negative content length", "GET / HTTP/1.1\r\nContent-Length: -1\r\n\r\n"},
		{"header without colon", "GET / HTTP/1.1\r\nbogus\r\n\r\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			if err == nil {
				t.Fatal("expected malformed request error")
			}
			e, ok := err.(*errors.Error)
			if !ok || e.Kind != errors.KindMalformedRequest {
				t.Errorf("error = %v, want malformed_request", err)
			}
		})
	}
}

func TestParse_VersionDefaults(t *testing.T) {
	req, err := Parse([]byte("GET /x\r\n\r\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Proto != "HTTP/1.0" {
		t.Errorf("proto = %q, want HTTP/1.0 default", req.Proto)
	}
}

func TestComplete(t *testing.T) {
	full := "POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"

	// Feed byte by byte: must report complete only at the very end.
	for i := 1; i < len(full); i++ {
		if _, ok, err := Complete([]byte(full[:i])); err != nil {
			t.Fatalf("complete(%d bytes): %v", i, err)
		} else if ok {
			t.Fatalf("complete reported at %d of %d bytes", i, len(full))
		}
	}
	total, ok, err := Complete([]byte(full))
	if err != nil || !ok {
		t.Fatalf("complete = %v, %v; want true", ok, err)
	}
	if total != len(full) {
		t.Errorf("total = %d, want %d", total, len(full))
	}
}

func TestComplete_NoBody(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	total, ok, err := Complete([]byte(raw))
	if err != nil || !ok {
		t.Fatalf("complete = %v, %v; want true", ok, err)
	}
	if total != len(raw) {
		t.Errorf("total = %d, want %d", total, len(raw))
	}
}

func TestComplete_BadContentLength(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nContent-Length: nope\r\n\r\n"
	if _, _, err := Complete([]byte(raw)); err == nil {
		t.Fatal("expected error for invalid Content-Length")
	}
}
