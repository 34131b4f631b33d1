package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lswasm/lswasm/wire"
)

// echoHandler answers with a 200 describing the parsed request.
type echoHandler struct{}

func (echoHandler) Run(_ context.Context, req *wire.Request) *wire.Response {
	body := fmt.Sprintf("%s %s %s body=%q", req.Method, req.Path, req.Proto, req.Body)
	return wire.NewLocalResponse(200, []byte(body), "OK")
}

// startTCP runs a server on an ephemeral port and returns its address.
func startTCP(t *testing.T, handler Handler, cfg Config) (string, *Server) {
	t.Helper()

	lfd, err := ListenTCP(0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port, err := LocalPort(lfd)
	if err != nil {
		t.Fatalf("local port: %v", err)
	}

	srv := New(lfd, handler, cfg, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	t.Cleanup(func() {
		srv.Shutdown()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("serve did not stop after shutdown")
		}
	})
	return fmt.Sprintf("127.0.0.1:%d", port), srv
}

func roundTrip(t *testing.T, addr, request string) string {
	t.Helper()

	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := c.Write([]byte(request)); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(resp)
}

func TestServer_RequestResponse(t *testing.T) {
	addr, _ := startTCP(t, echoHandler{}, Config{})

	resp := roundTrip(t, addr, "GET /hello HTTP/1.1\r\nHost: test\r\n\r\n")

	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("status line missing: %q", resp)
	}
	for _, want := range []string{
		"Connection: close\r\n",
		"Content-Length: ",
		`GET /hello HTTP/1.1 body=""`,
	} {
		if !strings.Contains(resp, want) {
			t.Errorf("response missing %q:\n%s", want, resp)
		}
	}
}

func TestServer_BodyDeliveredAcrossWrites(t *testing.T) {
	addr, _ := startTCP(t, echoHandler{}, Config{})

	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(5 * time.Second))

	// Split the request mid-header and mid-body.
	parts := []string{
		"POST /submit HT",
		"TP/1.1\r\nContent-Len",
		"gth: 5\r\n\r\nhel",
		"lo",
	}
	for _, p := range parts {
		if _, err := c.Write([]byte(p)); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(resp), `POST /submit HTTP/1.1 body="hello"`) {
		t.Errorf("body not assembled: %q", resp)
	}
}

func TestServer_HalfCloseStillAnswered(t *testing.T) {
	addr, _ := startTCP(t, echoHandler{}, Config{})

	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := c.Write([]byte("GET /half HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Send FIN right behind the request; the buffered request must
	// still be dispatched.
	if err := c.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatalf("close write: %v", err)
	}

	resp, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(resp), "/half") {
		t.Errorf("no response after half-close: %q", resp)
	}
}

func TestServer_HalfCloseIncompleteRequestDropped(t *testing.T) {
	addr, _ := startTCP(t, echoHandler{}, Config{})

	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(5 * time.Second))

	// No header terminator, then FIN: nothing to dispatch.
	if _, err := c.Write([]byte("GET /partial HTTP/1.1\r\nHost: x\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatalf("close write: %v", err)
	}

	resp, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(resp) != 0 {
		t.Errorf("incomplete half-closed request got a response: %q", resp)
	}
}

func TestServer_MalformedRequestGetsNoResponse(t *testing.T) {
	addr, _ := startTCP(t, echoHandler{}, Config{})

	resp := roundTrip(t, addr, "GARBAGE\r\n\r\n")
	if resp != "" {
		t.Errorf("malformed request got a response: %q", resp)
	}
}

func TestServer_OversizedRequestClosed(t *testing.T) {
	addr, _ := startTCP(t, echoHandler{}, Config{MaxRequestBytes: 256})

	// Never send the header terminator; exceed the limit instead.
	req := "GET /big HTTP/1.1\r\nX-Pad: " + strings.Repeat("a", 512) + "\r\n"
	resp := roundTrip(t, addr, req)
	if resp != "" {
		t.Errorf("oversized request got a response: %q", resp)
	}
}

func TestServer_SequentialConnections(t *testing.T) {
	addr, _ := startTCP(t, echoHandler{}, Config{})

	for i := 0; i < 5; i++ {
		resp := roundTrip(t, addr, fmt.Sprintf("GET /req/%d HTTP/1.1\r\n\r\n", i))
		if !strings.Contains(resp, fmt.Sprintf("/req/%d", i)) {
			t.Errorf("request %d: wrong response %q", i, resp)
		}
	}
}

func TestServer_ShutdownStopsServe(t *testing.T) {
	lfd, err := ListenTCP(0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(lfd, echoHandler{}, Config{}, nil)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	srv.Shutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after shutdown")
	}
}

func TestConnState_String(t *testing.T) {
	cases := map[connState]string{
		stateReading:    "reading",
		stateProcessing: "processing",
		stateClosed:     "closed",
		connState(99):   "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("connState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestListenUnix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lswasm.sock")
	lfd, err := ListenUnix(path)
	if err != nil {
		t.Fatalf("listen unix: %v", err)
	}

	srv := New(lfd, echoHandler{}, Config{}, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	defer func() {
		srv.Shutdown()
		<-done
	}()

	c, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := c.Write([]byte("GET /uds HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(resp), "/uds") {
		t.Errorf("unexpected response: %q", resp)
	}
}
