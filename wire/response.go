package wire

import (
	"net/http"
	"strconv"
	"strings"
)

// serverName identifies this host in the Server response header.
const serverName = "lswasm"

// Header is one response header. Responses keep an ordered slice so
// output is byte-stable.
type Header struct {
	Name  string
	Value string
}

// Response is an HTTP/1.x response to be serialized once and written
// to the client. One response per connection; Connection: close always.
type Response struct {
	Status  int
	Reason  string
	Headers []Header
	Body    []byte
}

// NewLocalResponse builds a response from a filter-issued local
// response. details, when non-empty, replaces the standard reason
// phrase. The header set is fixed: content type, server identity,
// explicit close, content length.
func NewLocalResponse(code uint32, body []byte, details string) *Response {
	reason := details
	if reason == "" {
		reason = http.StatusText(int(code))
	}
	return &Response{
		Status: int(code),
		Reason: reason,
		Headers: []Header{
			{"Content-Type", "text/plain; charset=utf-8"},
			{"Server", serverName},
			{"Connection", "close"},
		},
		Body: body,
	}
}

// NewDiagnosticResponse builds the default 200 response echoing the
// request line and listing the currently loaded module names.
func NewDiagnosticResponse(req *Request, modules []string) *Response {
	var b strings.Builder
	b.WriteString(serverName + " request summary\n\n")
	b.WriteString("method: " + req.Method + "\n")
	b.WriteString("path: " + req.Path + "\n")
	b.WriteString("version: " + req.Proto + "\n\n")
	b.WriteString("loaded modules (" + strconv.Itoa(len(modules)) + "):\n")
	for _, name := range modules {
		b.WriteString("  " + name + "\n")
	}

	return &Response{
		Status: http.StatusOK,
		Reason: http.StatusText(http.StatusOK),
		Headers: []Header{
			{"Content-Type", "text/plain; charset=utf-8"},
			{"Server", serverName},
			{"Connection", "close"},
		},
		Body: []byte(b.String()),
	}
}

// Bytes serializes the response. Content-Length is appended from the
// body so callers never set it themselves.
func (r *Response) Bytes() []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(r.Status))
	if r.Reason != "" {
		b.WriteString(" " + r.Reason)
	}
	b.WriteString("\r\n")
	for _, h := range r.Headers {
		b.WriteString(h.Name + ": " + h.Value + "\r\n")
	}
	b.WriteString("Content-Length: " + strconv.Itoa(len(r.Body)) + "\r\n\r\n")

	out := make([]byte, 0, b.Len()+len(r.Body))
	out = append(out, b.String()...)
	out = append(out, r.Body...)
	return out
}
