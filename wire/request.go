package wire

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/lswasm/lswasm/errors"
)

// headerTerminator ends the request header section.
var headerTerminator = []byte("\r\n\r\n")

// Headers is a case-insensitive header mapping. Keys are stored
// lower-cased; on parse, the last occurrence of a name wins.
type Headers map[string]string

// Get returns the value for name, matching case-insensitively.
func (h Headers) Get(name string) string {
	return h[strings.ToLower(name)]
}

// Has reports whether name is present, matching case-insensitively.
func (h Headers) Has(name string) bool {
	_, ok := h[strings.ToLower(name)]
	return ok
}

// Request is a parsed HTTP/1.x request. Immutable once parsed.
type Request struct {
	Method  string
	Path    string
	Proto   string
	Headers Headers
	Body    []byte
}

// HasHeader reports whether the header terminator has been buffered.
// The event loop uses it to apply the size limit only to the header
// section.
func HasHeader(buf []byte) bool {
	return bytes.Contains(buf, headerTerminator)
}

// Complete reports whether buf holds one complete request: the header
// terminator has been seen and, when Content-Length is set, that many
// body bytes have been buffered. total is the byte length of the
// complete request within buf. A malformed Content-Length is an error.
func Complete(buf []byte) (total int, ok bool, err error) {
	idx := bytes.Index(buf, headerTerminator)
	if idx < 0 {
		return 0, false, nil
	}
	headerEnd := idx + len(headerTerminator)

	length, err := contentLength(buf[:headerEnd])
	if err != nil {
		return 0, false, err
	}

	total = headerEnd + length
	if len(buf) < total {
		return 0, false, nil
	}
	return total, true, nil
}

// Parse parses one complete request from buf. Body bytes beyond
// Content-Length are ignored.
func Parse(buf []byte) (*Request, error) {
	idx := bytes.Index(buf, headerTerminator)
	if idx < 0 {
		return nil, errors.MalformedRequest("missing header terminator")
	}
	head := string(buf[:idx])
	bodyStart := idx + len(headerTerminator)

	lines := strings.Split(head, "\r\n")
	req := &Request{Headers: make(Headers)}

	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return nil, errors.MalformedRequest("request line missing method or path")
	}
	req.Method = fields[0]
	req.Path = fields[1]
	if len(fields) >= 3 {
		req.Proto = fields[2]
	} else {
		req.Proto = "HTTP/1.0"
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found || name == "" {
			return nil, errors.MalformedRequest("header line missing colon")
		}
		// last occurrence wins
		req.Headers[strings.ToLower(name)] = strings.Trim(value, " \t")
	}

	if cl := req.Headers.Get("Content-Length"); cl != "" {
		length, err := strconv.Atoi(cl)
		if err != nil || length < 0 {
			return nil, errors.MalformedRequest("invalid Content-Length")
		}
		if len(buf)-bodyStart < length {
			return nil, errors.MalformedRequest("truncated body")
		}
		req.Body = buf[bodyStart : bodyStart+length]
	}

	return req, nil
}

// contentLength scans the raw header section for Content-Length without
// a full parse. The loop uses it to decide when a request is complete.
func contentLength(head []byte) (int, error) {
	length := 0
	for _, line := range bytes.Split(head, []byte("\r\n")) {
		name, value, found := bytes.Cut(line, []byte(":"))
		if !found {
			continue
		}
		if !strings.EqualFold(string(bytes.TrimSpace(name)), "Content-Length") {
			continue
		}
		// last occurrence wins, matching Parse
		n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil || n < 0 {
			return 0, errors.MalformedRequest("invalid Content-Length")
		}
		length = n
	}
	return length, nil
}
