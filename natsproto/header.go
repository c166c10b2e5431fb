package natsproto

import (
	"bytes"
	"strings"
)

const (
	headerLine = "NATS/1.0"

	// Request metadata carried on every task message and response.
	HeaderCorrelationID = "Correlation-Id"
	HeaderReplyTo       = "Reply-To"
)

// Header holds NATS message headers. Keys are case-sensitive as on the wire.
type Header map[string][]string

// Get returns the first value for key
func (h Header) Get(key string) string {
	if v := h[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Set replaces the values for key
func (h Header) Set(key, value string) {
	h[key] = []string{value}
}

func (h Header) encode(buf []byte) []byte {
	buf = append(buf, headerLine...)
	buf = append(buf, crlf...)
	for k, vs := range h {
		for _, v := range vs {
			buf = append(buf, k...)
			buf = append(buf, ": "...)
			buf = append(buf, v...)
			buf = append(buf, crlf...)
		}
	}
	return append(buf, crlf...)
}

// decodeHeader parses a header block. status is the optional code after the
// version on the first line, for example "100" for flow control or idle
// heartbeat messages.
func decodeHeader(block []byte) (Header, string, error) {
	lines := bytes.Split(bytes.TrimSuffix(block, []byte(crlf+crlf)), []byte(crlf))
	if len(lines) == 0 || !bytes.HasPrefix(lines[0], []byte(headerLine)) {
		return nil, "", ErrProtocol
	}

	status := ""
	if rest := strings.TrimSpace(string(lines[0][len(headerLine):])); rest != "" {
		status, _, _ = strings.Cut(rest, " ")
	}

	h := make(Header, len(lines)-1)
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		k, v, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			return nil, "", ErrProtocol
		}
		key := string(bytes.TrimSpace(k))
		h[key] = append(h[key], string(bytes.TrimSpace(v)))
	}
	return h, status, nil
}
