package sip

import (
	"io"
	"strings"
)

// Message is one SIP datagram decoded into its CRLF-separated lines.
// Element 0 is the start-line, the first empty element marks the
// header/body boundary. Lines keep their original order; transformations
// work on the line sequence directly.
type Message struct {
	Lines []string

	// This is for internal routing
	src string
}

// Decode splits a UDP payload on CRLF, preserving empty separators.
// The body is not interpreted.
func Decode(data []byte) *Message {
	return &Message{Lines: strings.Split(string(data), "\r\n")}
}

// StartLine returns the message start line.
func (m *Message) StartLine() string {
	if len(m.Lines) == 0 {
		return ""
	}
	return m.Lines[0]
}

// IsRequest reports whether the start-line matches the request grammar
// METHOD sip:TARGET SIP/2.0.
func (m *Message) IsRequest() bool {
	return rxRequestLine.MatchString(m.StartLine())
}

// IsResponse reports whether the start-line matches the status grammar
// SIP/2.0 CODE REASON.
func (m *Message) IsResponse() bool {
	return rxStatusLine.MatchString(m.StartLine())
}

// Method returns the request method, or "" for responses and non-SIP data.
func (m *Message) Method() RequestMethod {
	md := rxRequestLine.FindStringSubmatch(m.StartLine())
	if md == nil {
		return ""
	}
	return RequestMethod(md[1])
}

// RequestTarget returns the user@host part of the Request-URI, or "" for
// responses and non-SIP data.
func (m *Message) RequestTarget() string {
	md := rxRequestLine.FindStringSubmatch(m.StartLine())
	if md == nil {
		return ""
	}
	return md[2]
}

// StatusCode returns the response code token, or "" for requests.
func (m *Message) StatusCode() string {
	md := rxStatusLine.FindStringSubmatch(m.StartLine())
	if md == nil {
		return ""
	}
	return md[1]
}

// String returns the wire form of the message in RFC 3261 CRLF framing.
func (m *Message) String() string {
	sb := &strings.Builder{}
	m.StringWrite(sb)
	return sb.String()
}

// StringWrite is same as String but lets you provide writer and reduce
// allocations. Encoding is the exact inverse of Decode: lines joined by
// CRLF, nothing added or removed, so forwarding preserves framing
// byte for byte.
func (m *Message) StringWrite(w io.StringWriter) {
	for i, line := range m.Lines {
		if i > 0 {
			w.WriteString("\r\n")
		}
		w.WriteString(line)
	}
}

// Bytes encodes the message for a datagram send.
func (m *Message) Bytes() []byte {
	return []byte(m.String())
}

// Short returns short string info about message. Used only for logging.
func (m *Message) Short() string {
	return m.StartLine()
}

func (m *Message) Source() string {
	return m.src
}

func (m *Message) SetSource(src string) {
	m.src = src
}
