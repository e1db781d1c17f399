package proxy

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/okasova/siproxy/fakes"
	"github.com/okasova/siproxy/registry"
	"github.com/okasova/siproxy/sip"
)

func TestRewriteRequestURI(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	reg.Register("bob@example.com", registry.Binding{
		Contact:   "10.0.0.2:5062",
		Conn:      &fakes.UDPConn{},
		Addr:      &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5062},
		ExpiresAt: time.Now().Add(time.Hour),
	})

	msg := sip.Decode([]byte("INVITE sip:bob@example.com SIP/2.0\r\nTo: <sip:bob@example.com>\r\n\r\n"))
	RewriteRequestURI(msg, reg)
	assert.Equal(t, "INVITE sip:10.0.0.2:5062 SIP/2.0", msg.Lines[0])
}

func TestRewriteRequestURIUnknownTarget(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	msg := sip.Decode([]byte("INVITE sip:bob@example.com SIP/2.0\r\n\r\n"))
	RewriteRequestURI(msg, reg)
	assert.Equal(t, "INVITE sip:bob@example.com SIP/2.0", msg.Lines[0])
}
