package proxy

import (
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okasova/siproxy/fakes"
	"github.com/okasova/siproxy/registry"
	"github.com/okasova/siproxy/sip"
)

var (
	aliceAddr = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5060}
	bobAddr   = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5062}
)

func newTestProxy(t *testing.T) (*Proxy, *registry.Registry, *fakes.UDPConn) {
	t.Helper()
	reg := registry.New(zerolog.Nop())
	p := New(Options{
		IP:       "198.51.100.1",
		Port:     5060,
		Registry: reg,
		Diary:    NewDiary(filepath.Join(t.TempDir(), "phoneCallDiary.txt")),
		Logger:   zerolog.Nop(),
	})
	return p, reg, &fakes.UDPConn{LAddr: net.UDPAddr{IP: net.IPv4(198, 51, 100, 1), Port: 5060}}
}

func registerMsg(aor, contact string, expires string) string {
	return "REGISTER sip:proxy SIP/2.0\r\n" +
		"To: <sip:" + aor + ">\r\n" +
		"Contact: <sip:" + contact + ">;expires=" + expires + "\r\n" +
		"Content-Length: 0\r\n\r\n"
}

func doRegister(t *testing.T, p *Proxy, conn *fakes.UDPConn, src *net.UDPAddr, aor, contact string) {
	t.Helper()
	p.HandlePacket([]byte(registerMsg(aor, contact, "3600")), conn, src)
	reply := sip.Decode(conn.TestLastSent(t).Data)
	require.Equal(t, "SIP/2.0 200 Everything is fine", reply.StartLine())
}

func inviteMsg(from, to string) string {
	return "INVITE sip:" + to + " SIP/2.0\r\n" +
		"From: <sip:" + from + ">\r\n" +
		"To: <sip:" + to + ">\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc;rport\r\n" +
		"Content-Length: 0\r\n\r\n"
}

// S1: register, deregister, then the AOR is gone.
func TestRegisterThenDeregister(t *testing.T) {
	p, reg, conn := newTestProxy(t)

	p.HandlePacket([]byte(registerMsg("alice@example.com", "alice@10.0.0.1:5060", "3600")), conn, aliceAddr)
	sent := conn.TestLastSent(t)
	reply := sip.Decode(sent.Data)
	require.Equal(t, "SIP/2.0 200 Everything is fine", reply.StartLine())
	assert.Equal(t, aliceAddr, sent.Addr)

	// the 200 carries a tag on To
	for _, line := range reply.Lines {
		if sip.IsTo(line) {
			assert.Contains(t, line, ";tag=123456")
		}
	}
	require.True(t, reg.Valid("alice@example.com"))

	// zero expires removes the entry
	p.HandlePacket([]byte(registerMsg("alice@example.com", "alice@10.0.0.1:5060", "0")), conn, aliceAddr)
	reply = sip.Decode(conn.TestLastSent(t).Data)
	require.Equal(t, "SIP/2.0 200 Everything is fine", reply.StartLine())
	assert.False(t, reg.Contains("alice@example.com"))

	// an INVITE from a registered caller now gets 480
	doRegister(t, p, conn, bobAddr, "bob@example.com", "bob@10.0.0.2:5062")
	p.HandlePacket([]byte(inviteMsg("bob@example.com", "alice@example.com")), conn, bobAddr)
	reply = sip.Decode(conn.TestLastSent(t).Data)
	assert.Equal(t, "SIP/2.0 480 Temporarily Unavailable", reply.StartLine())
}

// S2: INVITE whose From is not registered bounces with 400.
func TestInviteUnknownOrigin(t *testing.T) {
	p, _, conn := newTestProxy(t)

	p.HandlePacket([]byte(inviteMsg("alice@example.com", "bob@example.com")), conn, aliceAddr)
	sent := conn.TestLastSent(t)
	reply := sip.Decode(sent.Data)
	require.Equal(t, "SIP/2.0 400 Bad Request", reply.StartLine())
	assert.Equal(t, aliceAddr, sent.Addr)
}

// Locally generated responses carry a To tag, an annotated Via and a
// zeroed Content-Length.
func TestLocalResponseProperties(t *testing.T) {
	p, _, conn := newTestProxy(t)

	p.HandlePacket([]byte(inviteMsg("alice@example.com", "bob@example.com")), conn, aliceAddr)
	reply := sip.Decode(conn.TestLastSent(t).Data)

	var sawTo, sawVia, sawCLen bool
	for _, line := range reply.Lines {
		switch {
		case sip.IsTo(line):
			sawTo = true
			assert.Contains(t, line, ";tag=123456")
		case sip.IsVia(line):
			sawVia = true
			assert.Contains(t, line, "received=10.0.0.1")
			assert.Contains(t, line, "rport=5060")
		default:
			if long, _ := sip.IsContentLength(line); long {
				sawCLen = true
				assert.Equal(t, "Content-Length: 0", line)
			}
		}
	}
	assert.True(t, sawTo)
	assert.True(t, sawVia)
	assert.True(t, sawCLen)

	// wire framing ends on a blank line
	assert.True(t, strings.HasSuffix(string(conn.TestLastSent(t).Data), "\r\n\r\n"))
}

// S3: happy path INVITE between two registered parties.
func TestInviteForwarded(t *testing.T) {
	p, _, conn := newTestProxy(t)
	doRegister(t, p, conn, aliceAddr, "alice@example.com", "alice@10.0.0.1:5060")
	doRegister(t, p, conn, bobAddr, "bob@example.com", "bob@10.0.0.2:5062")

	p.HandlePacket([]byte(inviteMsg("alice@example.com", "bob@example.com")), conn, aliceAddr)

	sent := conn.TestLastSent(t)
	assert.Equal(t, bobAddr, sent.Addr)

	fwd := sip.Decode(sent.Data)
	require.Equal(t, "INVITE sip:bob@example.com SIP/2.0", fwd.Lines[0])
	require.Equal(t, "Record-Route: <sip:198.51.100.1:5060;lr>", fwd.Lines[1])

	var vias []string
	for _, line := range fwd.Lines {
		if sip.IsVia(line) {
			vias = append(vias, line)
		}
		assert.False(t, sip.IsRoute(line))
	}
	require.Len(t, vias, 2)
	assert.Equal(t, "Via: SIP/2.0/UDP 198.51.100.1:5060;branch=z9hG4bKabcm", vias[0])
	assert.Equal(t, "Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc;received=10.0.0.1;rport=5060", vias[1])
}

// S4: the 200 OK folds back through the proxy, shedding its Via and any
// Route headers.
func TestResponseFolding(t *testing.T) {
	p, _, conn := newTestProxy(t)
	doRegister(t, p, conn, aliceAddr, "alice@example.com", "alice@10.0.0.1:5060")
	doRegister(t, p, conn, bobAddr, "bob@example.com", "bob@10.0.0.2:5062")

	response := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP 198.51.100.1:5060;branch=z9hG4bKabcm\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc;received=10.0.0.1;rport=5060\r\n" +
		"Route: <sip:198.51.100.1:5060;lr>\r\n" +
		"From: <sip:alice@example.com>;tag=88\r\n" +
		"To: <sip:bob@example.com>;tag=99\r\n" +
		"Content-Length: 0\r\n\r\n"
	p.HandlePacket([]byte(response), conn, bobAddr)

	sent := conn.TestLastSent(t)
	assert.Equal(t, aliceAddr, sent.Addr)

	fwd := sip.Decode(sent.Data)
	var vias []string
	for _, line := range fwd.Lines {
		if sip.IsVia(line) {
			vias = append(vias, line)
		}
		assert.False(t, sip.IsRoute(line))
		assert.False(t, strings.HasPrefix(line, "Via: SIP/2.0/UDP 198.51.100.1:5060"))
	}
	require.Len(t, vias, 1)
	assert.Equal(t, "Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc;received=10.0.0.1;rport=5060", vias[0])
}

// Responses whose From AOR is unknown disappear.
func TestResponseUnknownOriginDropped(t *testing.T) {
	p, _, conn := newTestProxy(t)
	p.HandlePacket([]byte("SIP/2.0 200 OK\r\nFrom: <sip:ghost@example.com>\r\n\r\n"), conn, bobAddr)
	assert.Empty(t, conn.Sent())
}

// S5: ACK toward an unknown destination never provokes a response.
func TestAckSilentDrop(t *testing.T) {
	p, _, conn := newTestProxy(t)
	p.HandlePacket([]byte("ACK sip:bob@example.com SIP/2.0\r\nTo: <sip:bob@example.com>\r\n\r\n"), conn, aliceAddr)
	assert.Empty(t, conn.Sent())
}

func TestAckForwarded(t *testing.T) {
	p, _, conn := newTestProxy(t)
	doRegister(t, p, conn, bobAddr, "bob@example.com", "bob@10.0.0.2:5062")

	// no origin check for ACK, alice is not registered
	ack := "ACK sip:bob@example.com SIP/2.0\r\n" +
		"From: <sip:alice@example.com>\r\n" +
		"To: <sip:bob@example.com>\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc\r\n\r\n"
	p.HandlePacket([]byte(ack), conn, aliceAddr)

	sent := conn.TestLastSent(t)
	assert.Equal(t, bobAddr, sent.Addr)
	fwd := sip.Decode(sent.Data)
	assert.Equal(t, "ACK sip:bob@example.com SIP/2.0", fwd.Lines[0])
	assert.Equal(t, "Record-Route: <sip:198.51.100.1:5060;lr>", fwd.Lines[1])
}

// S6: expiry observed at lookup evicts the entry and the caller sees 480.
func TestRegistrationExpiry(t *testing.T) {
	p, reg, conn := newTestProxy(t)

	now := time.Now()
	clock := func() time.Time { return now }
	p.SetClock(clock)
	reg.SetClock(clock)

	p.HandlePacket([]byte(registerMsg("alice@example.com", "alice@10.0.0.1:5060", "1")), conn, aliceAddr)
	doRegister(t, p, conn, bobAddr, "bob@example.com", "bob@10.0.0.2:5062")
	require.True(t, reg.Valid("alice@example.com"))

	now = now.Add(2 * time.Second)

	p.HandlePacket([]byte(inviteMsg("bob@example.com", "alice@example.com")), conn, bobAddr)
	reply := sip.Decode(conn.TestLastSent(t).Data)
	assert.Equal(t, "SIP/2.0 480 Temporarily Unavailable", reply.StartLine())
	assert.False(t, reg.Contains("alice@example.com"))
}

func TestNonInviteUnavailableIs406(t *testing.T) {
	p, _, conn := newTestProxy(t)
	doRegister(t, p, conn, aliceAddr, "alice@example.com", "alice@10.0.0.1:5060")

	msg := "MESSAGE sip:bob@example.com SIP/2.0\r\n" +
		"From: <sip:alice@example.com>\r\n" +
		"To: <sip:bob@example.com>\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKmsg\r\n\r\n"
	p.HandlePacket([]byte(msg), conn, aliceAddr)

	reply := sip.Decode(conn.TestLastSent(t).Data)
	assert.Equal(t, "SIP/2.0 406 Not Acceptable", reply.StartLine())
}

func TestMissingDestinationIs500(t *testing.T) {
	p, _, conn := newTestProxy(t)
	doRegister(t, p, conn, aliceAddr, "alice@example.com", "alice@10.0.0.1:5060")

	msg := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"From: <sip:alice@example.com>\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc\r\n\r\n"
	p.HandlePacket([]byte(msg), conn, aliceAddr)

	reply := sip.Decode(conn.TestLastSent(t).Data)
	assert.Equal(t, "SIP/2.0 500 Server Internal Error", reply.StartLine())
}

func TestSubscribeNotifyPublishAnsweredLocally(t *testing.T) {
	p, _, conn := newTestProxy(t)

	for _, method := range []string{"SUBSCRIBE", "PUBLISH", "NOTIFY"} {
		msg := method + " sip:bob@example.com SIP/2.0\r\n" +
			"To: <sip:bob@example.com>\r\n" +
			"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKsub\r\n\r\n"
		p.HandlePacket([]byte(msg), conn, aliceAddr)

		reply := sip.Decode(conn.TestLastSent(t).Data)
		assert.Equal(t, "SIP/2.0 200 Everything is fine", reply.StartLine(), method)
	}
	// nothing was forwarded anywhere
	for _, d := range conn.Sent() {
		assert.Equal(t, aliceAddr, d.Addr)
	}
}

func TestNonSIPDatagramDropped(t *testing.T) {
	p, _, conn := newTestProxy(t)
	p.HandlePacket([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"), conn, aliceAddr)
	p.HandlePacket([]byte("ab"), conn, aliceAddr)
	p.HandlePacket([]byte("\r\n\r\n"), conn, aliceAddr)
	assert.Empty(t, conn.Sent())
}
