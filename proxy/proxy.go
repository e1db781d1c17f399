// Package proxy implements the stateless SIP proxy core: method dispatch,
// via stack transformation, registrar-driven forwarding and locally
// generated responses.
package proxy

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/okasova/siproxy/registry"
	"github.com/okasova/siproxy/sip"
)

// Canned status lines. The reason phrases are the ones common user agents
// were observed to accept.
const (
	StatusOK                  = "200 Everything is fine"
	StatusBadRequest          = "400 Bad Request"
	StatusNotAcceptable       = "406 Not Acceptable"
	StatusUnavailable         = "480 Temporarily Unavailable"
	StatusServerInternalError = "500 Server Internal Error"
)

// localTag is appended to the To header of locally generated responses.
// Fixed on purpose: user agents only require some tag on a non-100
// response, and nothing downstream ever matches on its value.
const localTag = "123456"

type Options struct {
	// IP and Port are the advertised proxy address, baked into the
	// Record-Route and top Via literals at construction.
	IP   string
	Port int

	Registry *registry.Registry
	Diary    *Diary
	Metrics  *Metrics
	Logger   zerolog.Logger
}

// Proxy is the per-process proxy state: the two header literals, the
// shared registrar and the sinks for diary, metrics and logs. Datagram
// handling itself is stateless; every packet travels as a value.
type Proxy struct {
	reg     *registry.Registry
	diary   *Diary
	metrics *Metrics
	log     zerolog.Logger

	topVia      string
	recordRoute string

	now func() time.Time
}

func New(opts Options) *Proxy {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if opts.Diary == nil {
		opts.Diary = NewDiary("phoneCallDiary.txt")
	}
	return &Proxy{
		reg:         opts.Registry,
		diary:       opts.Diary,
		metrics:     opts.Metrics,
		log:         opts.Logger.With().Str("caller", "Proxy").Logger(),
		topVia:      fmt.Sprintf("Via: SIP/2.0/UDP %s:%d", opts.IP, opts.Port),
		recordRoute: fmt.Sprintf("Record-Route: <sip:%s:%d;lr>", opts.IP, opts.Port),
		now:         time.Now,
	}
}

// TopVia returns the literal Via prefix the proxy stamps on forwarded
// requests.
func (p *Proxy) TopVia() string { return p.topVia }

// RecordRoute returns the literal Record-Route header the proxy inserts.
func (p *Proxy) RecordRoute() string { return p.recordRoute }

// SetClock replaces the wall clock used for registration expiry. Tests
// only.
func (p *Proxy) SetClock(now func() time.Time) { p.now = now }

// packet is one datagram in flight: the decoded message, the socket it
// arrived through and its source address.
type packet struct {
	msg  *sip.Message
	conn net.PacketConn
	src  *net.UDPAddr
	log  zerolog.Logger
}

// HandlePacket classifies one datagram and runs the matching handler.
// Safe for concurrent use; the registrar is the only shared state.
func (p *Proxy) HandlePacket(data []byte, conn net.PacketConn, src *net.UDPAddr) {
	if len(data) <= 4 && len(bytes.Trim(data, "\r\n")) == 0 {
		// Keep alive CRLF, not worth a log line
		return
	}

	msg := sip.Decode(data)
	msg.SetSource(src.String())

	if !msg.IsRequest() && !msg.IsResponse() {
		p.dropNonSIP(data)
		return
	}

	log := p.log.With().Str("msgid", string(sip.NextMessageID())).Logger()
	log.Info().Msgf(">>> %s", msg.StartLine())
	log.Debug().Str("src", src.String()).Msgf("---\n>> server received [%d]:\n%s\n---", len(data), data)

	pkt := packet{msg: msg, conn: conn, src: src, log: log}

	if msg.IsResponse() {
		p.metrics.Received.WithLabelValues("response").Inc()
		p.handleResponse(pkt)
		return
	}

	method := msg.Method()
	p.metrics.Received.WithLabelValues(method.String()).Inc()

	switch method {
	case sip.REGISTER:
		p.handleRegister(pkt)
	case sip.INVITE:
		p.handleInvite(pkt)
		p.recordDiary(p.diary.CallPlaced(origin(pkt.msg), destination(pkt.msg)), pkt)
	case sip.ACK:
		p.handleAck(pkt)
		p.recordDiary(p.diary.CallAnswered(), pkt)
	case sip.BYE:
		p.handleNonInvite(pkt)
		p.recordDiary(p.diary.CallEnded(), pkt)
	case sip.CANCEL, sip.OPTIONS, sip.INFO, sip.MESSAGE, sip.REFER, sip.PRACK, sip.UPDATE:
		p.handleNonInvite(pkt)
	case sip.SUBSCRIBE, sip.PUBLISH, sip.NOTIFY:
		p.respond(pkt, StatusOK)
	default:
		pkt.log.Error().Msgf("request_uri %s", msg.StartLine())
		p.metrics.Dropped.Inc()
	}
}

// dropNonSIP logs a hex dump of anything longer than 4 bytes that does
// not parse as SIP. Shorter garbage is ignored silently.
func (p *Proxy) dropNonSIP(data []byte) {
	p.metrics.Dropped.Inc()
	if len(data) <= 4 {
		return
	}
	p.log.Warn().Msgf("---\n>> server received [%d]:\n%s---", len(data), hex.Dump(data))
}

func (p *Proxy) handleRegister(pkt packet) {
	ri := pkt.msg.RegisterInfo()
	expires, err := ri.Expires()
	if err != nil {
		pkt.log.Warn().Err(err).Msg("unparseable expires, treating as deregistration")
		expires = 0
	}

	if expires == 0 {
		p.reg.Unregister(ri.AOR)
		p.metrics.Registrations.Set(float64(p.reg.Len()))
		p.respond(pkt, StatusOK)
		return
	}

	pkt.log.Info().Msgf("From: %s - Contact: %s", ri.AOR, ri.Contact)
	pkt.log.Debug().Str("client", pkt.src.String()).Int("expires", expires).Msg("registration update")

	p.reg.Register(ri.AOR, registry.Binding{
		Contact:   ri.Contact,
		Conn:      pkt.conn,
		Addr:      pkt.src,
		ExpiresAt: p.now().Add(time.Duration(expires) * time.Second),
	})
	p.metrics.Registrations.Set(float64(p.reg.Len()))
	p.debugRegistrar(pkt.log)
	p.respond(pkt, StatusOK)
}

func (p *Proxy) debugRegistrar(log zerolog.Logger) {
	log.Debug().Msg("*** REGISTRAR ***")
	for aor, contact := range p.reg.Snapshot() {
		log.Debug().Msgf("%s -> %s", aor, contact)
	}
	log.Debug().Msg("*****************")
}

func (p *Proxy) handleInvite(pkt packet) {
	p.forwardRequest(pkt, StatusUnavailable)
}

func (p *Proxy) handleNonInvite(pkt packet) {
	p.forwardRequest(pkt, StatusNotAcceptable)
}

// forwardRequest runs the origin/destination checks and relays the
// request to the destination's registered transport. unavailable is the
// status sent when the destination has no live registration.
func (p *Proxy) forwardRequest(pkt packet, unavailable string) {
	orig, ok := pkt.msg.Origin()
	if !ok || !p.reg.Contains(orig) {
		p.respond(pkt, StatusBadRequest)
		return
	}

	dest, ok := pkt.msg.Destination()
	if !ok {
		p.respond(pkt, StatusServerInternalError)
		return
	}
	pkt.log.Info().Msgf("destination %s", dest)

	b, ok := p.reg.Lookup(dest)
	if !ok {
		p.respond(pkt, unavailable)
		return
	}
	p.relay(pkt, b)
}

// handleAck forwards like any other request but runs no origin check and
// never provokes a response: an ACK toward an unknown destination simply
// disappears.
func (p *Proxy) handleAck(pkt packet) {
	dest, ok := pkt.msg.Destination()
	if !ok {
		p.metrics.Dropped.Inc()
		return
	}
	pkt.log.Info().Msgf("destination %s", dest)

	b, ok := p.reg.Lookup(dest)
	if !ok {
		p.metrics.Dropped.Inc()
		return
	}
	p.relay(pkt, b)
}

// relay transforms a request for its next hop and sends it through the
// destination's registered transport. The Request-URI is left untouched;
// downstream endpoints must accept the original URI.
func (p *Proxy) relay(pkt packet, b registry.Binding) {
	AddTopVia(pkt.msg, p.topVia, pkt.src.IP.String(), pkt.src.Port)
	StripRoute(pkt.msg)

	lines := make([]string, 0, len(pkt.msg.Lines)+1)
	lines = append(lines, pkt.msg.Lines[0], p.recordRoute)
	lines = append(lines, pkt.msg.Lines[1:]...)
	pkt.msg.Lines = lines

	p.send(pkt.log, pkt.msg, b.Conn, b.Addr)
	p.metrics.Forwarded.Inc()
}

// handleResponse folds the proxy out of the via stack and routes the
// response by the From AOR, which on a response names the original
// caller.
func (p *Proxy) handleResponse(pkt packet) {
	orig, ok := pkt.msg.Origin()
	if !ok {
		p.metrics.Dropped.Inc()
		return
	}
	pkt.log.Debug().Msgf("origin %s", orig)

	b, ok := p.reg.Lookup(orig)
	if !ok {
		p.metrics.Dropped.Inc()
		return
	}

	StripRoute(pkt.msg)
	RemoveTopVia(pkt.msg, p.topVia)
	p.send(pkt.log, pkt.msg, b.Conn, b.Addr)
	p.metrics.Forwarded.Inc()
}

// respond rewrites the incoming message into a locally generated response
// and returns it straight to the client. Headers past the blank separator
// are discarded along with the body; Content-Length is forced to zero.
func (p *Proxy) respond(pkt packet, status string) {
	srcIP := pkt.src.IP.String()
	tagged := false

	lines := make([]string, 0, len(pkt.msg.Lines)+1)
	lines = append(lines, "SIP/2.0 "+status)
	for _, line := range pkt.msg.Lines[1:] {
		switch {
		case sip.IsTo(line) && !tagged && !sip.HasTag(line):
			line = line + ";tag=" + localTag
			tagged = true
		case sip.IsVia(line):
			if sip.HasRport(line) {
				line = annotateRport(line, srcIP, pkt.src.Port)
			} else {
				line = line + ";received=" + srcIP
			}
		default:
			if long, compact := sip.IsContentLength(line); long {
				line = "Content-Length: 0"
			} else if compact {
				line = "l: 0"
			}
		}
		lines = append(lines, line)
		if line == "" {
			break
		}
	}
	lines = append(lines, "")

	out := &sip.Message{Lines: lines}
	p.send(pkt.log, out, pkt.conn, pkt.src)
	p.metrics.LocalReplies.WithLabelValues(status[:3]).Inc()
}

// send encodes and writes one message. Write errors are logged and
// dropped; a dead peer must not take the listener with it.
func (p *Proxy) send(log zerolog.Logger, msg *sip.Message, conn net.PacketConn, addr net.Addr) {
	data := msg.Bytes()
	if _, err := conn.WriteTo(data, addr); err != nil {
		log.Error().Err(err).Str("raddr", addr.String()).Msg("send failed")
		return
	}
	log.Info().Msgf("<<< %s", msg.StartLine())
	log.Debug().Msgf("---\n<< server send [%d]:\n%s\n---", len(data), data)
}

func (p *Proxy) recordDiary(err error, pkt packet) {
	if err != nil {
		pkt.log.Error().Err(err).Msg("call diary write failed")
	}
}

func origin(msg *sip.Message) string {
	aor, _ := msg.Origin()
	return aor
}

func destination(msg *sip.Message) string {
	aor, _ := msg.Destination()
	return aor
}
