// Package transport owns the proxy's UDP listener.
package transport

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
)

// Datagrams above this size do not arrive over plain UDP.
const bufferReadSize = 65535

// Handler receives one datagram, the socket it arrived on and its source
// address. The socket handed over is the listener's own, so replies and
// registrations both ride the same transport.
type Handler func(data []byte, conn net.PacketConn, src *net.UDPAddr)

// UDP is the single listening socket. It lives from startup to process
// exit.
type UDP struct {
	conn *net.UDPConn
	log  zerolog.Logger
}

// Listen binds the UDP socket. A failure here aborts startup.
func Listen(addr string, log zerolog.Logger) (*UDP, error) {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen addr %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return &UDP{
		conn: conn,
		log:  log.With().Str("caller", "UDP").Logger(),
	}, nil
}

// Conn exposes the listener socket; registrations store it as the reply
// handle.
func (t *UDP) Conn() net.PacketConn { return t.conn }

// LocalAddr returns the bound address.
func (t *UDP) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Serve reads datagrams until the socket closes and hands each one to
// handler on its own goroutine. Handlers run in parallel; ordering
// between datagrams is whatever the socket delivers.
func (t *UDP) Serve(handler Handler) error {
	t.log.Debug().Str("addr", t.conn.LocalAddr().String()).Msg("begin listening")

	buf := make([]byte, bufferReadSize)
	for {
		num, raddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				t.log.Debug().Err(err).Msg("read connection closed")
				return nil
			}
			t.log.Error().Err(err).Msg("read connection error")
			return err
		}

		// The read buffer is reused, handlers get their own copy.
		data := make([]byte, num)
		copy(data, buf[:num])
		go handler(data, t.conn, raddr)
	}
}

// Close releases the socket, unblocking Serve.
func (t *UDP) Close() error {
	return t.conn.Close()
}
