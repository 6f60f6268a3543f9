// Package transport carries frames over a best-effort UDP socket.
//
// A Channel owns one local socket and sends to a single remote address that
// can be changed at runtime. Sends are fire-and-forget; a lost command frame is
// superseded by the next periodic send.
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// MaxDatagram is the receive buffer size. Larger datagrams are truncated by
// the kernel and fail to decode upstream.
const MaxDatagram = 2048

var (
	ErrNoRemote = errors.New("transport: no remote address")
	ErrClosed   = errors.New("transport: channel closed")
)

// Channel is one UDP socket bound to a local address.
type Channel struct {
	conn   *net.UDPConn
	remote atomic.Pointer[net.UDPAddr]
	closed atomic.Bool
	buf    []byte
}

// Open binds local (":0" or "" picks an ephemeral port) and targets remote.
// An empty remote is allowed; Send fails with ErrNoRemote until SetRemote is
// called.
func Open(local, remote string) (*Channel, error) {
	if local == "" {
		local = ":0"
	}
	laddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("resolve local %q: %w", local, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", local, err)
	}
	c := &Channel{conn: conn, buf: make([]byte, MaxDatagram)}
	if remote != "" {
		if err := c.SetRemote(remote); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return c, nil
}

// SetRemote redirects subsequent sends without reopening the socket.
func (c *Channel) SetRemote(addr string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve remote %q: %w", addr, err)
	}
	c.remote.Store(raddr)
	return nil
}

// Remote returns the current send target, or nil.
func (c *Channel) Remote() *net.UDPAddr {
	return c.remote.Load()
}

// LocalAddr returns the bound address, useful when Open picked the port.
func (c *Channel) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes one datagram to the remote address.
func (c *Channel) Send(b []byte) error {
	raddr := c.remote.Load()
	if raddr == nil {
		return ErrNoRemote
	}
	return c.SendTo(b, raddr)
}

// SendTo writes one datagram to addr regardless of the configured remote.
func (c *Channel) SendTo(b []byte, addr *net.UDPAddr) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if _, err := c.conn.WriteToUDP(b, addr); err != nil {
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	return nil
}

// TryReceive waits at most timeout for one datagram. A timeout returns
// (nil, false, nil). The returned slice is a copy owned by the caller.
func (c *Channel) TryReceive(timeout time.Duration) ([]byte, bool, error) {
	b, _, err := c.TryReceiveFrom(timeout)
	if err != nil || b == nil {
		return nil, false, err
	}
	return b, true, nil
}

// TryReceiveFrom is TryReceive that also reports the sender.
func (c *Channel) TryReceiveFrom(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	if c.closed.Load() {
		return nil, nil, ErrClosed
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, fmt.Errorf("set deadline: %w", err)
	}
	n, from, err := c.conn.ReadFromUDP(c.buf)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return nil, nil, nil
		case errors.Is(err, net.ErrClosed):
			return nil, nil, ErrClosed
		}
		return nil, nil, fmt.Errorf("receive: %w", err)
	}
	out := make([]byte, n)
	copy(out, c.buf[:n])
	return out, from, nil
}

// Close releases the socket. It is safe to call more than once.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
