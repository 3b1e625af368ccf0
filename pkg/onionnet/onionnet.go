// Package onionnet carries fixed-size Sphinx packets over a KCP session,
// one write/read per packet with no length prefix (the packet size is
// already fixed, unlike kamune's conn.go framing which this package's
// single-writer and deadline discipline is otherwise grounded on).
package onionnet

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/ElMoorish/ComLock/pkg/sphinx"
)

// ErrConnClosed is returned by Send/Receive on an already-closed Conn.
var ErrConnClosed = errors.New("onionnet: connection already closed")

const (
	defaultReadDeadline  = 30 * time.Second
	defaultWriteDeadline = 10 * time.Second
)

// Conn wraps one KCP session carrying fixed-size Sphinx packets to a single
// peer. Per spec §5's "single writer task per peer", callers must not call
// Send from more than one goroutine concurrently — the mutex here only
// protects the closed flag, not the underlying session's own write
// ordering.
type Conn struct {
	mu      sync.Mutex
	session *kcp.UDPSession
	closed  bool
	readTO  time.Duration
	writeTO time.Duration
}

func newConn(session *kcp.UDPSession) *Conn {
	return &Conn{session: session, readTO: defaultReadDeadline, writeTO: defaultWriteDeadline}
}

// Dial opens a KCP session to a relay or peer address, ready to carry fixed
// size Sphinx packets.
func Dial(addr string) (*Conn, error) {
	session, err := kcp.DialWithOptions(addr, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("dialing kcp session: %w", err)
	}
	return newConn(session), nil
}

// Listener accepts incoming KCP sessions.
type Listener struct {
	listener *kcp.Listener
}

// Listen opens a KCP listener on addr.
func Listen(addr string) (*Listener, error) {
	l, err := kcp.ListenWithOptions(addr, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("listening kcp: %w", err)
	}
	return &Listener{listener: l}, nil
}

// Accept blocks for the next incoming session.
func (l *Listener) Accept() (*Conn, error) {
	session, err := l.listener.AcceptKCP()
	if err != nil {
		return nil, fmt.Errorf("accepting kcp session: %w", err)
	}
	return newConn(session), nil
}

// Close stops accepting new sessions.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Send writes one fixed-size Sphinx packet to the peer.
func (c *Conn) Send(pkt *sphinx.Packet) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}

	if err := c.session.SetWriteDeadline(time.Now().Add(c.writeTO)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}

	wire := pkt.Encode()
	n, err := c.session.Write(wire)
	if err != nil {
		return fmt.Errorf("writing packet: %w", err)
	}
	if n != len(wire) {
		return fmt.Errorf("onionnet: short write (%d of %d bytes)", n, len(wire))
	}
	return nil
}

// Receive reads exactly one fixed-size Sphinx packet from the peer.
func (c *Conn) Receive() (*sphinx.Packet, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrConnClosed
	}

	if err := c.session.SetReadDeadline(time.Now().Add(c.readTO)); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}

	buf := make([]byte, sphinx.PacketSize)
	if _, err := readFull(c.session, buf); err != nil {
		return nil, fmt.Errorf("reading packet: %w", err)
	}

	pkt, err := sphinx.Decode(buf)
	if err != nil {
		return nil, err
	}
	return pkt, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close closes the underlying KCP session.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.closed = true
	return c.session.Close()
}
