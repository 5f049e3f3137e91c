package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrTransport matches every error returned by Channel.
var ErrTransport = errors.New("transport error")

// Error is a failed send or receive.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrTransport
}

// Channel is a pair of datagram endpoints: one bound locally for receiving,
// one connected to the peer for sending.
type Channel struct {
	recv         *net.UDPConn
	send         *net.UDPConn
	readTimeout  time.Duration
	writeTimeout time.Duration
	sockBuf      int
	errorHandler func(error)
}

type Option func(*Channel)

// WithReadTimeout bounds each ReceiveInto. Zero, the default, blocks forever.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithSocketBuffer sets the kernel receive and send buffer sizes.
func WithSocketBuffer(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.sockBuf = n
		}
	}
}

func WithErrorHandler(fn func(error)) Option {
	return func(c *Channel) {
		if fn != nil {
			c.errorHandler = fn
		}
	}
}

// Open binds listenAddr and connects to peerAddr.
func Open(listenAddr, peerAddr string, opts ...Option) (*Channel, error) {
	c := &Channel{}
	for _, opt := range opts {
		opt(c)
	}

	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, &Error{Op: "resolve", Err: err}
	}
	raddr, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, &Error{Op: "resolve", Err: err}
	}

	recv, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, &Error{Op: "listen", Err: err}
	}
	send, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		_ = recv.Close()
		return nil, &Error{Op: "dial", Err: err}
	}
	if c.sockBuf > 0 {
		_ = recv.SetReadBuffer(c.sockBuf)
		_ = send.SetWriteBuffer(c.sockBuf)
	}

	c.recv = recv
	c.send = send
	return c, nil
}

// ReceiveInto blocks for one datagram and copies at most len(buf) bytes of it.
// A datagram larger than buf arrives cut short; decoding reports that.
func (c *Channel) ReceiveInto(buf []byte) (int, error) {
	if c.readTimeout > 0 {
		_ = c.recv.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	n, _, err := c.recv.ReadFromUDP(buf)
	if err != nil {
		return 0, c.fail("receive", err)
	}
	return n, nil
}

// Send writes b as exactly one datagram. A short write is an error.
func (c *Channel) Send(b []byte) error {
	if c.writeTimeout > 0 {
		_ = c.send.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	n, err := c.send.Write(b)
	if err != nil {
		return c.fail("send", err)
	}
	if n != len(b) {
		return c.fail("send", fmt.Errorf("%w: wrote %d of %d bytes", io.ErrShortWrite, n, len(b)))
	}
	return nil
}

// LocalAddr is the bound receive address.
func (c *Channel) LocalAddr() net.Addr {
	return c.recv.LocalAddr()
}

func (c *Channel) Close() error {
	errRecv := c.recv.Close()
	errSend := c.send.Close()
	return errors.Join(errRecv, errSend)
}

func (c *Channel) fail(op string, err error) error {
	terr := &Error{Op: op, Err: err}
	if c.errorHandler != nil {
		c.errorHandler(terr)
	}
	return terr
}
