package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// deadlineDialer dials connections whose every read and write must finish
// within timeout. It remembers the last connection so the session can
// close it without the protocol's help.
type deadlineDialer struct {
	dialer  net.Dialer
	timeout time.Duration
	conn    *deadlineConn
}

func newDeadlineDialer(timeout time.Duration) *deadlineDialer {
	return &deadlineDialer{
		dialer:  net.Dialer{Timeout: timeout},
		timeout: timeout,
	}
}

func (d *deadlineDialer) Dial(network, addr string) (net.Conn, error) {
	c, err := d.dialer.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	d.conn = &deadlineConn{Conn: c, timeout: d.timeout}
	return d.conn, nil
}

// deadlineConn bounds every write by timeout. Reads are bounded too
// unless the conn is idle: a client with a background reader marks the
// gaps between its commands idle so the reader may wait for the server.
type deadlineConn struct {
	net.Conn
	timeout time.Duration

	mu     sync.Mutex
	idle   bool
	broken error

	closeOnce sync.Once
	closeErr  error
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	if !c.idle {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			c.mu.Unlock()
			return 0, c.fail(err)
		}
	}
	c.mu.Unlock()
	n, err := c.Conn.Read(b)
	if err != nil {
		return n, c.fail(err)
	}
	return n, nil
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, c.fail(err)
	}
	n, err := c.Conn.Write(b)
	if err != nil {
		return n, c.fail(err)
	}
	return n, nil
}

// busy bounds reads until the returned function marks the conn idle
// again. A read already blocked picks up the deadline.
func (c *deadlineConn) busy() func() {
	c.mu.Lock()
	c.idle = false
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.idle = true
		_ = c.Conn.SetReadDeadline(time.Time{})
		c.mu.Unlock()
	}
}

func (c *deadlineConn) fail(err error) error {
	c.mu.Lock()
	if c.broken == nil {
		c.broken = err
	}
	c.mu.Unlock()
	return err
}

// failure returns the first error the byte stream reported, if any.
func (c *deadlineConn) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// Close closes the socket once; later calls return the first result.
func (c *deadlineConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

// isConnError reports whether err came from the byte stream rather than
// from a protocol reply.
func isConnError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
