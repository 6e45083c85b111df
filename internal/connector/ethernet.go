package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// DefaultReplyDelay is how long ClearBuffer waits for a late reply before
// draining. SmarAct controllers answer within about 2 ms.
const DefaultReplyDelay = 2 * time.Millisecond

// EthernetConnector frames messages over a TCP connection.
type EthernetConnector struct {
	conn    net.Conn
	framer  Framer
	timeout time.Duration

	// ReplyDelay is slept before ClearBuffer drains the socket.
	ReplyDelay time.Duration

	pending []byte
}

// NewEthernetConnector wraps an established connection.
func NewEthernetConnector(conn net.Conn, framer Framer, timeout time.Duration) *EthernetConnector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &EthernetConnector{
		conn:       conn,
		framer:     framer,
		timeout:    timeout,
		ReplyDelay: DefaultReplyDelay,
	}
}

// DialEthernet connects to addr ("host:port").
func DialEthernet(ctx context.Context, addr string, framer Framer, timeout time.Duration) (*EthernetConnector, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewEthernetConnector(conn, framer, timeout), nil
}

func (c *EthernetConnector) Send(msg []byte, clearBuffer bool) error {
	if clearBuffer {
		if err := c.ClearBuffer(); err != nil {
			return err
		}
	}
	frame := c.framer.Wrap(msg)
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	n, err := c.conn.Write(frame)
	if err != nil {
		return fmt.Errorf("write %q: %w", msg, err)
	}
	if n != len(frame) {
		return ErrWriteFailed
	}
	return nil
}

func (c *EthernetConnector) Read() ([]byte, error) {
	buf := c.pending
	c.pending = nil

	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	chunk := make([]byte, 512)
	for {
		if frame, rest, ok := c.framer.split(buf); ok {
			if len(rest) > 0 {
				c.pending = append([]byte(nil), rest...)
			}
			return c.framer.Unwrap(frame)
		}
		n, err := c.conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			if isTimeout(err) {
				break
			}
			return nil, fmt.Errorf("read: %w", err)
		}
	}
	if frame, rest, ok := c.framer.split(buf); ok {
		if len(rest) > 0 {
			c.pending = append([]byte(nil), rest...)
		}
		return c.framer.Unwrap(frame)
	}
	return c.framer.Unwrap(buf)
}

// ClearBuffer waits out ReplyDelay and then discards everything that is
// immediately readable.
func (c *EthernetConnector) ClearBuffer() error {
	c.pending = nil
	if c.ReplyDelay > 0 {
		time.Sleep(c.ReplyDelay)
	}
	chunk := make([]byte, 512)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return err
		}
		n, err := c.conn.Read(chunk)
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return fmt.Errorf("drain: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
}

func (c *EthernetConnector) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("invalid timeout %v", d)
	}
	c.timeout = d
	return nil
}

func (c *EthernetConnector) Timeout() time.Duration { return c.timeout }

func (c *EthernetConnector) Close() error { return c.conn.Close() }

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
