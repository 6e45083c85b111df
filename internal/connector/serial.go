package connector

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialConnector frames messages over a SerialPorter.
type SerialConnector struct {
	port    SerialPorter
	framer  Framer
	timeout time.Duration

	// pending holds bytes received after the last complete frame.
	pending []byte

	closeOnce sync.Once
	closeErr  error
}

// NewSerialConnector wraps an already open port. A zero timeout selects
// DefaultTimeout.
func NewSerialConnector(port SerialPorter, framer Framer, timeout time.Duration) (*SerialConnector, error) {
	c := &SerialConnector{port: port, framer: framer}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := c.SetTimeout(timeout); err != nil {
		return nil, err
	}
	return c, nil
}

// OpenSerial opens the serial port at path with go.bug.st/serial.
func OpenSerial(path string, opts PortOptions, framer Framer, timeout time.Duration) (*SerialConnector, error) {
	if path == "" {
		return nil, errors.New("serial port path must be set")
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	c, err := NewSerialConnector(port, framer, timeout)
	if err != nil {
		port.Close()
		return nil, err
	}
	return c, nil
}

func (c *SerialConnector) Send(msg []byte, clearBuffer bool) error {
	if clearBuffer {
		if err := c.ClearBuffer(); err != nil {
			return err
		}
	}
	frame := c.framer.Wrap(msg)
	n, err := c.port.Write(frame)
	if err != nil {
		return fmt.Errorf("write %q: %w", msg, err)
	}
	if n != len(frame) {
		return ErrWriteFailed
	}
	return nil
}

func (c *SerialConnector) Read() ([]byte, error) {
	buf := c.pending
	c.pending = nil

	deadline := time.Now().Add(c.timeout)
	chunk := make([]byte, 256)
	for {
		if frame, rest, ok := c.framer.split(buf); ok {
			if len(rest) > 0 {
				c.pending = append([]byte(nil), rest...)
			}
			return c.framer.Unwrap(frame)
		}

		n, err := c.port.Read(chunk)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			break
		}
		buf = append(buf, chunk[:n]...)
		if !time.Now().Before(deadline) {
			if frame, rest, ok := c.framer.split(buf); ok {
				if len(rest) > 0 {
					c.pending = append([]byte(nil), rest...)
				}
				return c.framer.Unwrap(frame)
			}
			break
		}
	}
	// Without an end marker only a partial frame can be here.
	return c.framer.Unwrap(buf)
}

func (c *SerialConnector) ClearBuffer() error {
	c.pending = nil
	if err := c.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}
	return nil
}

func (c *SerialConnector) SetTimeout(d time.Duration) error {
	if err := c.port.SetReadTimeout(d); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}
	c.timeout = d
	return nil
}

func (c *SerialConnector) Timeout() time.Duration { return c.timeout }

// Close releases the port. It is safe to call more than once.
func (c *SerialConnector) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.port.Close()
	})
	return c.closeErr
}
