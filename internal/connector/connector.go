// Package connector provides framed, blocking byte transports to motor
// controllers. A Connector wraps outgoing payloads in the vendor's start and
// end markers and strips them from replies.
package connector

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrReplyFormat is returned when a received message has content but the
	// expected frame markers are missing.
	ErrReplyFormat = errors.New("malformed reply frame")

	ErrWriteFailed = fmt.Errorf("failed to write to controller transport")
)

// DefaultTimeout is the reply timeout used when none is configured.
const DefaultTimeout = 200 * time.Millisecond

// Connector is a half-duplex framed transport. All methods block and no
// method starts a goroutine.
type Connector interface {
	// Send frames msg and writes it, discarding unread input first when
	// clearBuffer is set.
	Send(msg []byte, clearBuffer bool) error
	// Read waits up to the timeout for one complete frame. A timeout is not
	// an error: Read returns a nil payload and a nil error.
	Read() ([]byte, error)
	// ClearBuffer discards any bytes received but not yet read.
	ClearBuffer() error
	SetTimeout(d time.Duration) error
	Timeout() time.Duration
	Close() error
}

// Framer wraps and unwraps messages with fixed start and end markers. Either
// marker may be empty.
type Framer struct {
	Begin []byte
	End   []byte
}

// Wrap returns Begin‖payload‖End.
func (f Framer) Wrap(payload []byte) []byte {
	out := make([]byte, 0, len(f.Begin)+len(payload)+len(f.End))
	out = append(out, f.Begin...)
	out = append(out, payload...)
	return append(out, f.End...)
}

// Unwrap strips both markers from raw. An empty raw buffer yields a nil
// payload and a nil error.
func (f Framer) Unwrap(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	payload := raw
	if len(f.Begin) > 0 {
		if !bytes.HasPrefix(payload, f.Begin) {
			return nil, fmt.Errorf("%w: %q", ErrReplyFormat, raw)
		}
		payload = payload[len(f.Begin):]
	}
	if len(f.End) > 0 {
		if !bytes.HasSuffix(payload, f.End) {
			return nil, fmt.Errorf("%w: %q", ErrReplyFormat, raw)
		}
		payload = payload[:len(payload)-len(f.End)]
	}
	// Slicing a non-empty raw keeps payload non-nil, so an empty frame is
	// still distinguishable from no reply.
	return payload, nil
}

// split returns the first complete frame in buf and the remainder. ok is
// false when buf holds no end marker yet.
func (f Framer) split(buf []byte) (frame, rest []byte, ok bool) {
	if len(f.End) == 0 {
		return nil, buf, false
	}
	i := bytes.Index(buf, f.End)
	if i < 0 {
		return nil, buf, false
	}
	n := i + len(f.End)
	return buf[:n], buf[n:], true
}
