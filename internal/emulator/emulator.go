// Package emulator simulates a Phytron MCC2 controller box behind the same
// serial interface a real box has. Frames written to it are interpreted with
// the firmware's command grammar and replies are queued for reading. Every
// simulated motor moves step by step on its own goroutine, so concurrent
// moves genuinely overlap in time when realtime mode is on.
package emulator

import (
	"bytes"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/motorbox/internal/monitoring"
)

// Version is the reply to the IVR command.
const Version = "MCC2 Emulator v1.0"

const (
	stx byte = 0x02
	etx byte = 0x03
	ack byte = 0x06
	nak byte = 0x15
)

// ErrClosed is returned by I/O on a closed Box.
var ErrClosed = errors.New("emulator closed")

// Box is an emulated MCC2 box with controllers on consecutive buses.
// It satisfies connector.SerialPorter.
type Box struct {
	// mu guards the I/O buffers and serialises command interpretation.
	mu          sync.Mutex
	in          []byte
	out         bytes.Buffer
	lastCommand []byte
	readTimeout time.Duration
	closed      bool

	realtime atomic.Bool
	running  sync.WaitGroup

	controllers map[int]*Controller
}

// Controller is one emulated module. Its axes are numbered from 1.
type Controller struct {
	motors map[int]*Motor
}

// NewBox builds a box with nBus controllers (buses 0..nBus-1), each with
// nAxes motors (axes 1..nAxes). In realtime mode motors step at their
// configured frequency and empty reads wait out the read timeout.
func NewBox(nBus, nAxes int, realtime bool) *Box {
	b := &Box{controllers: make(map[int]*Controller, nBus)}
	b.realtime.Store(realtime)
	for bus := 0; bus < nBus; bus++ {
		c := &Controller{motors: make(map[int]*Motor, nAxes)}
		for axis := 1; axis <= nAxes; axis++ {
			c.motors[axis] = newMotor(b)
		}
		b.controllers[bus] = c
	}
	return b
}

// SetRealtime switches between wall-clock stepping and instant stepping.
func (b *Box) SetRealtime(on bool) { b.realtime.Store(on) }

// Realtime reports the current stepping mode.
func (b *Box) Realtime() bool { return b.realtime.Load() }

// Buses returns the configured bus numbers in ascending order.
func (b *Box) Buses() []int {
	buses := make([]int, 0, len(b.controllers))
	for bus := range b.controllers {
		buses = append(buses, bus)
	}
	sort.Ints(buses)
	return buses
}

// Motor returns the simulated motor at bus and axis, or nil.
func (b *Box) Motor(bus, axis int) *Motor {
	c, ok := b.controllers[bus]
	if !ok {
		return nil
	}
	return c.motors[axis]
}

// LastCommand returns the most recent frame written to the box.
func (b *Box) LastCommand() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.lastCommand...)
}

// Write interprets every complete STX…ETX frame in p. Bytes outside frames
// are dropped; an unterminated frame is kept until the rest arrives.
func (b *Box) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}

	b.in = append(b.in, p...)
	for {
		start := bytes.IndexByte(b.in, stx)
		if start < 0 {
			b.in = b.in[:0]
			break
		}
		end := bytes.IndexByte(b.in[start:], etx)
		if end < 0 {
			b.in = append(b.in[:0], b.in[start:]...)
			break
		}
		frame := b.in[start : start+end+1]
		b.lastCommand = append(b.lastCommand[:0], frame...)
		b.interpret(string(frame[1 : len(frame)-1]))
		b.in = b.in[start+end+1:]
	}
	return len(p), nil
}

// Read returns queued reply bytes. With nothing queued it reports a read
// timeout, after waiting it out in realtime mode.
func (b *Box) Read(p []byte) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, ErrClosed
	}
	if b.out.Len() > 0 {
		defer b.mu.Unlock()
		return b.out.Read(p)
	}
	timeout := b.readTimeout
	b.mu.Unlock()

	if b.realtime.Load() && timeout > 0 {
		time.Sleep(timeout)
	}
	return 0, nil
}

func (b *Box) SetReadTimeout(timeout time.Duration) error {
	b.mu.Lock()
	b.readTimeout = timeout
	b.mu.Unlock()
	return nil
}

// ResetInputBuffer drops replies nobody has read.
func (b *Box) ResetInputBuffer() error {
	b.mu.Lock()
	b.out.Reset()
	b.mu.Unlock()
	return nil
}

// Close stops every moving motor and waits for their goroutines to exit.
func (b *Box) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	for _, c := range b.controllers {
		for _, m := range c.motors {
			m.Stop()
		}
	}
	b.running.Wait()
	return nil
}

func (b *Box) reply(payload ...byte) {
	b.out.WriteByte(stx)
	b.out.Write(payload)
	b.out.WriteByte(etx)
}

func (b *Box) deny(format string, v ...interface{}) {
	b.reply(nak)
	monitoring.Logf("mcc2 emulator: "+format, v...)
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('A' <= c && c <= 'F')
}

func axisNumber(c byte) (int, bool) {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0'), true
	case c == 'X':
		return 1, true
	case c == 'Y':
		return 2, true
	}
	return 0, false
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func boolReply(v bool) []byte {
	if v {
		return []byte{ack, 'E'}
	}
	return []byte{ack, 'N'}
}

// interpret executes one frame body. The caller holds b.mu.
func (b *Box) interpret(body string) {
	body = strings.ToUpper(body)
	if body == "" || !isHexDigit(body[0]) {
		return
	}
	bus, _ := strconv.ParseInt(body[:1], 16, 0)
	ctrl, ok := b.controllers[int(bus)]
	if !ok {
		// Nobody on this bus, so nobody answers.
		return
	}

	module := body[1:]
	switch {
	case module == "IVR":
		b.reply(append([]byte{ack}, Version...)...)
		return
	case module == "IAR":
		b.reply(append([]byte{ack}, strconv.Itoa(len(ctrl.motors))...)...)
		return
	case module == "":
		b.deny("empty command for bus %d", bus)
		return
	}

	axis, ok := axisNumber(module[0])
	if !ok {
		b.deny("unknown command %q", module)
		return
	}
	motor, ok := ctrl.motors[axis]
	if !ok {
		b.deny("no axis %d on bus %d", axis, bus)
		return
	}
	b.interpretMotor(motor, module[1:])
}

func (b *Box) interpretMotor(m *Motor, cmd string) {
	switch {
	case cmd == "":
		b.deny("empty motor command")
	case isNumber(cmd):
		shift, _ := strconv.ParseFloat(cmd, 64)
		m.Go(shift)
		b.reply(ack)
	case cmd[0] == 'A':
		dest, err := strconv.ParseFloat(cmd[1:], 64)
		if err != nil {
			b.deny("bad destination %q", cmd)
			return
		}
		m.GoTo(dest)
		b.reply(ack)
	case cmd == "S":
		m.Stop()
		b.reply(ack)
	case cmd[0] == 'P':
		b.interpretParameter(m, cmd[1:])
	case cmd == "=H":
		b.reply(boolReply(m.Stand())...)
	case cmd == "=I-":
		b.reply(boolReply(m.AtBeginning())...)
	case cmd == "=I+":
		b.reply(boolReply(m.AtEnd())...)
	default:
		b.deny("unknown command %q", cmd)
	}
}

func (b *Box) interpretParameter(m *Motor, cmd string) {
	if i := strings.IndexByte(cmd, 'S'); i >= 0 {
		parts := strings.Split(cmd, "S")
		if len(parts) != 2 {
			b.deny("bad parameter command %q", cmd)
			return
		}
		n, errN := strconv.Atoi(parts[0])
		v, errV := strconv.ParseFloat(parts[1], 64)
		if errN != nil || errV != nil {
			b.deny("bad parameter command %q", cmd)
			return
		}
		if !validParameter(n) {
			b.deny("wrong parameter number %d", n)
			return
		}
		m.SetParameter(n, v)
		b.reply(ack)
		return
	}

	if !strings.HasSuffix(cmd, "R") {
		b.deny("bad parameter command %q", cmd)
		return
	}
	n, err := strconv.Atoi(cmd[:len(cmd)-1])
	if err != nil {
		b.deny("bad parameter command %q", cmd)
		return
	}
	if !validParameter(n) {
		b.deny("wrong parameter number %d", n)
		return
	}
	v := m.Parameter(n)
	b.reply(append([]byte{ack}, strconv.FormatFloat(v, 'f', -1, 64)...)...)
}
