// Package communicator encodes motor commands in each controller vendor's
// wire protocol and classifies the replies. Every vendor implements the same
// Communicator capability set; operations a controller cannot perform fail
// with ErrNotSupported.
package communicator

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/motorbox/internal/connector"
)

var (
	// ErrNoReply means the controller stayed silent until the timeout. This
	// usually points at a wrong bus address rather than a wrong command.
	ErrNoReply = errors.New("controller did not reply")
	// ErrRejected means the controller negatively acknowledged a command.
	ErrRejected = errors.New("controller rejected the command")
	// ErrUnexpectedReply means a reply arrived but its content could not be
	// interpreted.
	ErrUnexpectedReply = errors.New("unexpected reply from controller")
	ErrNotSupported    = errors.New("operation not supported by this controller")
	// ErrUnknownParameter is returned for parameter names outside the
	// vendor's parameter table.
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrAddress          = errors.New("invalid controller address")
	// ErrNoControllers is returned by discovery when no bus answers.
	ErrNoControllers = errors.New("no controllers found")
)

// Communicator is the capability set shared by all controller vendors. Bus
// selects a controller module and axis a motor on it. Positions and shifts
// are in controller units.
type Communicator interface {
	Vendor() string

	Go(shift float64, bus, axis int) error
	GoTo(destination float64, bus, axis int) error
	Stop(bus, axis int) error
	Position(bus, axis int) (float64, error)
	SetPosition(position float64, bus, axis int) error
	Parameter(name string, bus, axis int) (float64, error)
	SetParameter(name string, value float64, bus, axis int) error

	// MotorStand reports whether the motor is currently at rest.
	MotorStand(bus, axis int) (bool, error)
	MotorAtBeginning(bus, axis int) (bool, error)
	MotorAtEnd(bus, axis int) (bool, error)

	BusList() ([]int, error)
	// BusCheck reports whether a controller answers on bus, with the
	// controller's identification or the reason it is considered absent.
	BusCheck(bus int) (bool, string)
	AxesList(bus int) ([]int, error)
	// CheckConnection returns the identification of the first controller
	// found on the transport.
	CheckConnection() (string, error)
	// Calibrate runs the controller's own reference procedure, if any.
	Calibrate(bus, axis int) error

	CommandToBox(cmd []byte) ([]byte, error)
	CommandToModule(cmd []byte, bus int) ([]byte, error)
	CommandToMotor(cmd []byte, bus, axis int) ([]byte, error)

	// Tolerance is the acceptable positioning error in controller units.
	Tolerance() float64
	SetTolerance(tol float64)
	// CalibrationShift is the probe step used to search the travel limits.
	CalibrationShift() float64
	ParameterDefaults() Parameters

	Close() error
}

// Parameter is one entry of a vendor's parameter table.
type Parameter struct {
	Name        string
	Default     float64
	Description string
}

// Parameters is an ordered parameter table.
type Parameters []Parameter

// Names returns the parameter names in table order.
func (p Parameters) Names() []string {
	names := make([]string, len(p))
	for i, par := range p {
		names[i] = par.Name
	}
	return names
}

// Default returns the default value of name.
func (p Parameters) Default(name string) (float64, bool) {
	for _, par := range p {
		if par.Name == name {
			return par.Default, true
		}
	}
	return 0, false
}

// Values returns the defaults keyed by name.
func (p Parameters) Values() map[string]float64 {
	out := make(map[string]float64, len(p))
	for _, par := range p {
		out[par.Name] = par.Default
	}
	return out
}

// base carries the state every vendor shares: the transport, the mutex that
// serialises request/response pairs on it, and the positioning constants.
type base struct {
	vendor string
	conn   connector.Connector
	params Parameters
	shift  float64

	// mu serialises request/response pairs on conn.
	mu sync.Mutex

	tolMu     sync.RWMutex
	tolerance float64
}

func (b *base) Vendor() string                { return b.vendor }
func (b *base) CalibrationShift() float64     { return b.shift }
func (b *base) ParameterDefaults() Parameters { return append(Parameters(nil), b.params...) }

func (b *base) Tolerance() float64 {
	b.tolMu.RLock()
	defer b.tolMu.RUnlock()
	return b.tolerance
}

func (b *base) SetTolerance(tol float64) {
	b.tolMu.Lock()
	b.tolerance = tol
	b.tolMu.Unlock()
}

func (b *base) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

// roundTripLocked sends cmd and reads one framed reply. A nil reply with a
// nil error means the read timed out. The caller must hold b.mu.
func (b *base) roundTripLocked(cmd []byte) ([]byte, error) {
	if err := b.conn.Send(cmd, true); err != nil {
		return nil, err
	}
	return b.conn.Read()
}

// transact runs one request/response pair under the lock, hands the raw reply
// to classify and records the outcome.
func (b *base) transact(cmd []byte, classify func([]byte) ([]byte, error)) ([]byte, error) {
	start := time.Now()
	b.mu.Lock()
	reply, err := b.roundTripLocked(cmd)
	b.mu.Unlock()
	if err == nil {
		reply, err = classify(reply)
	}
	observe(b.vendor, start, err)
	return reply, err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func unexpected(reply []byte) error {
	return fmt.Errorf("%w: %q", ErrUnexpectedReply, reply)
}

func seq(from, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = from + i
	}
	return out
}
