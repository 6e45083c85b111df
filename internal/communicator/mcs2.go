package communicator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/motorbox/internal/connector"
)

// MCS2Framer terminates SCPI lines as the MCS2 expects over TCP.
var MCS2Framer = connector.Framer{End: []byte("\r\n")}

// MCS2Port is the default SCPI port of an MCS2 controller.
const MCS2Port = 55551

var mcs2Defaults = Parameters{
	{Name: "Positioner Type", Default: 300},
	{Name: "Velocity", Default: 0},
	{Name: "Acceleration", Default: 0},
}

var mcs2ParameterCommands = map[string]string{
	"Positioner Type": ":PTYPe",
	"Velocity":        ":VEL",
	"Acceleration":    ":ACC",
}

// Channel state bits reported by :STATe?.
const (
	mcs2StateActivelyMoving = 1 << 0
	mcs2StateEndStopReached = 1 << 8
)

// MCS2 speaks SCPI to a SmarAct MCS2. Every command is bracketed by a drain
// of the controller's error queue; errors queued by the command turn it into
// ErrRejected. Channels are numbered linearly across modules.
type MCS2 struct {
	base
	axesPerBus []int
}

var _ Communicator = (*MCS2)(nil)

// NewMCS2 queries the module layout needed for channel numbering.
func NewMCS2(conn connector.Connector) (*MCS2, error) {
	m := &MCS2{base: base{
		vendor:    "smaract-mcs2",
		conn:      conn,
		params:    mcs2Defaults,
		tolerance: 1e6,
		shift:     50e9,
	}}
	buses, err := m.BusList()
	if err != nil {
		return nil, err
	}
	for _, bus := range buses {
		axes, err := m.AxesList(bus)
		if err != nil {
			return nil, fmt.Errorf("module %d: %w", bus, err)
		}
		m.axesPerBus = append(m.axesPerBus, len(axes))
	}
	return m, nil
}

func (m *MCS2) channel(bus, axis int) (int, error) {
	if bus < 0 || bus >= len(m.axesPerBus) {
		return 0, fmt.Errorf("%w: module %d", ErrAddress, bus)
	}
	if axis < 0 || axis >= m.axesPerBus[bus] {
		return 0, fmt.Errorf("%w: channel %d on module %d", ErrAddress, axis, bus)
	}
	ch := axis
	for _, n := range m.axesPerBus[:bus] {
		ch += n
	}
	return ch, nil
}

// queryLocked sends one line without error handling. The caller holds m.mu.
func (m *MCS2) queryLocked(cmd string) ([]byte, error) {
	return m.roundTripLocked([]byte(cmd))
}

// drainErrorsLocked empties the error queue and returns its entries joined
// by newlines.
func (m *MCS2) drainErrorsLocked() (string, error) {
	reply, err := m.queryLocked(":SYST:ERR:COUN?")
	if err != nil {
		return "", err
	}
	if reply == nil {
		return "", fmt.Errorf(":SYST:ERR:COUN?: %w", ErrNoReply)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(reply)))
	if err != nil {
		return "", unexpected(reply)
	}
	var msgs []string
	for i := 0; i < n; i++ {
		reply, err := m.queryLocked(":SYST:ERR:NEXT?")
		if err != nil {
			return "", err
		}
		msgs = append(msgs, string(reply))
	}
	return strings.Join(msgs, "\n"), nil
}

// CommandToBox runs cmd between two error-queue drains. A nil payload with a
// nil error means the command produced no output, as SCPI set commands do.
func (m *MCS2) CommandToBox(cmd []byte) ([]byte, error) {
	start := time.Now()
	reply, err := m.runScoped(string(cmd))
	observe(m.vendor, start, err)
	return reply, err
}

func (m *MCS2) runScoped(cmd string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.drainErrorsLocked(); err != nil {
		return nil, err
	}
	reply, err := m.queryLocked(cmd)
	if err != nil {
		return nil, err
	}
	queued, err := m.drainErrorsLocked()
	if err != nil {
		return nil, err
	}
	if queued != "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrRejected, cmd, queued)
	}
	return reply, nil
}

func (m *MCS2) CommandToModule(cmd []byte, bus int) ([]byte, error) {
	if bus < 0 || bus >= len(m.axesPerBus) {
		return nil, fmt.Errorf("%w: module %d", ErrAddress, bus)
	}
	return m.CommandToBox(append([]byte(":MOD"+strconv.Itoa(bus)), cmd...))
}

func (m *MCS2) CommandToMotor(cmd []byte, bus, axis int) ([]byte, error) {
	ch, err := m.channel(bus, axis)
	if err != nil {
		return nil, err
	}
	return m.CommandToBox(append([]byte(":CHAN"+strconv.Itoa(ch)), cmd...))
}

func (m *MCS2) noReply(cmd string, send func([]byte) ([]byte, error)) error {
	reply, err := send([]byte(cmd))
	if err != nil {
		return err
	}
	if len(reply) > 0 {
		return fmt.Errorf("%s: %w", cmd, unexpected(reply))
	}
	return nil
}

func (m *MCS2) floatReply(cmd string, send func([]byte) ([]byte, error)) (float64, error) {
	reply, err := send([]byte(cmd))
	if err != nil {
		return 0, err
	}
	if reply == nil {
		return 0, fmt.Errorf("%s: %w", cmd, ErrNoReply)
	}
	return parseFloatReply(reply)
}

func (m *MCS2) motor(bus, axis int) func([]byte) ([]byte, error) {
	return func(cmd []byte) ([]byte, error) { return m.CommandToMotor(cmd, bus, axis) }
}

func (m *MCS2) move(mode int, value float64, bus, axis int) error {
	ch, err := m.channel(bus, axis)
	if err != nil {
		return err
	}
	if err := m.noReply(fmt.Sprintf(":MMOD %d", mode), m.motor(bus, axis)); err != nil {
		return err
	}
	return m.noReply(fmt.Sprintf(":MOVE%d %s", ch, formatFloat(value)), m.CommandToBox)
}

// Go moves relative to the current position (move mode 1).
func (m *MCS2) Go(shift float64, bus, axis int) error { return m.move(1, shift, bus, axis) }

// GoTo moves to an absolute position (move mode 0).
func (m *MCS2) GoTo(destination float64, bus, axis int) error {
	return m.move(0, destination, bus, axis)
}

func (m *MCS2) Stop(bus, axis int) error {
	ch, err := m.channel(bus, axis)
	if err != nil {
		return err
	}
	return m.noReply(fmt.Sprintf(":STOP%d", ch), m.CommandToBox)
}

func (m *MCS2) Position(bus, axis int) (float64, error) {
	return m.floatReply(":POS?", m.motor(bus, axis))
}

func (m *MCS2) SetPosition(position float64, bus, axis int) error {
	return m.noReply(":POS "+formatFloat(position), m.motor(bus, axis))
}

func (m *MCS2) Parameter(name string, bus, axis int) (float64, error) {
	root, ok := mcs2ParameterCommands[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	return m.floatReply(root+"?", m.motor(bus, axis))
}

func (m *MCS2) SetParameter(name string, value float64, bus, axis int) error {
	root, ok := mcs2ParameterCommands[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	return m.noReply(root+" "+formatFloat(value), m.motor(bus, axis))
}

func (m *MCS2) state(bus, axis int) (int64, error) {
	v, err := m.floatReply(":STATe?", m.motor(bus, axis))
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

func (m *MCS2) MotorStand(bus, axis int) (bool, error) {
	s, err := m.state(bus, axis)
	if err != nil {
		return false, err
	}
	return s&mcs2StateActivelyMoving == 0, nil
}

// MotorAtBeginning reports the end-stop bit. The MCS2 has a single end-stop
// flag, so MotorAtEnd reports the same bit.
func (m *MCS2) MotorAtBeginning(bus, axis int) (bool, error) {
	s, err := m.state(bus, axis)
	if err != nil {
		return false, err
	}
	return s&mcs2StateEndStopReached != 0, nil
}

func (m *MCS2) MotorAtEnd(bus, axis int) (bool, error) { return m.MotorAtBeginning(bus, axis) }

// BusList returns one entry per installed module.
func (m *MCS2) BusList() ([]int, error) {
	n, err := m.floatReply(":DEV:NOBM?", m.CommandToBox)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, ErrNoControllers
	}
	return seq(0, int(n)), nil
}

func (m *MCS2) BusCheck(bus int) (bool, string) {
	if bus >= 0 && bus < len(m.axesPerBus) {
		return true, ""
	}
	return false, fmt.Sprintf("module %d is not present", bus)
}

func (m *MCS2) AxesList(bus int) ([]int, error) {
	send := func(cmd []byte) ([]byte, error) {
		return m.CommandToBox(append([]byte(":MOD"+strconv.Itoa(bus)), cmd...))
	}
	n, err := m.floatReply(":NOMC?", send)
	if err != nil {
		return nil, err
	}
	return seq(0, int(n)), nil
}

// CheckConnection sends *IDN? without error-queue handling.
func (m *MCS2) CheckConnection() (string, error) {
	m.mu.Lock()
	reply, err := m.queryLocked("*IDN?")
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	if reply == nil {
		return "", ErrNoReply
	}
	if !strings.HasPrefix(string(reply), "SmarAct") {
		return "", unexpected(reply)
	}
	return string(reply), nil
}

// Calibrate runs the channel calibration with default options.
func (m *MCS2) Calibrate(bus, axis int) error {
	ch, err := m.channel(bus, axis)
	if err != nil {
		return err
	}
	if err := m.noReply(fmt.Sprintf(":CHAN%d:CAL:OPT 0", ch), m.CommandToBox); err != nil {
		return err
	}
	return m.noReply(fmt.Sprintf(":CAL%d", ch), m.CommandToBox)
}
