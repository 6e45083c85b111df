package communicator

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/motorbox/internal/connector"
	"github.com/banshee-data/motorbox/internal/monitoring"
)

// Phytron MCC2 acknowledgement bytes.
const (
	MCC2Ack byte = 0x06
	MCC2Nak byte = 0x15
)

// MCC2Framer is the STX/ETX framing used by Phytron MCC2 controllers.
var MCC2Framer = connector.Framer{Begin: []byte{0x02}, End: []byte{0x03}}

// MCC2PositionParameter is the parameter number of the position counter.
const MCC2PositionParameter = 20

// MCC2Parameters maps parameter names to MCC2 parameter numbers.
var MCC2Parameters = map[string]int{
	"Lauffrequenz":             14,
	"Stoppstrom":               40,
	"Laufstrom":                41,
	"Booststrom":               42,
	"Initiatortyp":             27,
	"Umrechnungsfaktor(Contr)": 3,
}

var mcc2Defaults = Parameters{
	{Name: "Lauffrequenz", Default: 400, Description: "step frequency in Hz (max 40000)"},
	{Name: "Stoppstrom", Default: 2},
	{Name: "Laufstrom", Default: 2},
	{Name: "Booststrom", Default: 2},
	{Name: "Initiatortyp", Default: 0, Description: "0 = PNP normally closed, 1 = PNP normally open"},
	{Name: "Umrechnungsfaktor(Contr)", Default: 1},
}

const (
	mcc2MaxBus        = 15
	mcc2MaxAxis       = 9
	mcc2BusListTries  = 2
	mcc2ConnectTries  = 4
	mcc2VersionPrefix = "MCC"
)

// MCC2 speaks the Phytron MCC2 protocol. Module commands are prefixed with
// the bus as one hex digit, motor commands additionally with the axis digit.
type MCC2 struct {
	base
}

var _ Communicator = (*MCC2)(nil)

// NewMCC2 returns an MCC2 communicator on conn, which must use MCC2Framer.
func NewMCC2(conn connector.Connector) *MCC2 {
	return &MCC2{base: base{
		vendor:    "phytron-mcc2",
		conn:      conn,
		params:    mcc2Defaults,
		tolerance: 1.1,
		shift:     500000,
	}}
}

func classifyMCC2(reply []byte) ([]byte, error) {
	switch {
	case reply == nil:
		return nil, ErrNoReply
	case len(reply) > 0 && reply[0] == MCC2Ack:
		return reply[1:], nil
	case bytes.Equal(reply, []byte{MCC2Nak}):
		return nil, ErrRejected
	default:
		return nil, unexpected(reply)
	}
}

// CommandToBox sends an unaddressed command and returns the payload that
// followed the acknowledgement.
func (m *MCC2) CommandToBox(cmd []byte) ([]byte, error) {
	return m.transact(cmd, classifyMCC2)
}

func (m *MCC2) CommandToModule(cmd []byte, bus int) ([]byte, error) {
	prefix, err := mcc2BusPrefix(bus)
	if err != nil {
		return nil, err
	}
	return m.CommandToBox(append([]byte(prefix), cmd...))
}

func (m *MCC2) CommandToMotor(cmd []byte, bus, axis int) ([]byte, error) {
	if axis < 0 || axis > mcc2MaxAxis {
		return nil, fmt.Errorf("%w: axis must be between 0 and %d, got %d", ErrAddress, mcc2MaxAxis, axis)
	}
	return m.CommandToModule(append([]byte(strconv.Itoa(axis)), cmd...), bus)
}

func mcc2BusPrefix(bus int) (string, error) {
	if bus < 0 || bus > mcc2MaxBus {
		return "", fmt.Errorf("%w: bus must be between 0 and %d, got %d", ErrAddress, mcc2MaxBus, bus)
	}
	return strconv.FormatInt(int64(bus), 16), nil
}

func (m *MCC2) command(cmd string, bus, axis int) error {
	payload, err := m.CommandToMotor([]byte(cmd), bus, axis)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s: %w", cmd, unexpected(payload))
	}
	return nil
}

func parseFloatReply(payload []byte) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return 0, unexpected(payload)
	}
	return v, nil
}

func (m *MCC2) floatQuery(cmd string, bus, axis int) (float64, error) {
	payload, err := m.CommandToMotor([]byte(cmd), bus, axis)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd, err)
	}
	return parseFloatReply(payload)
}

func (m *MCC2) boolQuery(cmd string, bus, axis int) (bool, error) {
	payload, err := m.CommandToMotor([]byte(cmd), bus, axis)
	if err != nil {
		return false, fmt.Errorf("%s: %w", cmd, err)
	}
	switch string(payload) {
	case "E":
		return true, nil
	case "N":
		return false, nil
	}
	return false, unexpected(payload)
}

func (m *MCC2) Go(shift float64, bus, axis int) error {
	return m.command(formatFloat(shift), bus, axis)
}

func (m *MCC2) GoTo(destination float64, bus, axis int) error {
	return m.command("A"+formatFloat(destination), bus, axis)
}

func (m *MCC2) Stop(bus, axis int) error {
	return m.command("S", bus, axis)
}

func (m *MCC2) Position(bus, axis int) (float64, error) {
	return m.floatQuery(fmt.Sprintf("P%dR", MCC2PositionParameter), bus, axis)
}

func (m *MCC2) SetPosition(position float64, bus, axis int) error {
	return m.command(fmt.Sprintf("P%dS%s", MCC2PositionParameter, formatFloat(position)), bus, axis)
}

func mcc2ParameterNumber(name string) (int, error) {
	n, ok := MCC2Parameters[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	return n, nil
}

func (m *MCC2) Parameter(name string, bus, axis int) (float64, error) {
	n, err := mcc2ParameterNumber(name)
	if err != nil {
		return 0, err
	}
	return m.floatQuery(fmt.Sprintf("P%dR", n), bus, axis)
}

func (m *MCC2) SetParameter(name string, value float64, bus, axis int) error {
	n, err := mcc2ParameterNumber(name)
	if err != nil {
		return err
	}
	return m.command(fmt.Sprintf("P%dS%s", n, formatFloat(value)), bus, axis)
}

func (m *MCC2) MotorStand(bus, axis int) (bool, error) {
	return m.boolQuery("=H", bus, axis)
}

func (m *MCC2) MotorAtBeginning(bus, axis int) (bool, error) {
	return m.boolQuery("=I-", bus, axis)
}

func (m *MCC2) MotorAtEnd(bus, axis int) (bool, error) {
	return m.boolQuery("=I+", bus, axis)
}

// BusCheck asks bus for its firmware version.
func (m *MCC2) BusCheck(bus int) (bool, string) {
	payload, err := m.CommandToModule([]byte("IVR"), bus)
	if err != nil {
		return false, err.Error()
	}
	if strings.HasPrefix(string(payload), mcc2VersionPrefix) {
		return true, string(payload)
	}
	return false, string(payload)
}

// BusList probes every bus address twice and returns those that answered.
func (m *MCC2) BusList() ([]int, error) {
	var buses []int
	for bus := 0; bus <= mcc2MaxBus; bus++ {
		var (
			ok  bool
			msg string
		)
		for try := 0; try < mcc2BusListTries && !ok; try++ {
			ok, msg = m.BusCheck(bus)
		}
		if ok {
			buses = append(buses, bus)
			continue
		}
		monitoring.Logf("mcc2: no controller on bus %d: %s", bus, msg)
	}
	if len(buses) == 0 {
		return nil, ErrNoControllers
	}
	return buses, nil
}

// AxesList returns 1..n where n is the module's axis count.
func (m *MCC2) AxesList(bus int) ([]int, error) {
	payload, err := m.CommandToModule([]byte("IAR"), bus)
	if err != nil {
		return nil, fmt.Errorf("IAR: %w", err)
	}
	n, err := parseFloatReply(payload)
	if err != nil {
		return nil, err
	}
	return seq(1, int(n)), nil
}

func (m *MCC2) CheckConnection() (string, error) {
	for bus := 0; bus <= mcc2MaxBus; bus++ {
		for try := 0; try < mcc2ConnectTries; try++ {
			if ok, version := m.BusCheck(bus); ok {
				return version, nil
			}
		}
	}
	return "", ErrNoControllers
}

// Calibrate is a no-op: MCC2 modules have no built-in reference run.
func (m *MCC2) Calibrate(bus, axis int) error {
	if _, err := mcc2BusPrefix(bus); err != nil {
		return err
	}
	return nil
}
