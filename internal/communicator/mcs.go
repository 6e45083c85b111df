package communicator

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/motorbox/internal/connector"
)

// MCSFramer is the ASCII framing of SmarAct MCS controllers.
var MCSFramer = connector.Framer{Begin: []byte(":"), End: []byte("\n")}

var mcsDefaults = Parameters{
	{Name: "Sensor Type", Default: 1},
	{Name: "max Frequency", Default: 5000},
	{Name: "max move Speed", Default: 0},
}

var mcsParameterCommands = map[string]string{
	"Sensor Type":    "ST",
	"max Frequency":  "CLF",
	"max move Speed": "CLS",
}

var mcsErrors = map[int]string{
	1:   "Syntax Error",
	2:   "Invalid Command Error",
	3:   "Overflow Error",
	4:   "Parse Error",
	5:   "Too Few Parameters Error",
	6:   "Too Many Parameters Error",
	7:   "Invalid Parameter Error",
	8:   "Wrong Mode Error",
	129: "No Sensor Present Error",
	140: "Sensor Disabled Error",
	141: "Command Overridden Error",
	142: "End Stop Reached Error",
	143: "Wrong Sensor Type Error",
	144: "Could Not Find Reference Mark Error",
}

// DecodeMCSError names an MCS error code.
func DecodeMCSError(code int) string {
	if s, ok := mcsErrors[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown error code %d", code)
}

// MCS speaks the SmarAct MCS ASCII protocol. The controller has a single
// module; axes are channel numbers starting at 0.
type MCS struct {
	base
}

var _ Communicator = (*MCS)(nil)

// NewMCS switches the controller to synchronous communication mode.
func NewMCS(conn connector.Connector) (*MCS, error) {
	m := &MCS{base: base{
		vendor:    "smaract-mcs",
		conn:      conn,
		params:    mcsDefaults,
		tolerance: 30e3,
		shift:     500e6,
	}}
	if err := m.proof("SCM0"); err != nil {
		return nil, fmt.Errorf("set synchronous mode: %w", err)
	}
	return m, nil
}

// classifyMCS turns "E<ch>,0" into an empty success, any other error code
// into ErrRejected and passes every other reply through.
func classifyMCS(reply []byte) ([]byte, error) {
	if reply == nil {
		return nil, ErrNoReply
	}
	s := string(reply)
	if !strings.HasPrefix(s, "E") {
		return reply, nil
	}
	parts := strings.Split(s[1:], ",")
	if len(parts) != 2 {
		return nil, unexpected(reply)
	}
	if _, err := strconv.Atoi(parts[0]); err != nil {
		return nil, unexpected(reply)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, unexpected(reply)
	}
	if code == 0 {
		return []byte{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRejected, DecodeMCSError(code))
}

func (m *MCS) CommandToBox(cmd []byte) ([]byte, error) {
	return m.transact(cmd, classifyMCS)
}

func (m *MCS) CommandToModule(cmd []byte, bus int) ([]byte, error) {
	if bus != 0 {
		return nil, fmt.Errorf("%w: MCS only has bus 0, got %d", ErrAddress, bus)
	}
	return m.CommandToBox(cmd)
}

// CommandToMotor is not supported: MCS commands carry the channel as an
// argument rather than as a prefix.
func (m *MCS) CommandToMotor(cmd []byte, bus, axis int) ([]byte, error) {
	return nil, fmt.Errorf("motor-addressed command: %w", ErrNotSupported)
}

// proof runs a command whose only valid reply is the "no error" code.
func (m *MCS) proof(cmd string) error {
	payload, err := m.CommandToBox([]byte(cmd))
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s: %w", cmd, unexpected(payload))
	}
	return nil
}

// intQuery sends <cmd><axis> and parses a "<reply><axis>,<value>" answer.
func (m *MCS) intQuery(cmd, reply string, bus, axis int) (int, error) {
	payload, err := m.CommandToModule([]byte(cmd+strconv.Itoa(axis)), bus)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd, err)
	}
	prefix := reply + strconv.Itoa(axis) + ","
	s := string(payload)
	if len(s) <= len(prefix) || !strings.HasPrefix(s, prefix) {
		return 0, unexpected(payload)
	}
	v, err := strconv.Atoi(s[len(prefix):])
	if err != nil {
		return 0, unexpected(payload)
	}
	return v, nil
}

func (m *MCS) Go(shift float64, bus, axis int) error {
	if bus != 0 {
		return fmt.Errorf("%w: bus %d", ErrAddress, bus)
	}
	return m.proof(fmt.Sprintf("MPR%d,%d,0", axis, int64(math.Round(shift))))
}

func (m *MCS) GoTo(destination float64, bus, axis int) error {
	if bus != 0 {
		return fmt.Errorf("%w: bus %d", ErrAddress, bus)
	}
	return m.proof(fmt.Sprintf("MPA%d,%d,0", axis, int64(math.Round(destination))))
}

func (m *MCS) Stop(bus, axis int) error {
	if bus != 0 {
		return fmt.Errorf("%w: bus %d", ErrAddress, bus)
	}
	return m.proof(fmt.Sprintf("S%d", axis))
}

func (m *MCS) Position(bus, axis int) (float64, error) {
	v, err := m.intQuery("GP", "P", bus, axis)
	return float64(v), err
}

func (m *MCS) SetPosition(position float64, bus, axis int) error {
	_, err := m.CommandToModule([]byte(fmt.Sprintf("SP%d,%d", axis, int64(math.Round(position)))), bus)
	return err
}

func (m *MCS) Parameter(name string, bus, axis int) (float64, error) {
	root, ok := mcsParameterCommands[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	v, err := m.intQuery("G"+root, root, bus, axis)
	return float64(v), err
}

func (m *MCS) SetParameter(name string, value float64, bus, axis int) error {
	root, ok := mcsParameterCommands[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	_, err := m.CommandToModule([]byte(fmt.Sprintf("S%s%d,%d", root, axis, int64(math.Round(value)))), bus)
	return err
}

// MotorStand reports status code 0 (stopped) as standing.
func (m *MCS) MotorStand(bus, axis int) (bool, error) {
	status, err := m.intQuery("GS", "S", bus, axis)
	if err != nil {
		return false, err
	}
	return status == 0, nil
}

func (m *MCS) MotorAtBeginning(bus, axis int) (bool, error) {
	return false, fmt.Errorf("MCS limit switches: %w", ErrNotSupported)
}

func (m *MCS) MotorAtEnd(bus, axis int) (bool, error) {
	return false, fmt.Errorf("MCS limit switches: %w", ErrNotSupported)
}

func (m *MCS) BusList() ([]int, error) { return []int{0}, nil }

func (m *MCS) BusCheck(bus int) (bool, string) {
	if bus == 0 {
		return true, ""
	}
	return false, fmt.Sprintf("bus %d is not present", bus)
}

// AxesList returns 0..n-1 where n is the channel count.
func (m *MCS) AxesList(bus int) ([]int, error) {
	payload, err := m.CommandToModule([]byte("GNC"), bus)
	if err != nil {
		return nil, fmt.Errorf("GNC: %w", err)
	}
	s := string(payload)
	if !strings.HasPrefix(s, "N") {
		return nil, unexpected(payload)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil {
		return nil, unexpected(payload)
	}
	return seq(0, n), nil
}

func (m *MCS) CheckConnection() (string, error) {
	payload, err := m.CommandToBox([]byte("GIV"))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(string(payload), "IV") {
		return "", unexpected(payload)
	}
	return string(payload), nil
}

// Calibrate runs the sensor calibration routine of the channel.
func (m *MCS) Calibrate(bus, axis int) error {
	_, err := m.CommandToModule([]byte(fmt.Sprintf("CS%d", axis)), bus)
	return err
}

// FindReferenceMark starts a reference mark search on the channel.
func (m *MCS) FindReferenceMark(bus, axis int) error {
	_, err := m.CommandToModule([]byte(fmt.Sprintf("FRM%d,0,0,0", axis)), bus)
	return err
}
