package box

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motorbox/internal/cluster"
	"github.com/banshee-data/motorbox/internal/communicator"
	"github.com/banshee-data/motorbox/internal/config"
	"github.com/banshee-data/motorbox/internal/connector"
	"github.com/banshee-data/motorbox/internal/emulator"
	"github.com/banshee-data/motorbox/internal/monitoring"
	"github.com/banshee-data/motorbox/internal/motor"
)

func muteLogs(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })
}

func newEmulatedComm(t *testing.T, buses, axes int) (*communicator.MCC2, *emulator.Box) {
	t.Helper()
	muteLogs(t)

	eb := emulator.NewBox(buses, axes, false)
	conn, err := connector.NewSerialConnector(eb, communicator.MCC2Framer, 20*time.Millisecond)
	require.NoError(t, err)
	comm := communicator.NewMCC2(conn)
	t.Cleanup(func() { comm.Close() })
	return comm, eb
}

func TestNew_Discovery(t *testing.T) {
	comm, _ := newEmulatedComm(t, 2, 3)

	b, err := New(comm)
	require.NoError(t, err)

	assert.Equal(t, "Box initialised. 2 controllers and 6 axes found:\n"+
		"Controller 0 (3 axes)\n"+
		"Controller 1 (3 axes)\n", b.Report())
	assert.Equal(t, []int{0, 1}, b.ControllersList())
	assert.Len(t, b.Motors(), 6)
	assert.Equal(t, motor.Coord{Bus: 1, Axis: 3}, b.MotorsList()[5])

	m, err := b.Motor(1, 2)
	require.NoError(t, err)
	assert.Equal(t, "Motor1.2", m.Name())
	assert.Equal(t, motor.DefaultConfig(), m.Config())

	byName, err := b.MotorByName("Motor1.2")
	require.NoError(t, err)
	assert.Same(t, m, byName)

	_, err = b.Motor(2, 1)
	assert.ErrorIs(t, err, ErrNoMotor)
	_, err = b.Motor(0, 4)
	assert.ErrorIs(t, err, ErrNoMotor)
	_, err = b.MotorByName("Slit")
	assert.ErrorIs(t, err, ErrNoMotor)
}

func TestNew_NoControllers(t *testing.T) {
	comm, _ := newEmulatedComm(t, 0, 0)
	_, err := New(comm)
	assert.ErrorIs(t, err, communicator.ErrNoControllers)
}

func TestNewFromInput(t *testing.T) {
	comm, eb := newEmulatedComm(t, 1, 2)

	cfg := motor.DefaultConfig()
	cfg.DisplayUnits = "mm"
	cfg.DisplPerContr = 0.01
	in := config.Input{
		Buses: []int{0, 3},
		Motors: []config.MotorRow{
			{Coord: motor.Coord{Bus: 0, Axis: 2}, Name: "Slit", Config: cfg, Parameters: map[string]float64{"Lauffrequenz": 800}},
			{Coord: motor.Coord{Bus: 0, Axis: 5}, Name: "Ghost"},
			{Coord: motor.Coord{Bus: 3, Axis: 1}, Name: "Away"},
			{Coord: motor.Coord{Bus: 0, Axis: 1}, Config: motor.DefaultConfig(), Parameters: map[string]float64{}},
		},
	}

	b, err := NewFromInput(comm, in)
	require.NoError(t, err)
	assert.Equal(t, "1 controllers and 2 motors initialised:\n"+
		"Controller 3 is not connected and was not initialised.\n"+
		"Axis 5 is not present on controller 0, the motor was not initialised.\n"+
		"Controller 0: Motor0.1, Slit\n", b.Report())

	slit, err := b.MotorByName("Slit")
	require.NoError(t, err)
	assert.Equal(t, "mm", slit.Config().DisplayUnits)
	freq, err := slit.Parameter("Lauffrequenz")
	require.NoError(t, err)
	assert.Equal(t, 800.0, freq)
	assert.Equal(t, 800.0, eb.Motor(0, 2).Parameter(14))
}

func TestNewFromInput_NameCollision(t *testing.T) {
	comm, _ := newEmulatedComm(t, 1, 2)
	in := config.Input{
		Buses: []int{0},
		Motors: []config.MotorRow{
			{Coord: motor.Coord{Bus: 0, Axis: 1}, Name: "Slit", Config: motor.DefaultConfig(), Parameters: map[string]float64{}},
			{Coord: motor.Coord{Bus: 0, Axis: 2}, Name: "Slit", Config: motor.DefaultConfig(), Parameters: map[string]float64{}},
		},
	}
	_, err := NewFromInput(comm, in)
	assert.ErrorIs(t, err, cluster.ErrNameCollision)
}

func TestBox_ParametersAndConfig(t *testing.T) {
	comm, _ := newEmulatedComm(t, 1, 2)
	b, err := New(comm)
	require.NoError(t, err)

	params, err := b.Parameters()
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.Equal(t, comm.ParameterDefaults().Values(), params[motor.Coord{Bus: 0, Axis: 1}])

	require.NoError(t, b.SetParameters(map[motor.Coord]map[string]float64{
		{Bus: 0, Axis: 1}: {"Laufstrom": 5},
		{Bus: 4, Axis: 1}: {"Laufstrom": 5},
	}))
	m, err := b.Motor(0, 1)
	require.NoError(t, err)
	current, err := m.Parameter("Laufstrom")
	require.NoError(t, err)
	assert.Equal(t, 5.0, current)

	err = b.SetMotorsConfig(map[motor.Coord]map[string]any{
		{Bus: 0, Axis: 2}: {"name": "Filter", "display_units": "deg"},
		{Bus: 0, Axis: 9}: {"name": "Nope"},
	})
	assert.ErrorIs(t, err, ErrNoMotor)
	filter, err := b.MotorByName("Filter")
	require.NoError(t, err)
	assert.Equal(t, "deg", filter.Config().DisplayUnits)

	c, err := b.Cluster()
	require.NoError(t, err)
	assert.Equal(t, []string{"Filter", "Motor0.1"}, c.Names())
}

func TestBox_StopAndCommand(t *testing.T) {
	comm, eb := newEmulatedComm(t, 1, 2)
	b, err := New(comm)
	require.NoError(t, err)

	eb.SetRealtime(true)
	m, err := b.Motor(0, 1)
	require.NoError(t, err)
	require.NoError(t, m.Go(1e6, motor.Contr, motor.MoveOptions{}))
	require.NoError(t, b.Stop())
	eb.Motor(0, 1).WaitStop()

	c, ok := b.Controller(0)
	require.True(t, ok)
	stand, err := c.Stand()
	require.NoError(t, err)
	assert.True(t, stand)
	require.NoError(t, c.WaitStop(nil))

	reply, err := c.Command([]byte("IVR"))
	require.NoError(t, err)
	assert.Equal(t, emulator.Version, string(reply))

	b.SetTolerance(3)
	assert.Equal(t, 3.0, comm.Tolerance())
}

func TestBox_EmptyInputTemplate(t *testing.T) {
	comm, _ := newEmulatedComm(t, 1, 2)
	b, err := New(comm)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, b.EmptyInputTemplate(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], config.ColName+";"+config.ColBus+";"+config.ColAxis))
	assert.Contains(t, lines[0], "Lauffrequenz")
	assert.True(t, strings.HasPrefix(lines[1], "Motor0.1;0;1;"))
	assert.True(t, strings.HasPrefix(lines[2], "Motor0.2;0;2;"))

	// Empty cells still make a rectangular table.
	_, err = config.ReadTable(strings.NewReader(buf.String()), config.DefaultDelimiter)
	require.NoError(t, err)
}

func TestBox_Close(t *testing.T) {
	comm, _ := newEmulatedComm(t, 1, 1)
	b, err := New(comm)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = b.Command([]byte("IVR"))
	assert.Error(t, err)
}
