package communicator

import (
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motorbox/internal/connector"
	"github.com/banshee-data/motorbox/internal/emulator"
	"github.com/banshee-data/motorbox/internal/monitoring"
)

func newEmulatedMCC2(t *testing.T, nBus, nAxes int) (*MCC2, *emulator.Box) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	box := emulator.NewBox(nBus, nAxes, false)
	conn, err := connector.NewSerialConnector(box, MCC2Framer, 20*time.Millisecond)
	require.NoError(t, err)
	m := NewMCC2(conn)
	t.Cleanup(func() { m.Close() })
	return m, box
}

func TestMCC2_Framing(t *testing.T) {
	m, box := newEmulatedMCC2(t, 6, 2)

	_, err := m.CommandToModule([]byte("IVR"), 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x025IVR\x03"), box.LastCommand())

	require.NoError(t, m.GoTo(12.5, 0, 1))
	assert.Equal(t, []byte("\x0201A12.5\x03"), box.LastCommand())

	require.NoError(t, m.Go(-3, 0, 1))
	assert.Equal(t, []byte("\x0201-3\x03"), box.LastCommand())

	_, err = m.CommandToModule([]byte("IVR"), 10)
	assert.ErrorIs(t, err, ErrNoReply)
	assert.Equal(t, []byte("\x02aIVR\x03"), box.LastCommand())
}

func TestMCC2_Addressing(t *testing.T) {
	m, _ := newEmulatedMCC2(t, 1, 1)

	for _, tc := range []struct {
		bus, axis int
	}{
		{-1, 1}, {16, 1}, {0, -1}, {0, 10},
	} {
		_, err := m.CommandToMotor([]byte("=H"), tc.bus, tc.axis)
		assert.ErrorIs(t, err, ErrAddress, "bus %d axis %d", tc.bus, tc.axis)
	}
	assert.ErrorIs(t, m.Calibrate(16, 1), ErrAddress)
	assert.NoError(t, m.Calibrate(0, 1))
}

func TestMCC2_MoveAndPosition(t *testing.T) {
	m, box := newEmulatedMCC2(t, 1, 2)

	require.NoError(t, m.SetPosition(40, 0, 2))
	pos, err := m.Position(0, 2)
	require.NoError(t, err)
	assert.Equal(t, 40.0, pos)

	require.NoError(t, m.GoTo(100, 0, 2))
	box.Motor(0, 2).WaitStop()
	stand, err := m.MotorStand(0, 2)
	require.NoError(t, err)
	assert.True(t, stand)
	pos, err = m.Position(0, 2)
	require.NoError(t, err)
	assert.Equal(t, 100.0, pos)

	require.NoError(t, m.Stop(0, 2))
}

func TestMCC2_Initiators(t *testing.T) {
	m, box := newEmulatedMCC2(t, 1, 1)
	em := box.Motor(0, 1)
	em.SetLimits(-5, 5)

	require.NoError(t, m.Go(100, 0, 1))
	em.WaitStop()
	end, err := m.MotorAtEnd(0, 1)
	require.NoError(t, err)
	beg, err := m.MotorAtBeginning(0, 1)
	require.NoError(t, err)
	assert.True(t, end)
	assert.False(t, beg)
}

func TestMCC2_Parameters(t *testing.T) {
	m, _ := newEmulatedMCC2(t, 1, 1)

	v, err := m.Parameter("Lauffrequenz", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 400.0, v)

	require.NoError(t, m.SetParameter("Lauffrequenz", 1200, 0, 1))
	v, err = m.Parameter("Lauffrequenz", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 1200.0, v)

	_, err = m.Parameter("Drehmoment", 0, 1)
	assert.ErrorIs(t, err, ErrUnknownParameter)
	assert.ErrorIs(t, m.SetParameter("Drehmoment", 1, 0, 1), ErrUnknownParameter)

	names := m.ParameterDefaults().Names()
	assert.Len(t, names, len(MCC2Parameters))
	for _, n := range names {
		assert.Contains(t, MCC2Parameters, n)
	}
}

func TestMCC2_Rejected(t *testing.T) {
	m, _ := newEmulatedMCC2(t, 1, 1)

	// Axis 2 does not exist on the emulated module.
	_, err := m.Position(0, 2)
	assert.ErrorIs(t, err, ErrRejected)

	_, err = m.CommandToMotor([]byte("P99R"), 0, 1)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestMCC2_Discovery(t *testing.T) {
	m, _ := newEmulatedMCC2(t, 3, 4)

	buses, err := m.BusList()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, buses)

	axes, err := m.AxesList(2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, axes)

	ok, version := m.BusCheck(1)
	assert.True(t, ok)
	assert.Equal(t, emulator.Version, version)

	ok, _ = m.BusCheck(9)
	assert.False(t, ok)

	version, err = m.CheckConnection()
	require.NoError(t, err)
	assert.Equal(t, emulator.Version, version)
}

func TestMCC2_NoControllers(t *testing.T) {
	port := connector.NewScriptedPort()
	conn, err := connector.NewSerialConnector(port, MCC2Framer, time.Millisecond)
	require.NoError(t, err)
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	m := NewMCC2(conn)
	_, err = m.BusList()
	assert.ErrorIs(t, err, ErrNoControllers)
	_, err = m.CheckConnection()
	assert.ErrorIs(t, err, ErrNoControllers)

	// BusList tries every bus twice, CheckConnection four times.
	assert.Equal(t, 16*2+16*4, port.WriteCalls)
}

func TestMCC2_ForeignVersionIsNotAController(t *testing.T) {
	port := connector.NewScriptedPort()
	port.OnWrite = func(p []byte) { port.AddReadData([]byte("\x02\x06OtherBox 2.0\x03")) }
	conn, err := connector.NewSerialConnector(port, MCC2Framer, time.Millisecond)
	require.NoError(t, err)

	ok, msg := NewMCC2(conn).BusCheck(0)
	assert.False(t, ok)
	assert.Equal(t, "OtherBox 2.0", msg)
}

func TestClassifyMCC2(t *testing.T) {
	tests := []struct {
		name    string
		reply   []byte
		want    []byte
		wantErr error
	}{
		{"timeout", nil, nil, ErrNoReply},
		{"ack", []byte{MCC2Ack}, []byte{}, nil},
		{"ack with payload", []byte("\x06E"), []byte("E"), nil},
		{"nak", []byte{MCC2Nak}, nil, ErrRejected},
		{"garbage", []byte("??"), nil, ErrUnexpectedReply},
		{"empty frame", []byte{}, nil, ErrUnexpectedReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := classifyMCC2(tt.reply)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("classifyMCC2(%q) error = %v, want %v", tt.reply, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("classifyMCC2(%q) unexpected error: %v", tt.reply, err)
			}
			if string(got) != string(tt.want) {
				t.Errorf("classifyMCC2(%q) = %q, want %q", tt.reply, got, tt.want)
			}
		})
	}
}
