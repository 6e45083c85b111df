package communicator

import (
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMCS2 is a minimal SCPI device with a linear channel numbering over
// its modules and an error queue for unknown commands.
type fakeMCS2 struct {
	mu      sync.Mutex
	modules []int
	errs    []string
	pos     map[int]float64
	mode    map[int]int
	state   map[int]int
	vel     map[int]float64
	idn     string
}

func newFakeMCS2(modules ...int) *fakeMCS2 {
	return &fakeMCS2{
		modules: modules,
		pos:     map[int]float64{},
		mode:    map[int]int{},
		state:   map[int]int{},
		vel:     map[int]float64{},
		idn:     "SmarAct,MCS2-00001234,0,1.0.0",
	}
}

func (f *fakeMCS2) fail() (string, bool) {
	f.errs = append(f.errs, `-113,"Undefined header"`)
	return "", false
}

func (f *fakeMCS2) respond(cmd string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd {
	case ":SYST:ERR:COUN?":
		return strconv.Itoa(len(f.errs)), true
	case ":SYST:ERR:NEXT?":
		e := f.errs[0]
		f.errs = f.errs[1:]
		return e, true
	case "*IDN?":
		return f.idn, true
	case ":DEV:NOBM?":
		return strconv.Itoa(len(f.modules)), true
	}

	if rest, ok := strings.CutPrefix(cmd, ":MOD"); ok {
		n, tail, _ := strings.Cut(rest, ":")
		mod, err := strconv.Atoi(n)
		if err != nil || mod >= len(f.modules) || tail != "NOMC?" {
			return f.fail()
		}
		return strconv.Itoa(f.modules[mod]), true
	}

	if rest, ok := strings.CutPrefix(cmd, ":MOVE"); ok {
		n, v, _ := strings.Cut(rest, " ")
		ch, _ := strconv.Atoi(n)
		value, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f.fail()
		}
		if f.mode[ch] == 1 {
			f.pos[ch] += value
		} else {
			f.pos[ch] = value
		}
		return "", false
	}

	if rest, ok := strings.CutPrefix(cmd, ":STOP"); ok {
		if _, err := strconv.Atoi(rest); err != nil {
			return f.fail()
		}
		return "", false
	}

	if rest, ok := strings.CutPrefix(cmd, ":CAL"); ok {
		if _, err := strconv.Atoi(rest); err != nil {
			return f.fail()
		}
		return "", false
	}

	rest, ok := strings.CutPrefix(cmd, ":CHAN")
	if !ok {
		return f.fail()
	}
	i := strings.IndexByte(rest, ':')
	if i < 0 {
		return f.fail()
	}
	ch, err := strconv.Atoi(rest[:i])
	if err != nil {
		return f.fail()
	}
	sub, arg, _ := strings.Cut(rest[i:], " ")
	switch sub {
	case ":POS?":
		return strconv.FormatFloat(f.pos[ch], 'f', -1, 64), true
	case ":POS":
		f.pos[ch], _ = strconv.ParseFloat(arg, 64)
		return "", false
	case ":MMOD":
		f.mode[ch], _ = strconv.Atoi(arg)
		return "", false
	case ":STATe?":
		return strconv.Itoa(f.state[ch]), true
	case ":VEL?":
		return strconv.FormatFloat(f.vel[ch], 'f', -1, 64), true
	case ":VEL":
		f.vel[ch], _ = strconv.ParseFloat(arg, 64)
		return "", false
	case ":CAL:OPT":
		return "", false
	}
	return f.fail()
}

func newTestMCS2(t *testing.T, modules ...int) (*MCS2, *fakeMCS2, *scripted) {
	t.Helper()
	f := newFakeMCS2(modules...)
	conn, s := newScriptedConn(t, MCS2Framer, f.respond)
	m, err := NewMCS2(conn)
	require.NoError(t, err)
	return m, f, s
}

func TestMCS2_Layout(t *testing.T) {
	m, _, _ := newTestMCS2(t, 3, 2)

	buses, err := m.BusList()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, buses)

	axes, err := m.AxesList(1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, axes)

	ch, err := m.channel(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, ch)

	_, err = m.channel(1, 2)
	assert.ErrorIs(t, err, ErrAddress)
	_, err = m.channel(2, 0)
	assert.ErrorIs(t, err, ErrAddress)

	ok, _ := m.BusCheck(1)
	assert.True(t, ok)
	ok, msg := m.BusCheck(2)
	assert.False(t, ok)
	assert.Contains(t, msg, "module 2")
}

func TestMCS2_Moves(t *testing.T) {
	m, f, s := newTestMCS2(t, 3, 2)

	require.NoError(t, m.GoTo(1.5e6, 1, 0))
	require.NoError(t, m.Go(-5e5, 1, 0))
	pos, err := m.Position(1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1e6, pos)
	assert.Equal(t, 1e6, f.pos[3])

	cmds := s.Commands()
	assert.Contains(t, cmds, ":CHAN3:MMOD 0")
	assert.Contains(t, cmds, ":MOVE3 1500000")
	assert.Contains(t, cmds, ":CHAN3:MMOD 1")
	assert.Contains(t, cmds, ":MOVE3 -500000")

	require.NoError(t, m.SetPosition(42, 0, 2))
	assert.Equal(t, 42.0, f.pos[2])

	require.NoError(t, m.Stop(0, 1))
	assert.Contains(t, s.Commands(), ":STOP1")
}

func TestMCS2_State(t *testing.T) {
	m, f, _ := newTestMCS2(t, 2)

	f.state[1] = mcs2StateActivelyMoving
	stand, err := m.MotorStand(0, 1)
	require.NoError(t, err)
	assert.False(t, stand)

	f.state[1] = mcs2StateEndStopReached
	stand, err = m.MotorStand(0, 1)
	require.NoError(t, err)
	assert.True(t, stand)
	end, err := m.MotorAtEnd(0, 1)
	require.NoError(t, err)
	assert.True(t, end)
	beg, err := m.MotorAtBeginning(0, 1)
	require.NoError(t, err)
	assert.True(t, beg)
}

func TestMCS2_ErrorQueue(t *testing.T) {
	m, f, _ := newTestMCS2(t, 2)

	_, err := m.CommandToBox([]byte(":BOGUS"))
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "Undefined header")
	assert.Empty(t, f.errs, "queue must be drained")

	// A stale error from an earlier command does not fail the next one.
	f.errs = append(f.errs, `-1,"stale"`)
	_, err = m.Position(0, 0)
	assert.NoError(t, err)
}

func TestMCS2_Parameters(t *testing.T) {
	m, _, s := newTestMCS2(t, 2)

	require.NoError(t, m.SetParameter("Velocity", 2500, 0, 1))
	v, err := m.Parameter("Velocity", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, v)
	assert.Contains(t, s.Commands(), ":CHAN1:VEL 2500")

	_, err = m.Parameter("Sensor Type", 0, 1)
	assert.ErrorIs(t, err, ErrUnknownParameter)
}

func TestMCS2_Calibrate(t *testing.T) {
	m, _, s := newTestMCS2(t, 1, 4)

	require.NoError(t, m.Calibrate(1, 2))
	cmds := s.Commands()
	assert.Contains(t, cmds, ":CHAN3:CAL:OPT 0")
	assert.Contains(t, cmds, ":CAL3")
}

func TestMCS2_CheckConnection(t *testing.T) {
	m, f, _ := newTestMCS2(t, 1)

	idn, err := m.CheckConnection()
	require.NoError(t, err)
	assert.Equal(t, f.idn, idn)

	f.idn = "Other,Device"
	_, err = m.CheckConnection()
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestNewMCS2_NoModules(t *testing.T) {
	f := newFakeMCS2()
	conn, _ := newScriptedConn(t, MCS2Framer, f.respond)
	_, err := NewMCS2(conn)
	assert.ErrorIs(t, err, ErrNoControllers)
}
