package emulator

import (
	"math"
	"sync"
	"time"
)

// Firmware parameter numbers understood by the emulator.
const (
	paramConversion = 3
	paramFrequency  = 14
	paramPosition   = 20
	paramInitiator  = 27
	paramStopCur    = 40
	paramRunCur     = 41
	paramBoostCur   = 42
)

var parameterDefaults = map[int]float64{
	paramFrequency:  400,
	paramStopCur:    2,
	paramRunCur:     2,
	paramBoostCur:   2,
	paramInitiator:  0,
	paramConversion: 1,
}

func validParameter(n int) bool {
	_, ok := parameterDefaults[n]
	return ok || n == paramPosition
}

// Default travel range of a simulated motor, in encoder steps.
const (
	DefaultBeginning = -10000
	DefaultEnd       = 10000
)

// Motor is one simulated axis. Its position is kept in encoder steps and
// reported in controller units (steps times the conversion parameter).
type Motor struct {
	box *Box

	mu        sync.Mutex
	steps     float64
	dest      float64
	beginning float64
	end       float64
	atBeg     bool
	atEnd     bool
	params    map[int]float64

	moving bool
	gen    uint64
	// cancel is closed by Stop; nil when the current run was cancelled or
	// no run is active.
	cancel chan struct{}
}

func newMotor(b *Box) *Motor {
	params := make(map[int]float64, len(parameterDefaults))
	for k, v := range parameterDefaults {
		params[k] = v
	}
	return &Motor{
		box:       b,
		beginning: DefaultBeginning,
		end:       DefaultEnd,
		params:    params,
	}
}

// SetLimits moves the simulated initiators, in encoder steps.
func (m *Motor) SetLimits(beginning, end float64) {
	m.mu.Lock()
	m.beginning, m.end = beginning, end
	m.mu.Unlock()
}

func (m *Motor) Stand() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.moving
}

func (m *Motor) AtBeginning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atBeg
}

func (m *Motor) AtEnd() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atEnd
}

// Position returns the position in controller units.
func (m *Motor) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps * m.params[paramConversion]
}

// SetPosition overwrites the position counter.
func (m *Motor) SetPosition(v float64) {
	m.mu.Lock()
	m.steps = v / m.params[paramConversion]
	m.mu.Unlock()
}

func (m *Motor) Parameter(n int) float64 {
	if n == paramPosition {
		return m.Position()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params[n]
}

func (m *Motor) SetParameter(n int, v float64) {
	if n == paramPosition {
		m.SetPosition(v)
		return
	}
	m.mu.Lock()
	m.params[n] = v
	m.mu.Unlock()
}

// Go moves by shift controller units.
func (m *Motor) Go(shift float64) {
	m.GoTo(m.Position() + shift)
}

// GoTo moves to destination in controller units. A running move is
// retargeted rather than restarted.
func (m *Motor) GoTo(destination float64) {
	m.mu.Lock()
	m.dest = destination / m.params[paramConversion]
	if m.moving && m.cancel != nil {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	cancel := make(chan struct{})
	m.cancel = cancel
	m.moving = true
	m.mu.Unlock()

	m.box.running.Add(1)
	go m.run(gen, cancel)
}

// Stop cancels the running move. The motor halts after the current step.
func (m *Motor) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		close(m.cancel)
		m.cancel = nil
	}
	m.mu.Unlock()
}

// WaitStop blocks until the motor stands.
func (m *Motor) WaitStop() {
	for !m.Stand() {
		time.Sleep(m.stepDuration())
	}
}

func (m *Motor) stepDuration() time.Duration {
	m.mu.Lock()
	freq := m.params[paramFrequency]
	m.mu.Unlock()
	if freq <= 0 {
		return time.Millisecond
	}
	return time.Duration(float64(time.Second) / freq)
}

// sense updates the initiator flags from the position. The caller holds mu.
func (m *Motor) sense() {
	m.atEnd = m.steps >= m.end
	m.atBeg = m.steps <= m.beginning
}

func (m *Motor) run(gen uint64, cancel <-chan struct{}) {
	defer m.box.running.Done()

	for {
		select {
		case <-cancel:
			m.finish(gen)
			return
		default:
		}

		m.mu.Lock()
		if math.Abs(m.steps-m.dest) <= 0.5 {
			m.mu.Unlock()
			m.finish(gen)
			return
		}
		m.sense()
		if m.steps > m.dest {
			if m.atBeg {
				m.mu.Unlock()
				m.finish(gen)
				return
			}
			m.steps--
		} else {
			if m.atEnd {
				m.mu.Unlock()
				m.finish(gen)
				return
			}
			m.steps++
		}
		m.mu.Unlock()

		if m.box.realtime.Load() {
			select {
			case <-cancel:
				m.finish(gen)
				return
			case <-time.After(m.stepDuration()):
			}
		}
	}
}

func (m *Motor) finish(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sense()
	if m.gen == gen {
		m.moving = false
		m.cancel = nil
	}
}
