// Package motor models one controllable axis on top of a vendor
// communicator: the three coordinate systems, soft limits, verified moves
// and the calibration that establishes the normalised 0..1000 scale.
package motor

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/banshee-data/motorbox/internal/communicator"
	"github.com/banshee-data/motorbox/internal/monitoring"
	"github.com/banshee-data/motorbox/internal/timeutil"
)

var (
	ErrConfig    = errors.New("invalid motor configuration")
	ErrConfigKey = errors.New("unknown motor configuration key")
	// ErrSoftLimits means the configured upper soft limit is below the
	// lower one.
	ErrSoftLimits = errors.New("soft limits are inverted")
	// ErrOutsideSoftLimits is returned by checked moves whose destination
	// lies beyond a soft limit. The motor does not move.
	ErrOutsideSoftLimits = errors.New("destination outside soft limits")
	ErrCancelled         = errors.New("cancelled by user")
	// ErrUnreachable means a checked move missed its destination on every
	// attempt.
	ErrUnreachable = errors.New("destination not reached")
	ErrCalibration = errors.New("calibration failed")
	// ErrStuck means the encoder probe saw no movement in either direction.
	ErrStuck = errors.New("motor is stuck")
	// ErrNotSupported is the motor-level capability error. It matches
	// communicator.ErrNotSupported under errors.Is.
	ErrNotSupported = communicator.ErrNotSupported
)

// moveAttempts bounds the send-wait-verify loop of a checked move.
const moveAttempts = 3

// DefaultBackoff is the polling schedule of WaitStop.
var DefaultBackoff = timeutil.Backoff{Settle: 100 * time.Millisecond, Interval: 200 * time.Millisecond}

// Coord addresses a motor on its box.
type Coord struct {
	Bus  int `json:"bus"`
	Axis int `json:"axis"`
}

func (c Coord) String() string { return fmt.Sprintf("%d.%d", c.Bus, c.Axis) }

// Motor is one axis of a controller. All commands go through the shared
// communicator, which serialises them with the rest of the box.
//
// A motor is driven by one caller at a time; the mutex only protects the
// configuration against concurrent readers such as status endpoints.
type Motor struct {
	comm  communicator.Communicator
	coord Coord
	clock timeutil.Clock

	mu         sync.RWMutex
	name       string
	config     Config
	softLimits SoftLimits
	backoff    timeutil.Backoff
	state      CalibrationState
}

// New creates the motor at bus and axis with DefaultConfig and pushes the
// vendor's parameter defaults to the controller.
func New(comm communicator.Communicator, bus, axis int) (*Motor, error) {
	m := &Motor{
		comm:    comm,
		coord:   Coord{Bus: bus, Axis: axis},
		clock:   timeutil.RealClock{},
		name:    fmt.Sprintf("Motor%d.%d", bus, axis),
		config:  DefaultConfig(),
		backoff: DefaultBackoff,
	}
	if err := m.SetParameters(nil); err != nil {
		return nil, fmt.Errorf("%s: set parameter defaults: %w", m.name, err)
	}
	return m, nil
}

// SetClock replaces the clock used by wait loops.
func (m *Motor) SetClock(c timeutil.Clock) {
	m.mu.Lock()
	m.clock = c
	m.mu.Unlock()
}

// SetBackoff replaces the polling schedule of WaitStop.
func (m *Motor) SetBackoff(b timeutil.Backoff) {
	m.mu.Lock()
	m.backoff = b
	m.mu.Unlock()
}

func (m *Motor) Coord() Coord { return m.coord }

func (m *Motor) Communicator() communicator.Communicator { return m.comm }

func (m *Motor) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

func (m *Motor) SetName(name string) {
	m.mu.Lock()
	m.name = name
	m.mu.Unlock()
}

// Config returns a copy of the current configuration.
func (m *Motor) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// ApplyConfig replaces the configuration after validating it.
func (m *Motor) ApplyConfig(c Config) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%s: %w", m.Name(), err)
	}
	m.mu.Lock()
	m.config = c
	m.mu.Unlock()
	return nil
}

// SetConfig patches the configuration from loosely typed values. The key
// "name" renames the motor. A nil map restores DefaultConfig.
func (m *Motor) SetConfig(values map[string]any) error {
	if values == nil {
		return m.ApplyConfig(DefaultConfig())
	}
	rest := make(map[string]any, len(values))
	var name *string
	for k, v := range values {
		if k == "name" {
			s := fmt.Sprint(v)
			name = &s
			continue
		}
		rest[k] = v
	}
	c, err := m.Config().Patch(rest)
	if err != nil {
		return fmt.Errorf("%s: %w", m.Name(), err)
	}
	m.mu.Lock()
	m.config = c
	if name != nil {
		m.name = *name
	}
	m.mu.Unlock()
	return nil
}

func (m *Motor) WithInitiators() bool { return m.Config().WithInitiators }
func (m *Motor) WithEncoder() bool    { return m.Config().WithEncoder }

// IsCalibratable reports whether the motor has initiators or an encoder.
func (m *Motor) IsCalibratable() bool { return m.Config().Calibratable() }

// TransformUnits converts v between coordinate systems. See
// Config.Transform.
func (m *Motor) TransformUnits(v float64, from, to Units, rel bool) float64 {
	return m.Config().Transform(v, from, to, rel)
}

// Tolerance is the controller's positioning tolerance in display units.
func (m *Motor) Tolerance() float64 {
	return math.Abs(m.TransformUnits(m.comm.Tolerance(), Contr, Displ, true))
}

// SoftLimits returns the limits in normalised units.
func (m *Motor) SoftLimits() SoftLimits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.softLimits
}

// SetSoftLimits sets the limits, given in units. Nil bounds are open.
func (m *Motor) SetSoftLimits(l SoftLimits, units Units) {
	cfg := m.Config()
	conv := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		return Float(cfg.Transform(*v, units, Norm, false))
	}
	m.mu.Lock()
	m.softLimits = SoftLimits{Min: conv(l.Min), Max: conv(l.Max)}
	m.mu.Unlock()
}

// SetDisplayNull moves the display origin to displNull, given in normalised
// units, or to the current position when displNull is nil.
func (m *Motor) SetDisplayNull(displNull *float64) error {
	v := 0.0
	if displNull != nil {
		v = *displNull
	} else {
		pos, err := m.Position(Norm)
		if err != nil {
			return err
		}
		v = pos
	}
	m.mu.Lock()
	m.config.DisplNull = v
	m.mu.Unlock()
	return nil
}

// Position reads the position in units.
func (m *Motor) Position(units Units) (float64, error) {
	raw, err := m.comm.Position(m.coord.Bus, m.coord.Axis)
	if err != nil {
		return 0, fmt.Errorf("%s: position: %w", m.Name(), err)
	}
	cfg := m.Config()
	return cfg.Transform(cfg.sign()*raw, Contr, units, false), nil
}

// SetPosition overwrites the controller's position counter so that the
// current position reads as v in units.
func (m *Motor) SetPosition(v float64, units Units) error {
	cfg := m.Config()
	contr := cfg.Transform(v, units, Contr, false)
	if err := m.comm.SetPosition(cfg.sign()*contr, m.coord.Bus, m.coord.Axis); err != nil {
		return fmt.Errorf("%s: set position: %w", m.Name(), err)
	}
	monitoring.Logf("%s: position set to %g %s", m.Name(), v, units)
	return nil
}

// Stand reports whether the motor is at rest.
func (m *Motor) Stand() (bool, error) {
	return m.comm.MotorStand(m.coord.Bus, m.coord.Axis)
}

func (m *Motor) Stop() error {
	if err := m.comm.Stop(m.coord.Bus, m.coord.Axis); err != nil {
		return fmt.Errorf("%s: stop: %w", m.Name(), err)
	}
	monitoring.Logf("%s: stopped", m.Name())
	return nil
}

// Command sends a raw, motor-addressed command.
func (m *Motor) Command(raw []byte) ([]byte, error) {
	return m.comm.CommandToMotor(raw, m.coord.Bus, m.coord.Axis)
}

func (m *Motor) Parameter(name string) (float64, error) {
	return m.comm.Parameter(name, m.coord.Bus, m.coord.Axis)
}

func (m *Motor) SetParameter(name string, v float64) error {
	return m.comm.SetParameter(name, v, m.coord.Bus, m.coord.Axis)
}

// Parameters reads every vendor parameter of the motor.
func (m *Motor) Parameters() (map[string]float64, error) {
	out := make(map[string]float64)
	for _, name := range m.comm.ParameterDefaults().Names() {
		v, err := m.Parameter(name)
		if err != nil {
			return nil, fmt.Errorf("%s: parameter %q: %w", m.Name(), name, err)
		}
		out[name] = v
	}
	return out, nil
}

// SetParameters writes values in name order. A nil map writes the vendor
// defaults.
func (m *Motor) SetParameters(values map[string]float64) error {
	if values == nil {
		values = m.comm.ParameterDefaults().Values()
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := m.SetParameter(name, values[name]); err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
	}
	return nil
}

// WaitStop blocks until the motor stands. It returns ErrCancelled, without
// stopping the motor, once stop requests it.
func (m *Motor) WaitStop(stop StopIndicator) error {
	m.mu.RLock()
	clock, backoff := m.clock, m.backoff
	m.mu.RUnlock()

	return timeutil.Poll(clock, backoff, func() (bool, error) {
		stand, err := m.Stand()
		if err != nil {
			return false, fmt.Errorf("%s: stand: %w", m.Name(), err)
		}
		if stand {
			return true, nil
		}
		if stopRequested(stop) {
			return false, ErrCancelled
		}
		return false, nil
	})
}

// sendTo issues an absolute move to dest in normalised units.
func (m *Motor) sendTo(dest float64) error {
	cfg := m.Config()
	contr := cfg.Transform(dest, Norm, Contr, false)
	if err := m.comm.GoTo(cfg.sign()*contr, m.coord.Bus, m.coord.Axis); err != nil {
		return fmt.Errorf("%s: go to %g: %w", m.Name(), contr, err)
	}
	return nil
}

// GoTo moves to dest, given in units, subject to the soft limits. Without
// opts.Wait it returns once the controller accepted the command. With
// opts.Wait it returns after arrival, verified against the tolerance when
// opts.Check is set, retrying the move up to three times.
func (m *Motor) GoTo(dest float64, units Units, opts MoveOptions) error {
	name := m.Name()
	target := m.TransformUnits(dest, units, Norm, false)
	target, err := m.SoftLimits().Clamp(target, opts.Check)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if !opts.Wait {
		return m.sendTo(target)
	}

	tol := math.Abs(m.TransformUnits(m.comm.Tolerance(), Contr, Norm, true))
	for attempt := 1; attempt <= moveAttempts; attempt++ {
		if err := m.sendTo(target); err != nil {
			return err
		}
		err := m.WaitStop(opts.Stop)
		if errors.Is(err, ErrCancelled) || stopRequested(opts.Stop) {
			if serr := m.Stop(); serr != nil {
				monitoring.Logf("%s: stop after cancel: %v", name, serr)
			}
			return fmt.Errorf("%s: %w", name, ErrCancelled)
		}
		if err != nil {
			return err
		}
		if !opts.Check {
			opts.done(name)
			return nil
		}
		pos, err := m.Position(Norm)
		if err != nil {
			return err
		}
		if scalar.EqualWithinAbs(pos, target, tol) {
			opts.done(name)
			return nil
		}
		monitoring.Logf("%s: attempt %d ended at %g, destination %g (norm)", name, attempt, pos, target)
	}
	return fmt.Errorf("%s: %w: %g %s", name, ErrUnreachable, dest, units)
}

// Go moves by shift, given in units. A bare relative command is sent only
// when nothing has to be enforced; with soft limits, Wait or Check the move
// is rewritten as a GoTo from the current position.
func (m *Motor) Go(shift float64, units Units, opts MoveOptions) error {
	return m.move(shift, units, opts, false)
}

// move implements Go. During calibration the soft limits must not stop the
// probe from reaching the hardware limits.
func (m *Motor) move(shift float64, units Units, opts MoveOptions, calibrating bool) error {
	if shift == 0 {
		return nil
	}
	if (m.SoftLimits().IsSet() && !calibrating) || opts.Wait || opts.Check {
		pos, err := m.Position(Norm)
		if err != nil {
			return err
		}
		return m.GoTo(pos+m.TransformUnits(shift, units, Norm, true), Norm, opts)
	}

	cfg := m.Config()
	contr := cfg.sign() * cfg.Transform(shift, units, Contr, true)
	if err := m.comm.Go(contr, m.coord.Bus, m.coord.Axis); err != nil {
		return fmt.Errorf("%s: go by %g: %w", m.Name(), contr, err)
	}
	return nil
}

// AtEnd reports whether the motor sits at the end of its travel.
func (m *Motor) AtEnd() (bool, error) { return m.atLimit(1) }

// AtBeginning reports whether the motor sits at the beginning of its travel.
func (m *Motor) AtBeginning() (bool, error) { return m.atLimit(-1) }

// atLimit answers AtEnd (dir > 0) or AtBeginning (dir < 0). Initiator
// motors ask the controller; encoder motors probe by moving three
// tolerances outward and then inward.
func (m *Motor) atLimit(dir float64) (bool, error) {
	cfg := m.Config()
	switch {
	case cfg.WithInitiators:
		forward := (dir > 0) != cfg.Inversion
		if forward {
			return m.comm.MotorAtEnd(m.coord.Bus, m.coord.Axis)
		}
		return m.comm.MotorAtBeginning(m.coord.Bus, m.coord.Axis)
	case cfg.WithEncoder:
		return m.probeEncoder(dir)
	}
	return false, fmt.Errorf("%s: limit detection needs initiators or an encoder: %w", m.Name(), ErrNotSupported)
}

func (m *Motor) probeEncoder(dir float64) (bool, error) {
	start, err := m.Position(Contr)
	if err != nil {
		return false, err
	}
	tol := m.comm.Tolerance()
	step := 3 * tol
	wait := MoveOptions{Wait: true}

	moved := func() (float64, error) {
		pos, err := m.Position(Contr)
		return dir * (pos - start), err
	}
	back := func() error { return m.GoTo(start, Contr, wait) }

	if err := m.GoTo(start+dir*step, Contr, wait); err != nil {
		return false, err
	}
	d, err := moved()
	if err != nil {
		return false, err
	}
	if d > tol {
		return false, back()
	}

	if err := m.GoTo(start-dir*step, Contr, wait); err != nil {
		return false, err
	}
	d, err = moved()
	if err != nil {
		return false, err
	}
	if d < -tol {
		return true, back()
	}
	return false, fmt.Errorf("%s: %w", m.Name(), ErrStuck)
}
