package motor

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/banshee-data/motorbox/internal/monitoring"
)

// CalibrationState is the progress of a motor's calibration run.
type CalibrationState int

const (
	Idle CalibrationState = iota
	ProbingEnd
	ProbingBeginning
	Normalizing
	Centering
	Done
	Aborted
)

func (s CalibrationState) String() string {
	switch s {
	case Idle:
		return "idle"
	case ProbingEnd:
		return "probing end"
	case ProbingBeginning:
		return "probing beginning"
	case Normalizing:
		return "normalizing"
	case Centering:
		return "centering"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("CalibrationState(%d)", int(s))
}

// maxProbeMoves bounds the number of calibration shifts sent while looking
// for one end of travel.
const maxProbeMoves = 100

// CalibrateOptions controls Calibrate.
type CalibrateOptions struct {
	Stop     StopIndicator
	Reporter WaitReporter
	// GoToMiddle moves the motor to 500 (norm) once calibrated.
	GoToMiddle bool
}

// CalibrationState returns the state of the last or running calibration.
func (m *Motor) CalibrationState() CalibrationState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Motor) setState(s CalibrationState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// BaseCalibration runs the controller's own reference procedure and waits
// for it to finish.
func (m *Motor) BaseCalibration() error {
	if err := m.comm.Calibrate(m.coord.Bus, m.coord.Axis); err != nil {
		return fmt.Errorf("%s: base calibration: %w", m.Name(), err)
	}
	return m.WaitStop(nil)
}

// Calibrate drives the motor to both ends of travel and rescales it so
// that the beginning reads 0 and the end 1000 in normalised units. The
// configuration only changes once both ends are known; a cancelled or
// failed run leaves it untouched apart from the final centering move.
func (m *Motor) Calibrate(opts CalibrateOptions) error {
	name := m.Name()
	if !m.IsCalibratable() {
		return fmt.Errorf("%s: calibration needs initiators or an encoder: %w", name, ErrNotSupported)
	}
	logf := monitoring.Prefixed(fmt.Sprintf("%s: calibration %s", name, uuid.NewString()))

	abort := func(err error) error {
		m.setState(Aborted)
		if errors.Is(err, ErrCancelled) {
			if serr := m.Stop(); serr != nil {
				logf("stop: %v", serr)
			}
			if opts.Reporter != nil {
				opts.Reporter.MotorDone(name)
			}
		}
		logf("aborted: %v", err)
		return err
	}

	logf("started")
	if err := m.BaseCalibration(); err != nil {
		return abort(err)
	}

	m.setState(ProbingEnd)
	end, err := m.probe(1, opts.Stop)
	if err != nil {
		return abort(err)
	}
	logf("end found at %g (contr)", end)

	m.setState(ProbingBeginning)
	beginning, err := m.probe(-1, opts.Stop)
	if err != nil {
		return abort(err)
	}
	logf("beginning found at %g (contr)", beginning)

	m.setState(Normalizing)
	if scalar.EqualWithinAbsOrRel(end, beginning, 1e-9, 1e-9) {
		return abort(fmt.Errorf("%s: %w: end and beginning coincide at %g", name, ErrCalibration, end))
	}
	cfg := m.Config()
	cfg.NormPerContr = 1000 / (end - beginning)
	cfg.NullPosition = beginning
	if err := m.ApplyConfig(cfg); err != nil {
		return abort(err)
	}

	if opts.GoToMiddle {
		m.setState(Centering)
		if err := m.GoTo(500, Norm, MoveOptions{Wait: true, Check: true, Stop: opts.Stop}); err != nil {
			return abort(err)
		}
	}

	m.setState(Done)
	if opts.Reporter != nil {
		opts.Reporter.MotorDone(name)
	}
	logf("done, norm_per_contr %g", cfg.NormPerContr)
	return nil
}

// probe sends calibration shifts in direction dir until the corresponding
// end of travel is detected and returns the position there in controller
// units.
func (m *Motor) probe(dir float64, stop StopIndicator) (float64, error) {
	shift := dir * m.comm.CalibrationShift()
	for moves := 1; moves <= maxProbeMoves; moves++ {
		if err := m.move(shift, Contr, MoveOptions{}, true); err != nil {
			return 0, err
		}
		err := m.WaitStop(stop)
		if errors.Is(err, ErrCancelled) || stopRequested(stop) {
			return 0, fmt.Errorf("%s: %w", m.Name(), ErrCancelled)
		}
		if err != nil {
			return 0, err
		}
		at, err := m.atLimit(dir)
		if err != nil {
			return 0, err
		}
		if at {
			return m.Position(Contr)
		}
	}
	return 0, fmt.Errorf("%s: %w: no end of travel after %d moves", m.Name(), ErrCalibration, maxProbeMoves)
}
