// Package cluster groups motors, possibly from several boxes, under unique
// names and drives them together.
package cluster

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/motorbox/internal/monitoring"
	"github.com/banshee-data/motorbox/internal/motor"
	"github.com/banshee-data/motorbox/internal/timeutil"
)

var (
	// ErrNameCollision means two different motors share a name.
	ErrNameCollision = errors.New("motor name already in use")
	ErrUnknownMotor  = errors.New("unknown motor")
	// ErrTravel means a waypoint of a path could not be reached.
	ErrTravel = errors.New("path travel failed")
)

// standBackoff is the polling schedule of WaitAllStop.
var standBackoff = timeutil.Backoff{Interval: 500 * time.Millisecond}

// MotorSet is anything that can list its motors, such as a box or another
// cluster.
type MotorSet interface {
	Motors() []*motor.Motor
}

// MotorsCluster addresses motors by name. Names are taken when a motor is
// added; rename motors before adding them.
type MotorsCluster struct {
	mu     sync.RWMutex
	motors map[string]*motor.Motor
	clock  timeutil.Clock

	// sessionMu serialises writers of session files.
	sessionMu sync.Mutex
}

// New returns a cluster of motors. Duplicate names are ErrNameCollision.
func New(motors ...*motor.Motor) (*MotorsCluster, error) {
	c := &MotorsCluster{
		motors: make(map[string]*motor.Motor, len(motors)),
		clock:  timeutil.RealClock{},
	}
	if err := c.Add(motors...); err != nil {
		return nil, err
	}
	return c, nil
}

// SetClock replaces the clock used by WaitAllStop.
func (c *MotorsCluster) SetClock(clock timeutil.Clock) {
	c.mu.Lock()
	c.clock = clock
	c.mu.Unlock()
}

// Add inserts motors. Adding a motor that is already present is a no-op;
// adding a different motor under a taken name is ErrNameCollision and adds
// none of motors.
func (c *MotorsCluster) Add(motors ...*motor.Motor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := make(map[string]*motor.Motor, len(motors))
	for _, m := range motors {
		name := m.Name()
		if prev, ok := c.motors[name]; ok && prev != m {
			return fmt.Errorf("%w: %q", ErrNameCollision, name)
		}
		if prev, ok := pending[name]; ok && prev != m {
			return fmt.Errorf("%w: %q", ErrNameCollision, name)
		}
		pending[name] = m
	}
	for name, m := range pending {
		c.motors[name] = m
	}
	return nil
}

// Remove drops motors that are in the cluster and ignores the others.
func (c *MotorsCluster) Remove(motors ...*motor.Motor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range motors {
		for name, have := range c.motors {
			if have == m {
				delete(c.motors, name)
			}
		}
	}
}

func (c *MotorsCluster) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.motors)
}

// Names returns the motor names in sorted order.
func (c *MotorsCluster) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.motors))
	for name := range c.motors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Motors returns the motors ordered by name.
func (c *MotorsCluster) Motors() []*motor.Motor {
	names := c.Names()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*motor.Motor, 0, len(names))
	for _, name := range names {
		if m, ok := c.motors[name]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *MotorsCluster) Motor(name string) (*motor.Motor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.motors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMotor, name)
	}
	return m, nil
}

// MotorsByName returns the named motors in the order given.
func (c *MotorsCluster) MotorsByName(names []string) ([]*motor.Motor, error) {
	if err := c.checkNames(names); err != nil {
		return nil, err
	}
	out := make([]*motor.Motor, len(names))
	for i, name := range names {
		out[i], _ = c.Motor(name)
	}
	return out, nil
}

// checkNames reports every name that is not in the cluster.
func (c *MotorsCluster) checkNames(names []string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var missing []string
	for _, name := range names {
		if _, ok := c.motors[name]; !ok {
			missing = append(missing, fmt.Sprintf("%q", name))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrUnknownMotor, strings.Join(missing, ", "))
	}
	return nil
}

// Stop stops every motor, continuing past failures.
func (c *MotorsCluster) Stop() error {
	var errs []error
	for _, m := range c.Motors() {
		if err := m.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops every motor.
func (c *MotorsCluster) Close() error { return c.Stop() }

// GoTo sends each named motor to its destination, under the same rules
// as Go.
func (c *MotorsCluster) GoTo(destinations map[string]float64, units motor.Units, opts motor.MoveOptions) error {
	return c.move(destinations, "go to", func(m *motor.Motor, v float64) error {
		return m.GoTo(v, units, opts)
	}, opts.Wait)
}

// Go shifts each named motor. Unknown names fail the call before any motor
// moves. Without opts.Wait the commands are sent one after another; with
// it every motor moves and waits on its own goroutine and all failures
// are returned together.
func (c *MotorsCluster) Go(shifts map[string]float64, units motor.Units, opts motor.MoveOptions) error {
	return c.move(shifts, "go", func(m *motor.Motor, v float64) error {
		return m.Go(v, units, opts)
	}, opts.Wait)
}

func (c *MotorsCluster) move(values map[string]float64, kind string, fn func(*motor.Motor, float64) error, parallel bool) error {
	names := sortedKeys(values)
	motors, err := c.MotorsByName(names)
	if err != nil {
		return err
	}

	run := uuid.NewString()
	monitoring.Logf("cluster: %s %s: %d motors", kind, run, len(motors))

	errs := make([]error, len(motors))
	if !parallel {
		for i, m := range motors {
			errs[i] = fn(m, values[names[i]])
		}
	} else {
		var wg sync.WaitGroup
		for i, m := range motors {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = fn(m, values[names[i]])
			}()
		}
		wg.Wait()
	}

	err = errors.Join(errs...)
	if err != nil {
		monitoring.Logf("cluster: %s %s failed: %v", kind, run, err)
	}
	return err
}

// Positions reads the named motors, or all motors when names is empty.
func (c *MotorsCluster) Positions(units motor.Units, names ...string) (map[string]float64, error) {
	if len(names) == 0 {
		names = c.Names()
	}
	motors, err := c.MotorsByName(names)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(motors))
	for i, m := range motors {
		pos, err := m.Position(units)
		if err != nil {
			return nil, err
		}
		out[names[i]] = pos
	}
	return out, nil
}

// AllStand reports whether every motor is at rest.
func (c *MotorsCluster) AllStand() (bool, error) {
	for _, m := range c.Motors() {
		stand, err := m.Stand()
		if err != nil || !stand {
			return false, err
		}
	}
	return true, nil
}

// WaitAllStop blocks until every motor stands or stop is requested.
func (c *MotorsCluster) WaitAllStop(stop motor.StopIndicator) error {
	c.mu.RLock()
	clock := c.clock
	c.mu.RUnlock()

	return timeutil.Poll(clock, standBackoff, func() (bool, error) {
		stand, err := c.AllStand()
		if err != nil || stand {
			return stand, err
		}
		if stop != nil && stop.StopRequested() {
			return false, motor.ErrCancelled
		}
		return false, nil
	})
}

// Calibratable returns the motors with initiators or an encoder.
func (c *MotorsCluster) Calibratable() []*motor.Motor {
	return c.filter(func(m *motor.Motor) bool { return m.IsCalibratable() })
}

// NotCalibratable returns the motors Calibrate cannot handle.
func (c *MotorsCluster) NotCalibratable() []*motor.Motor {
	return c.filter(func(m *motor.Motor) bool { return !m.IsCalibratable() })
}

func (c *MotorsCluster) filter(keep func(*motor.Motor) bool) []*motor.Motor {
	var out []*motor.Motor
	for _, m := range c.Motors() {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// BaseCalibration runs the controller reference procedure of motors, or
// of every motor when none are given.
func (c *MotorsCluster) BaseCalibration(motors ...*motor.Motor) error {
	if len(motors) == 0 {
		motors = c.Motors()
	}
	var errs []error
	for _, m := range motors {
		if err := m.BaseCalibration(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CalibrateRequest selects the motors of CalibrateMotors. With neither
// Motors nor Names set, every calibratable motor is calibrated and the
// others get a base calibration.
type CalibrateRequest struct {
	Motors     []*motor.Motor
	Names      []string
	Parallel   bool
	Stop       motor.StopIndicator
	Reporter   motor.WaitReporter
	GoToMiddle bool
}

// CalibrateMotors calibrates the requested motors and returns every
// failure.
func (c *MotorsCluster) CalibrateMotors(req CalibrateRequest) error {
	var errs []error
	motors := req.Motors
	all := len(req.Motors) == 0 && len(req.Names) == 0
	switch {
	case all:
		motors = c.Calibratable()
		if err := c.BaseCalibration(c.NotCalibratable()...); err != nil {
			errs = append(errs, err)
		}
	case len(motors) == 0:
		var err error
		if motors, err = c.MotorsByName(req.Names); err != nil {
			return err
		}
	}

	names := make([]string, len(motors))
	for i, m := range motors {
		names[i] = m.Name()
	}
	if req.Reporter != nil {
		req.Reporter.SetWaitList(names)
	}

	run := uuid.NewString()
	monitoring.Logf("cluster: calibration %s: %s", run, strings.Join(names, ", "))
	opts := motor.CalibrateOptions{Stop: req.Stop, Reporter: req.Reporter, GoToMiddle: req.GoToMiddle}
	results := make([]error, len(motors))
	if req.Parallel {
		var wg sync.WaitGroup
		for i, m := range motors {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = m.Calibrate(opts)
			}()
		}
		wg.Wait()
	} else {
		for i, m := range motors {
			results[i] = m.Calibrate(opts)
		}
	}
	errs = append(errs, results...)

	err := errors.Join(errs...)
	if err != nil {
		monitoring.Logf("cluster: calibration %s failed: %v", run, err)
	} else if all {
		monitoring.Logf("cluster: calibration %s: all motors calibrated", run)
	}
	return err
}

// Action runs at each reached waypoint of a path.
type Action[T any] func(index int, point map[string]float64) (T, error)

// PathTravel visits the waypoints of path in order, moving the named
// motors together and verifying arrival, then runs action. It returns the
// action results collected so far. A cancelled travel stops at the current
// waypoint and returns motor.ErrCancelled with the partial results; a
// missed waypoint is ErrTravel.
func PathTravel[T any](c *MotorsCluster, path []map[string]float64, action Action[T], units motor.Units, stop motor.StopIndicator, reporter motor.WaitReporter) ([]T, error) {
	run := uuid.NewString()
	monitoring.Logf("cluster: path travel %s: %d points", run, len(path))

	var results []T
	for i, point := range path {
		if reporter != nil {
			reporter.SetWaitList(sortedKeys(point))
		}
		err := c.GoTo(point, units, motor.MoveOptions{Wait: true, Check: true, Stop: stop, Reporter: reporter})
		if stop != nil && stop.StopRequested() {
			monitoring.Logf("cluster: path travel %s cancelled at point %d", run, i)
			return results, motor.ErrCancelled
		}
		if errors.Is(err, ErrUnknownMotor) {
			return results, err
		}
		if err != nil {
			return results, fmt.Errorf("%w: point %d: %w", ErrTravel, i, err)
		}
		res, err := action(i, point)
		if err != nil {
			return results, fmt.Errorf("point %d: %w", i, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
