// Package box groups the controllers and motors reachable through one
// communicator.
package box

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/motorbox/internal/cluster"
	"github.com/banshee-data/motorbox/internal/communicator"
	"github.com/banshee-data/motorbox/internal/config"
	"github.com/banshee-data/motorbox/internal/monitoring"
	"github.com/banshee-data/motorbox/internal/motor"
)

// ErrNoMotor is returned when a coordinate or name matches no motor of the
// box.
var ErrNoMotor = errors.New("no such motor")

// Box owns a communicator and the controllers behind it.
type Box struct {
	comm communicator.Communicator

	mu          sync.RWMutex
	name        string
	controllers map[int]*Controller
	report      string
}

func newBox(comm communicator.Communicator) *Box {
	return &Box{comm: comm, controllers: make(map[int]*Controller)}
}

// New discovers every controller and axis behind comm and creates a motor
// with the default configuration for each.
func New(comm communicator.Communicator) (*Box, error) {
	monitoring.Logf("box: %s discovery started", comm.Vendor())
	buses, err := comm.BusList()
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}

	b := newBox(comm)
	var (
		lines strings.Builder
		nAxes int
	)
	for _, bus := range buses {
		c := newController(comm, bus)
		if err := c.MakeMotors(); err != nil {
			return nil, fmt.Errorf("discovery: %w", err)
		}
		b.controllers[bus] = c
		nAxes += len(c.motors)
		fmt.Fprintf(&lines, "Controller %d (%d axes)\n", bus, len(c.motors))
	}
	if _, err := cluster.New(b.Motors()...); err != nil {
		return nil, err
	}

	b.report = fmt.Sprintf("Box initialised. %d controllers and %d axes found:\n", len(buses), nAxes) + lines.String()
	monitoring.Logf("box: %s", b.report)
	return b, nil
}

// NewFromInput creates the motors listed in in. Controllers that do not
// answer and axes a controller does not have are skipped and noted in the
// report.
func NewFromInput(comm communicator.Communicator, in config.Input) (*Box, error) {
	monitoring.Logf("box: %s initialisation from input table started", comm.Vendor())

	b := newBox(comm)
	var (
		notes  strings.Builder
		absent []int
	)
	for _, bus := range in.Buses {
		if ok, msg := comm.BusCheck(bus); !ok {
			monitoring.Logf("box: no controller on bus %d: %s", bus, msg)
			absent = append(absent, bus)
			continue
		}
		b.controllers[bus] = newController(comm, bus)
	}
	switch len(absent) {
	case 0:
	case 1:
		fmt.Fprintf(&notes, "Controller %d is not connected and was not initialised.\n", absent[0])
	default:
		fmt.Fprintf(&notes, "Controllers %v are not connected and were not initialised.\n", absent)
	}

	axesByBus := make(map[int][]int, len(b.controllers))
	nMotors := 0
	for _, row := range in.Motors {
		c, ok := b.controllers[row.Coord.Bus]
		if !ok {
			continue
		}
		axes, seen := axesByBus[c.Bus]
		if !seen {
			var err error
			if axes, err = comm.AxesList(c.Bus); err != nil {
				return nil, fmt.Errorf("controller %d: %w", c.Bus, err)
			}
			axesByBus[c.Bus] = axes
		}
		if !slices.Contains(axes, row.Coord.Axis) {
			fmt.Fprintf(&notes, "Axis %d is not present on controller %d, the motor was not initialised.\n", row.Coord.Axis, c.Bus)
			continue
		}

		m, err := motor.New(comm, c.Bus, row.Coord.Axis)
		if err != nil {
			return nil, err
		}
		if err := m.ApplyConfig(row.Config); err != nil {
			return nil, fmt.Errorf("motor %s: %w", row.Coord, err)
		}
		if row.Name != "" {
			m.SetName(row.Name)
		}
		if err := m.SetParameters(row.Parameters); err != nil {
			return nil, fmt.Errorf("motor %s: %w", m.Name(), err)
		}
		c.addMotor(m)
		nMotors++
	}
	if _, err := cluster.New(b.Motors()...); err != nil {
		return nil, err
	}

	var report strings.Builder
	fmt.Fprintf(&report, "%d controllers and %d motors initialised:\n", len(b.controllers), nMotors)
	report.WriteString(notes.String())
	for _, c := range b.Controllers() {
		names := make([]string, 0, len(c.motors))
		for _, m := range c.Motors() {
			names = append(names, m.Name())
		}
		fmt.Fprintf(&report, "Controller %d: %s\n", c.Bus, strings.Join(names, ", "))
	}
	b.report = report.String()
	monitoring.Logf("box: %s", b.report)
	return b, nil
}

// Communicator returns the communicator of the box.
func (b *Box) Communicator() communicator.Communicator { return b.comm }

// Name returns the name the box was registered under, if any.
func (b *Box) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

func (b *Box) SetName(name string) {
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
}

// Report describes what the initialisation found.
func (b *Box) Report() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.report
}

// Controllers returns the controllers by bus.
func (b *Box) Controllers() []*Controller {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Controller, 0, len(b.controllers))
	for _, bus := range b.controllersListLocked() {
		out = append(out, b.controllers[bus])
	}
	return out
}

// Controller returns the controller on bus.
func (b *Box) Controller(bus int) (*Controller, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.controllers[bus]
	return c, ok
}

// ControllersList returns the bus numbers of the controllers.
func (b *Box) ControllersList() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.controllersListLocked()
}

func (b *Box) controllersListLocked() []int {
	buses := make([]int, 0, len(b.controllers))
	for bus := range b.controllers {
		buses = append(buses, bus)
	}
	sort.Ints(buses)
	return buses
}

// Motors returns every motor of the box by bus, then axis. Box satisfies
// cluster.MotorSet.
func (b *Box) Motors() []*motor.Motor {
	var motors []*motor.Motor
	for _, c := range b.Controllers() {
		motors = append(motors, c.Motors()...)
	}
	return motors
}

// MotorsList returns the coordinates of every motor.
func (b *Box) MotorsList() []motor.Coord {
	motors := b.Motors()
	coords := make([]motor.Coord, len(motors))
	for i, m := range motors {
		coords[i] = m.Coord()
	}
	return coords
}

// Motor returns the motor at bus and axis.
func (b *Box) Motor(bus, axis int) (*motor.Motor, error) {
	c, ok := b.Controller(bus)
	if !ok {
		return nil, fmt.Errorf("%w: %d.%d", ErrNoMotor, bus, axis)
	}
	return c.Motor(axis)
}

// MotorByName returns the motor currently named name.
func (b *Box) MotorByName(name string) (*motor.Motor, error) {
	for _, m := range b.Motors() {
		if m.Name() == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoMotor, name)
}

// Cluster returns a new cluster holding the motors of the box. Changes to
// the cluster do not affect the box.
func (b *Box) Cluster() (*cluster.MotorsCluster, error) {
	return cluster.New(b.Motors()...)
}

// Parameters reads the vendor parameters of every motor.
func (b *Box) Parameters() (map[motor.Coord]map[string]float64, error) {
	out := make(map[motor.Coord]map[string]float64)
	for _, m := range b.Motors() {
		values, err := m.Parameters()
		if err != nil {
			return nil, fmt.Errorf("motor %s: %w", m.Name(), err)
		}
		out[m.Coord()] = values
	}
	return out, nil
}

// SetParameters writes vendor parameters by coordinate. Coordinates
// without a motor are logged and skipped.
func (b *Box) SetParameters(values map[motor.Coord]map[string]float64) error {
	var errs []error
	for _, coord := range sortedCoords(values) {
		m, err := b.Motor(coord.Bus, coord.Axis)
		if err != nil {
			monitoring.Logf("box: motor %s is not connected and cannot be configured", coord)
			continue
		}
		if err := m.SetParameters(values[coord]); err != nil {
			errs = append(errs, fmt.Errorf("motor %s: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SetMotorsConfig applies loosely typed settings by coordinate, see
// motor.Motor.SetConfig.
func (b *Box) SetMotorsConfig(configs map[motor.Coord]map[string]any) error {
	var errs []error
	for _, coord := range sortedCoords(configs) {
		m, err := b.Motor(coord.Bus, coord.Axis)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.SetConfig(configs[coord]); err != nil {
			errs = append(errs, fmt.Errorf("motor %s: %w", coord, err))
		}
	}
	return errors.Join(errs...)
}

func sortedCoords[V any](m map[motor.Coord]V) []motor.Coord {
	coords := make([]motor.Coord, 0, len(m))
	for c := range m {
		coords = append(coords, c)
	}
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].Bus != coords[j].Bus {
			return coords[i].Bus < coords[j].Bus
		}
		return coords[i].Axis < coords[j].Axis
	})
	return coords
}

// SetTolerance sets the positioning tolerance of the communicator, in
// controller units.
func (b *Box) SetTolerance(tol float64) { b.comm.SetTolerance(tol) }

// Command sends a raw command to the box as a whole.
func (b *Box) Command(raw []byte) ([]byte, error) { return b.comm.CommandToBox(raw) }

// Stop stops every motor of the box.
func (b *Box) Stop() error {
	var errs []error
	for _, c := range b.Controllers() {
		if err := c.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops the motors and closes the communicator.
func (b *Box) Close() error {
	stopErr := b.Stop()
	if err := b.comm.Close(); err != nil {
		return errors.Join(stopErr, err)
	}
	return stopErr
}

// EmptyInputTemplate writes an input table listing the motors of the box
// with the vendor parameter columns left empty.
func (b *Box) EmptyInputTemplate(w io.Writer) error {
	motors := b.Motors()
	rows := make([]config.TemplateMotor, len(motors))
	for i, m := range motors {
		rows[i] = config.TemplateMotor{Name: m.Name(), Coord: m.Coord()}
	}
	return config.WriteInputTemplate(w, b.comm.ParameterDefaults(), rows)
}
